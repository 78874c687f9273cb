package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examportal/internal/apperr"
	"examportal/internal/audit"
	"examportal/internal/db"
	"examportal/internal/ledger"
	"examportal/internal/metrics"
	"examportal/internal/model"
)

var fixedNow = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *db.MemoryStore
	svc        *Service
	userID     uuid.UUID
	adminID    uuid.UUID
	categories []model.Category
	pkg        model.Package
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	f := &fixture{store: store, userID: uuid.New(), adminID: uuid.New()}

	require.NoError(t, store.CreateUser(ctx, model.User{ID: f.userID, Email: "user@example.com", Role: model.RoleStandard}))
	require.NoError(t, store.CreateUser(ctx, model.User{ID: f.adminID, Email: "admin@example.com", Role: model.RoleAdmin}))
	for i, days := range []int{365, 90, 180} {
		category := model.Category{
			ID:           uuid.New(),
			NameEN:       []string{"Road signs", "Priority", "First aid"}[i],
			Price:        decimal.RequireFromString("19.90"),
			DurationDays: days,
			Active:       true,
		}
		require.NoError(t, store.CreateCategory(ctx, category))
		f.categories = append(f.categories, category)
	}
	f.pkg = model.Package{
		ID:           uuid.New(),
		NameEN:       "Full course",
		Price:        decimal.RequireFromString("49.00"),
		DurationDays: 30,
		Active:       true,
		CategoryIDs:  []uuid.UUID{f.categories[0].ID, f.categories[1].ID, f.categories[2].ID},
	}
	require.NoError(t, store.CreatePackage(ctx, f.pkg))

	f.svc = NewService(store, audit.NewRecorder(store, nil), metrics.Noop(), nil, 365)
	f.svc.SetClock(func() time.Time { return fixedNow })
	return f
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	targets := Targets{CategoryIDs: []uuid.UUID{f.categories[0].ID}, PackageIDs: []uuid.UUID{f.pkg.ID}}

	first, err := f.svc.Submit(ctx, f.userID, targets)
	require.NoError(t, err)
	assert.Len(t, first.Created, 2)
	assert.Empty(t, first.Skipped)

	second, err := f.svc.Submit(ctx, f.userID, targets)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	require.Len(t, second.Skipped, 2)
	for _, skip := range second.Skipped {
		assert.Equal(t, SkipAlreadyPending, skip.Reason)
	}

	pending, err := f.store.ListPendingRequests(ctx, &f.userID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSubmitSkipsEntitledCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := ledger.Apply(ctx, f.store, ledger.Grant{UserID: f.userID, CategoryID: f.categories[0].ID, GrantedAt: fixedNow})
	require.NoError(t, err)

	result, err := f.svc.Submit(ctx, f.userID, Targets{CategoryIDs: []uuid.UUID{f.categories[0].ID, f.categories[1].ID}})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, f.categories[1].ID, *result.Created[0].CategoryID)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipAlreadyEntitled, result.Skipped[0].Reason)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), f.userID, Targets{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Submit(context.Background(), f.userID, Targets{CategoryIDs: []uuid.UUID{uuid.New()}})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApprovePackageRequestGrantsEveryCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submitted, err := f.svc.Submit(ctx, f.userID, Targets{PackageIDs: []uuid.UUID{f.pkg.ID}})
	require.NoError(t, err)
	require.Len(t, submitted.Created, 1)
	requestID := submitted.Created[0].ID

	days := 30
	result, err := f.svc.Approve(ctx, f.adminID, ApproveInput{RequestID: &requestID, DurationDays: &days})
	require.NoError(t, err)
	require.Len(t, result.Entitlements, 3)

	want := fixedNow.AddDate(0, 0, 30)
	for _, category := range f.categories {
		ent, err := f.store.GetEntitlement(ctx, f.userID, category.ID)
		require.NoError(t, err)
		require.NotNil(t, ent.ExpiresAt)
		assert.True(t, ent.ExpiresAt.Equal(want))
	}

	req, err := f.store.GetAccessRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, req.Status)
	require.NotNil(t, req.ProcessedBy)
	assert.Equal(t, f.adminID, *req.ProcessedBy)
	assert.Len(t, f.store.AuditEntries(), 2)
}

func TestApproveExpiryPrecedence(t *testing.T) {
	explicit := fixedNow.AddDate(0, 2, 0)
	days := 10

	cases := map[string]struct {
		in   func(id uuid.UUID) ApproveInput
		want time.Time
	}{
		"explicit date wins": {
			in:   func(id uuid.UUID) ApproveInput { return ApproveInput{RequestID: &id, ExpiresAt: &explicit, DurationDays: &days} },
			want: explicit,
		},
		"duration over catalog": {
			in:   func(id uuid.UUID) ApproveInput { return ApproveInput{RequestID: &id, DurationDays: &days} },
			want: fixedNow.AddDate(0, 0, 10),
		},
		"catalog duration": {
			in:   func(id uuid.UUID) ApproveInput { return ApproveInput{RequestID: &id} },
			want: fixedNow.AddDate(0, 0, 90),
		},
	}
	for name, tc := range cases {
		f := newFixture(t)
		ctx := context.Background()
		submitted, err := f.svc.Submit(ctx, f.userID, Targets{CategoryIDs: []uuid.UUID{f.categories[1].ID}})
		require.NoError(t, err, name)

		_, err = f.svc.Approve(ctx, f.adminID, tc.in(submitted.Created[0].ID))
		require.NoError(t, err, name)

		ent, err := f.store.GetEntitlement(ctx, f.userID, f.categories[1].ID)
		require.NoError(t, err, name)
		require.NotNil(t, ent.ExpiresAt, name)
		assert.True(t, ent.ExpiresAt.Equal(tc.want), "%s: got %s", name, ent.ExpiresAt)
	}
}

func TestApproveDirectMarksPendingApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, f.userID, Targets{CategoryIDs: []uuid.UUID{f.categories[2].ID}})
	require.NoError(t, err)

	result, err := f.svc.Approve(ctx, f.adminID, ApproveInput{UserID: &f.userID, CategoryIDs: []uuid.UUID{f.categories[2].ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.ApprovedRequests)

	pending, err := f.store.ListPendingRequests(ctx, &f.userID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	ok, err := ledger.HasAccess(ctx, f.store, f.userID, f.categories[2].ID, fixedNow)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApproveTwiceIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted, err := f.svc.Submit(ctx, f.userID, Targets{CategoryIDs: []uuid.UUID{f.categories[0].ID}})
	require.NoError(t, err)
	id := submitted.Created[0].ID

	_, err = f.svc.Approve(ctx, f.adminID, ApproveInput{RequestID: &id})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, f.adminID, ApproveInput{RequestID: &id})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeRequestNotFound, apperr.CodeOf(err))

	missing := uuid.New()
	_, err = f.svc.Approve(ctx, f.adminID, ApproveInput{RequestID: &missing})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApproveRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted, err := f.svc.Submit(ctx, f.userID, Targets{PackageIDs: []uuid.UUID{f.pkg.ID}})
	require.NoError(t, err)
	id := submitted.Created[0].ID

	f.store.InjectFault("UpsertEntitlement", errors.New("write failed"))
	_, err = f.svc.Approve(ctx, f.adminID, ApproveInput{RequestID: &id})
	require.Error(t, err)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	req, err := f.store.GetAccessRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, req.Status)
	ents, err := f.store.ListEntitlements(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submitted, err := f.svc.Submit(ctx, f.userID, Targets{CategoryIDs: []uuid.UUID{f.categories[0].ID}})
	require.NoError(t, err)
	id := submitted.Created[0].ID

	require.NoError(t, f.svc.Reject(ctx, f.adminID, id, "payment not received"))
	req, err := f.store.GetAccessRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, req.Status)
	assert.Equal(t, "payment not received", req.Notes)

	err = f.svc.Reject(ctx, f.adminID, id, "again")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.Approve(ctx, f.adminID, ApproveInput{RequestID: &id})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGrantWithoutExpiryNeverExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ents, err := f.svc.Grant(ctx, f.adminID, GrantInput{UserID: f.userID, CategoryIDs: []uuid.UUID{f.categories[0].ID}})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Nil(t, ents[0].ExpiresAt)

	ok, err := ledger.HasAccess(ctx, f.store, f.userID, f.categories[0].ID, fixedNow.AddDate(20, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListPendingIncludesNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Submit(ctx, f.userID, Targets{PackageIDs: []uuid.UUID{f.pkg.ID}})
	require.NoError(t, err)

	views, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "user@example.com", views[0].UserEmail)
	assert.Equal(t, "Full course", views[0].TargetName)
	assert.True(t, views[0].Price.Equal(decimal.RequireFromString("49")))
}
