package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examportal/internal/db"
)

func TestHasAccessBoundary(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userID, categoryID := uuid.New(), uuid.New()
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, ExpiresAt: &expires, GrantedAt: expires.AddDate(0, 0, -30)})
	require.NoError(t, err)

	cases := map[string]struct {
		now  time.Time
		want bool
	}{
		"one second before": {expires.Add(-time.Second), true},
		"at expiry":         {expires, false},
		"one second after":  {expires.Add(time.Second), false},
	}
	for name, tc := range cases {
		got, err := HasAccess(ctx, store, userID, categoryID, tc.now)
		require.NoError(t, err, name)
		assert.Equal(t, tc.want, got, name)
	}
}

func TestHasAccessWithoutEntitlement(t *testing.T) {
	ok, err := HasAccess(context.Background(), db.NewMemoryStore(), uuid.New(), uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonExpiringEntitlement(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userID, categoryID := uuid.New(), uuid.New()

	_, err := Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, GrantedAt: time.Now()})
	require.NoError(t, err)

	ok, err := HasAccess(ctx, store, userID, categoryID, time.Now().AddDate(50, 0, 0))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestApplyDoesNotShortenWithoutOverride(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userID, categoryID := uuid.New(), uuid.New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	long := now.AddDate(1, 0, 0)
	short := now.AddDate(0, 1, 0)

	_, err := Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, ExpiresAt: &long, GrantedAt: now})
	require.NoError(t, err)

	ent, err := Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, ExpiresAt: &short, GrantedAt: now})
	require.NoError(t, err)
	require.NotNil(t, ent.ExpiresAt)
	assert.True(t, ent.ExpiresAt.Equal(long))

	ent, err = Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, ExpiresAt: &short, GrantedAt: now, Override: true})
	require.NoError(t, err)
	assert.True(t, ent.ExpiresAt.Equal(short))

	stored, err := store.GetEntitlement(ctx, userID, categoryID)
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.Equal(short))
}

func TestApplyKeepsNonExpiring(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	userID, categoryID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	later := now.AddDate(0, 0, 30)

	_, err := Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, GrantedAt: now})
	require.NoError(t, err)
	ent, err := Apply(ctx, store, Grant{UserID: userID, CategoryID: categoryID, ExpiresAt: &later, GrantedAt: now})
	require.NoError(t, err)
	assert.Nil(t, ent.ExpiresAt)
}
