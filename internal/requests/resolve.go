package requests

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"examportal/internal/apperr"
	"examportal/internal/db"
	"examportal/internal/ledger"
	"examportal/internal/model"
)

type grantTarget struct {
	categoryID   uuid.UUID
	defaultDays  int
	neverExpires bool
}

// resolveRequest expands a request into categories. Package membership is
// read at approval time.
func (s *Service) resolveRequest(ctx context.Context, q db.Querier, req model.AccessRequest) ([]grantTarget, error) {
	if req.CategoryID != nil {
		category, err := loadCategory(ctx, q, *req.CategoryID)
		if err != nil {
			return nil, err
		}
		return []grantTarget{{categoryID: category.ID, defaultDays: category.DurationDays}}, nil
	}
	pkg, err := loadPackage(ctx, q, *req.PackageID)
	if err != nil {
		return nil, err
	}
	grants := make([]grantTarget, 0, len(pkg.CategoryIDs))
	for _, categoryID := range pkg.CategoryIDs {
		grants = append(grants, grantTarget{categoryID: categoryID, defaultDays: pkg.DurationDays})
	}
	return grants, nil
}

func (s *Service) applyGrants(ctx context.Context, q db.Querier, userID, adminID uuid.UUID, grants []grantTarget, expiresAt *time.Time, durationDays *int, override bool, now time.Time) ([]model.Entitlement, error) {
	ents := make([]model.Entitlement, 0, len(grants))
	for _, g := range grants {
		ent, err := ledger.Apply(ctx, q, ledger.Grant{
			UserID:     userID,
			CategoryID: g.categoryID,
			ExpiresAt:  s.expiryFor(g, expiresAt, durationDays, now),
			GrantedBy:  &adminID,
			GrantedAt:  now,
			Override:   override,
		})
		if err != nil {
			return nil, err
		}
		ents = append(ents, ent)
	}
	return ents, nil
}

// expiryFor picks the explicit date, then the explicit duration, then the
// catalog duration of what was requested.
func (s *Service) expiryFor(g grantTarget, expiresAt *time.Time, durationDays *int, now time.Time) *time.Time {
	switch {
	case expiresAt != nil:
		at := expiresAt.UTC()
		return &at
	case durationDays != nil:
		return ledger.ExpiryAfter(now, *durationDays)
	case g.neverExpires:
		return nil
	case g.defaultDays > 0:
		return ledger.ExpiryAfter(now, g.defaultDays)
	default:
		return ledger.ExpiryAfter(now, s.defaultDays)
	}
}

func (s *Service) validateExpiry(expiresAt *time.Time, durationDays *int) error {
	if durationDays != nil && *durationDays <= 0 {
		return apperr.Validation(apperr.CodeInvalidRequest, "durationDays must be positive")
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return apperr.Validation(apperr.CodeInvalidRequest, "expiresAt must be in the future")
	}
	return nil
}

func holdsAll(ctx context.Context, q db.Querier, userID uuid.UUID, categoryIDs []uuid.UUID, now time.Time) (bool, error) {
	if len(categoryIDs) == 0 {
		return false, nil
	}
	for _, categoryID := range categoryIDs {
		ok, err := ledger.HasAccess(ctx, q, userID, categoryID, now)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func loadUser(ctx context.Context, q db.Querier, id uuid.UUID) (model.User, error) {
	user, err := q.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", id)
		}
		return user, apperr.Persistence("get user", err)
	}
	return user, nil
}

func loadCategory(ctx context.Context, q db.Querier, id uuid.UUID) (model.Category, error) {
	category, err := q.GetCategory(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return category, apperr.NotFound(apperr.CodeCategoryNotFound, "category %s not found", id)
		}
		return category, apperr.Persistence("get category", err)
	}
	return category, nil
}

func loadPackage(ctx context.Context, q db.Querier, id uuid.UUID) (model.Package, error) {
	pkg, err := q.GetPackage(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pkg, apperr.NotFound(apperr.CodePackageNotFound, "package %s not found", id)
		}
		return pkg, apperr.Persistence("get package", err)
	}
	return pkg, nil
}

func requestNotFound() error {
	return apperr.NotFound(apperr.CodeRequestNotFound, "request not found or already processed")
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func targetDetails(req model.AccessRequest) map[string]any {
	if req.PackageID != nil {
		return map[string]any{"package_id": req.PackageID.String()}
	}
	return map[string]any{"category_id": req.CategoryID.String()}
}
