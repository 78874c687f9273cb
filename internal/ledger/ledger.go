// Package ledger records which users may use which categories and until when.
// It performs no authorization; callers decide who may grant.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"examportal/internal/apperr"
	"examportal/internal/db"
	"examportal/internal/model"
)

// HasAccess is true iff an entitlement exists that never expires or expires after now.
func HasAccess(ctx context.Context, q db.Querier, userID, categoryID uuid.UUID, now time.Time) (bool, error) {
	ent, err := q.GetEntitlement(ctx, userID, categoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, apperr.Persistence("get entitlement", err)
	}
	return ent.ActiveAt(now), nil
}

type Grant struct {
	UserID     uuid.UUID
	CategoryID uuid.UUID
	ExpiresAt  *time.Time
	GrantedBy  *uuid.UUID
	GrantedAt  time.Time
	// Override replaces the stored expiry even when it would shorten access.
	Override bool
}

// Apply upserts the entitlement for the pair. Without Override an existing
// later or non-expiring expiry is kept.
func Apply(ctx context.Context, q db.Querier, g Grant) (model.Entitlement, error) {
	ent := model.Entitlement{
		UserID:     g.UserID,
		CategoryID: g.CategoryID,
		ExpiresAt:  g.ExpiresAt,
		GrantedAt:  g.GrantedAt,
		GrantedBy:  g.GrantedBy,
	}
	if !g.Override {
		current, err := q.GetEntitlement(ctx, g.UserID, g.CategoryID)
		switch {
		case err == nil:
			ent.ExpiresAt = laterExpiry(current.ExpiresAt, g.ExpiresAt)
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return model.Entitlement{}, apperr.Persistence("get entitlement", err)
		}
	}
	if err := q.UpsertEntitlement(ctx, ent); err != nil {
		return model.Entitlement{}, apperr.Persistence("upsert entitlement", err)
	}
	return ent, nil
}

func List(ctx context.Context, q db.Querier, userID uuid.UUID) ([]model.Entitlement, error) {
	ents, err := q.ListEntitlements(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("list entitlements", err)
	}
	return ents, nil
}

// laterExpiry treats nil as never expiring.
func laterExpiry(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if a.After(*b) {
		return a
	}
	return b
}

// ExpiryAfter returns now advanced by days, in UTC.
func ExpiryAfter(now time.Time, days int) *time.Time {
	expires := now.UTC().AddDate(0, 0, days)
	return &expires
}
