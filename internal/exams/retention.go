package exams

import (
	"context"

	"github.com/google/uuid"

	"examportal/internal/apperr"
	"examportal/internal/db"
)

// prune keeps the newest completed sessions of the pair within the retention
// window. In-progress sessions are never removed.
func (s *Service) prune(ctx context.Context, q db.Querier, userID, categoryID uuid.UUID) (int64, error) {
	removed, err := q.DeleteCompletedBeyond(ctx, userID, categoryID, s.cfg.RetentionWindow)
	if err != nil {
		return 0, apperr.Persistence("prune history", err)
	}
	return removed, nil
}
