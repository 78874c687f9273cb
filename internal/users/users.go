package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"examportal/internal/apperr"
	"examportal/internal/audit"
	"examportal/internal/db"
	"examportal/internal/ledger"
	"examportal/internal/metrics"
	"examportal/internal/model"
)

type Service struct {
	store        db.Store
	audit        *audit.Recorder
	metrics      *metrics.Metrics
	historyLimit int
	now          func() time.Time
}

func NewService(store db.Store, recorder *audit.Recorder, m *metrics.Metrics, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 25
	}
	return &Service{
		store:        store,
		audit:        recorder,
		metrics:      m,
		historyLimit: historyLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetSuspended blocks or restores a user's ability to authenticate.
// Administrators cannot suspend themselves.
func (s *Service) SetSuspended(ctx context.Context, adminID, userID uuid.UUID, suspended bool) (err error) {
	defer func() { s.metrics.RecordOperation("set_suspended", err) }()

	if adminID == userID && suspended {
		return apperr.Validation(apperr.CodeCannotSuspendSelf, "administrators cannot suspend themselves")
	}
	rows, err := s.store.SetUserSuspended(ctx, userID, suspended)
	if err != nil {
		return apperr.Persistence("set suspended", err)
	}
	if rows == 0 {
		return apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", userID)
	}
	action := audit.ActionUnsuspendUser
	if suspended {
		action = audit.ActionSuspendUser
	}
	s.audit.Record(ctx, &adminID, action, "user", userID.String(), nil)
	return nil
}

type EntitlementView struct {
	CategoryID   uuid.UUID  `json:"categoryId"`
	CategoryName string     `json:"categoryName"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Active       bool       `json:"active"`
}

type Dashboard struct {
	User         model.User            `json:"user"`
	Entitlements []EntitlementView     `json:"entitlements"`
	Pending      []model.AccessRequest `json:"pending"`
	Recent       []model.ExamSession   `json:"recent"`
}

// Dashboard gathers what a user sees on landing: access, open requests and recent results.
func (s *Service) Dashboard(ctx context.Context, userID uuid.UUID) (Dashboard, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dashboard{}, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", userID)
		}
		return Dashboard{}, apperr.Persistence("get user", err)
	}
	ents, err := ledger.List(ctx, s.store, userID)
	if err != nil {
		return Dashboard{}, err
	}
	now := s.now()
	views := make([]EntitlementView, 0, len(ents))
	for _, ent := range ents {
		view := EntitlementView{CategoryID: ent.CategoryID, ExpiresAt: ent.ExpiresAt, Active: ent.ActiveAt(now)}
		if category, err := s.store.GetCategory(ctx, ent.CategoryID); err == nil {
			view.CategoryName = category.NameEN
		}
		views = append(views, view)
	}
	pending, err := s.store.ListPendingRequests(ctx, &userID)
	if err != nil {
		return Dashboard{}, apperr.Persistence("list pending requests", err)
	}
	recent, err := s.store.ListCompletedSessions(ctx, userID, nil, s.historyLimit)
	if err != nil {
		return Dashboard{}, apperr.Persistence("list completed sessions", err)
	}
	return Dashboard{User: user, Entitlements: views, Pending: pending, Recent: recent}, nil
}
