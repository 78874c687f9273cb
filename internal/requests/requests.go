// Package requests implements the access request workflow: users ask for
// categories or packages, administrators approve or reject, and approvals
// become ledger entitlements.
package requests

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"examportal/internal/apperr"
	"examportal/internal/audit"
	"examportal/internal/db"
	"examportal/internal/ledger"
	"examportal/internal/metrics"
	"examportal/internal/model"
)

const (
	TargetCategory = "category"
	TargetPackage  = "package"

	SkipAlreadyEntitled = "already_entitled"
	SkipAlreadyPending  = "already_pending"
)

type Service struct {
	store       db.Store
	audit       *audit.Recorder
	metrics     *metrics.Metrics
	logger      *slog.Logger
	defaultDays int
	now         func() time.Time
}

func NewService(store db.Store, recorder *audit.Recorder, m *metrics.Metrics, logger *slog.Logger, defaultDays int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultDays <= 0 {
		defaultDays = 365
	}
	return &Service{
		store:       store,
		audit:       recorder,
		metrics:     m,
		logger:      logger,
		defaultDays: defaultDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type Targets struct {
	CategoryIDs []uuid.UUID
	PackageIDs  []uuid.UUID
}

type Skipped struct {
	Type   string    `json:"type"`
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

type SubmitResult struct {
	Created []model.AccessRequest `json:"created"`
	Skipped []Skipped             `json:"skipped"`
}

// Submit creates PENDING requests for every target the user neither holds
// nor has already asked for. Repeating a submission creates nothing new.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, targets Targets) (result SubmitResult, err error) {
	defer func() { s.metrics.RecordOperation("request_access", err) }()

	categoryIDs, packageIDs := dedupe(targets.CategoryIDs), dedupe(targets.PackageIDs)
	if len(categoryIDs) == 0 && len(packageIDs) == 0 {
		return SubmitResult{}, apperr.Validation(apperr.CodeNoTargets, "at least one category or package is required")
	}
	now := s.now()

	err = s.store.WithTx(ctx, func(q db.Querier) error {
		result = SubmitResult{}
		for _, categoryID := range categoryIDs {
			if _, err := loadCategory(ctx, q, categoryID); err != nil {
				return err
			}
			entitled, err := ledger.HasAccess(ctx, q, userID, categoryID, now)
			if err != nil {
				return err
			}
			if entitled {
				result.Skipped = append(result.Skipped, Skipped{Type: TargetCategory, ID: categoryID, Reason: SkipAlreadyEntitled})
				continue
			}
			pending, err := q.HasPendingCategoryRequest(ctx, userID, categoryID)
			if err != nil {
				return apperr.Persistence("check pending request", err)
			}
			if pending {
				result.Skipped = append(result.Skipped, Skipped{Type: TargetCategory, ID: categoryID, Reason: SkipAlreadyPending})
				continue
			}
			id := categoryID
			if err := s.insert(ctx, q, &result, model.AccessRequest{UserID: userID, CategoryID: &id, RequestedAt: now}); err != nil {
				return err
			}
		}

		for _, packageID := range packageIDs {
			pkg, err := loadPackage(ctx, q, packageID)
			if err != nil {
				return err
			}
			pending, err := q.HasPendingPackageRequest(ctx, userID, packageID)
			if err != nil {
				return apperr.Persistence("check pending request", err)
			}
			if pending {
				result.Skipped = append(result.Skipped, Skipped{Type: TargetPackage, ID: packageID, Reason: SkipAlreadyPending})
				continue
			}
			held, err := holdsAll(ctx, q, userID, pkg.CategoryIDs, now)
			if err != nil {
				return err
			}
			if held {
				result.Skipped = append(result.Skipped, Skipped{Type: TargetPackage, ID: packageID, Reason: SkipAlreadyEntitled})
				continue
			}
			id := packageID
			if err := s.insert(ctx, q, &result, model.AccessRequest{UserID: userID, PackageID: &id, RequestedAt: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	for _, req := range result.Created {
		s.audit.Record(ctx, &userID, audit.ActionRequestAccess, "access_request", req.ID.String(), targetDetails(req))
	}
	return result, nil
}

// insert relies on the pending-uniqueness constraint to absorb a concurrent duplicate.
func (s *Service) insert(ctx context.Context, q db.Querier, result *SubmitResult, req model.AccessRequest) error {
	req.ID = uuid.New()
	req.Status = model.StatusPending
	inserted, err := q.InsertAccessRequest(ctx, req)
	if err != nil {
		return apperr.Persistence("insert access request", err)
	}
	if !inserted {
		skip := Skipped{Type: TargetCategory, Reason: SkipAlreadyPending}
		if req.PackageID != nil {
			skip.Type, skip.ID = TargetPackage, *req.PackageID
		} else {
			skip.ID = *req.CategoryID
		}
		result.Skipped = append(result.Skipped, skip)
		return nil
	}
	result.Created = append(result.Created, req)
	return nil
}

type ApproveInput struct {
	// RequestID approves one stored request. Otherwise UserID and CategoryIDs name the grant directly.
	RequestID   *uuid.UUID
	UserID      *uuid.UUID
	CategoryIDs []uuid.UUID

	// ExpiresAt takes precedence over DurationDays; both override the catalog duration.
	ExpiresAt    *time.Time
	DurationDays *int
	Override     bool
	Notes        string
}

type ApproveResult struct {
	RequestID        *uuid.UUID          `json:"requestId,omitempty"`
	UserID           uuid.UUID           `json:"userId"`
	Entitlements     []model.Entitlement `json:"entitlements"`
	ApprovedRequests int64               `json:"approvedRequests"`
}

// Approve grants the requested categories and marks the matching pending
// requests APPROVED. Everything happens in one transaction.
func (s *Service) Approve(ctx context.Context, adminID uuid.UUID, in ApproveInput) (result ApproveResult, err error) {
	defer func() { s.metrics.RecordOperation("approve_request", err) }()

	if err := s.validateExpiry(in.ExpiresAt, in.DurationDays); err != nil {
		return ApproveResult{}, err
	}
	if in.RequestID == nil && (in.UserID == nil || len(in.CategoryIDs) == 0) {
		return ApproveResult{}, apperr.Validation(apperr.CodeInvalidRequest, "requestId or userId with categoryIds is required")
	}
	now := s.now()

	err = s.store.WithTx(ctx, func(q db.Querier) error {
		var grants []grantTarget
		var userID uuid.UUID
		var approved int64

		if in.RequestID != nil {
			req, err := q.GetAccessRequest(ctx, *in.RequestID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return requestNotFound()
				}
				return apperr.Persistence("get access request", err)
			}
			if req.Status != model.StatusPending {
				return requestNotFound()
			}
			rows, err := q.ProcessAccessRequest(ctx, db.ProcessRequestParams{
				ID:          req.ID,
				Status:      model.StatusApproved,
				ProcessedBy: adminID,
				ProcessedAt: now,
				Notes:       in.Notes,
			})
			if err != nil {
				return apperr.Persistence("approve access request", err)
			}
			if rows == 0 {
				return requestNotFound()
			}
			approved += rows
			userID = req.UserID
			if grants, err = s.resolveRequest(ctx, q, req); err != nil {
				return err
			}
		} else {
			userID = *in.UserID
			if _, err := loadUser(ctx, q, userID); err != nil {
				return err
			}
			for _, categoryID := range dedupe(in.CategoryIDs) {
				category, err := loadCategory(ctx, q, categoryID)
				if err != nil {
					return err
				}
				grants = append(grants, grantTarget{categoryID: categoryID, defaultDays: category.DurationDays})
			}
		}

		categoryIDs := make([]uuid.UUID, len(grants))
		for i, g := range grants {
			categoryIDs[i] = g.categoryID
		}
		rows, err := q.ApprovePendingCategoryRequests(ctx, userID, categoryIDs, adminID, now)
		if err != nil {
			return apperr.Persistence("approve category requests", err)
		}
		approved += rows

		ents, err := s.applyGrants(ctx, q, userID, adminID, grants, in.ExpiresAt, in.DurationDays, in.Override, now)
		if err != nil {
			return err
		}
		result = ApproveResult{RequestID: in.RequestID, UserID: userID, Entitlements: ents, ApprovedRequests: approved}
		return nil
	})
	if err != nil {
		return ApproveResult{}, err
	}

	s.metrics.RecordGrants(len(result.Entitlements))
	entityID := result.UserID.String()
	if in.RequestID != nil {
		entityID = in.RequestID.String()
	}
	s.audit.Record(ctx, &adminID, audit.ActionApproveRequest, "access_request", entityID, map[string]any{
		"user_id":    result.UserID.String(),
		"categories": len(result.Entitlements),
	})
	return result, nil
}

// Reject marks a PENDING request REJECTED.
func (s *Service) Reject(ctx context.Context, adminID, requestID uuid.UUID, notes string) (err error) {
	defer func() { s.metrics.RecordOperation("reject_request", err) }()

	rows, err := s.store.ProcessAccessRequest(ctx, db.ProcessRequestParams{
		ID:          requestID,
		Status:      model.StatusRejected,
		ProcessedBy: adminID,
		ProcessedAt: s.now(),
		Notes:       notes,
	})
	if err != nil {
		return apperr.Persistence("reject access request", err)
	}
	if rows == 0 {
		return requestNotFound()
	}
	s.audit.Record(ctx, &adminID, audit.ActionRejectRequest, "access_request", requestID.String(), map[string]any{"notes": notes})
	return nil
}

type GrantInput struct {
	UserID       uuid.UUID
	CategoryIDs  []uuid.UUID
	ExpiresAt    *time.Time
	DurationDays *int
	Override     bool
}

// Grant writes entitlements without a request. With neither ExpiresAt nor
// DurationDays the entitlements never expire.
func (s *Service) Grant(ctx context.Context, adminID uuid.UUID, in GrantInput) (ents []model.Entitlement, err error) {
	defer func() { s.metrics.RecordOperation("grant_access", err) }()

	if err := s.validateExpiry(in.ExpiresAt, in.DurationDays); err != nil {
		return nil, err
	}
	categoryIDs := dedupe(in.CategoryIDs)
	if len(categoryIDs) == 0 {
		return nil, apperr.Validation(apperr.CodeNoTargets, "at least one category is required")
	}
	now := s.now()

	err = s.store.WithTx(ctx, func(q db.Querier) error {
		if _, err := loadUser(ctx, q, in.UserID); err != nil {
			return err
		}
		grants := make([]grantTarget, 0, len(categoryIDs))
		for _, categoryID := range categoryIDs {
			if _, err := loadCategory(ctx, q, categoryID); err != nil {
				return err
			}
			grants = append(grants, grantTarget{categoryID: categoryID, neverExpires: true})
		}
		if _, err := q.ApprovePendingCategoryRequests(ctx, in.UserID, categoryIDs, adminID, now); err != nil {
			return apperr.Persistence("approve category requests", err)
		}
		var err error
		ents, err = s.applyGrants(ctx, q, in.UserID, adminID, grants, in.ExpiresAt, in.DurationDays, in.Override, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordGrants(len(ents))
	s.audit.Record(ctx, &adminID, audit.ActionGrantAccess, "user", in.UserID.String(), map[string]any{"categories": len(ents)})
	return ents, nil
}

type PendingView struct {
	Request    model.AccessRequest `json:"request"`
	UserEmail  string              `json:"userEmail"`
	TargetName string              `json:"targetName"`
	Price      decimal.Decimal     `json:"price"`
}

// ListPending returns pending requests oldest first with the names an
// administrator needs to decide on them.
func (s *Service) ListPending(ctx context.Context) ([]PendingView, error) {
	reqs, err := s.store.ListPendingRequests(ctx, nil)
	if err != nil {
		return nil, apperr.Persistence("list pending requests", err)
	}
	views := make([]PendingView, 0, len(reqs))
	for _, req := range reqs {
		view := PendingView{Request: req}
		if user, err := s.store.GetUser(ctx, req.UserID); err == nil {
			view.UserEmail = user.Email
		}
		switch {
		case req.CategoryID != nil:
			if category, err := s.store.GetCategory(ctx, *req.CategoryID); err == nil {
				view.TargetName, view.Price = category.NameEN, category.Price
			}
		case req.PackageID != nil:
			if pkg, err := s.store.GetPackage(ctx, *req.PackageID); err == nil {
				view.TargetName, view.Price = pkg.NameEN, pkg.Price
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// PendingFor lists one user's pending requests.
func (s *Service) PendingFor(ctx context.Context, userID uuid.UUID) ([]model.AccessRequest, error) {
	reqs, err := s.store.ListPendingRequests(ctx, &userID)
	if err != nil {
		return nil, apperr.Persistence("list pending requests", err)
	}
	return reqs, nil
}
