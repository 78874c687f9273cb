package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"examportal/internal/model"
)

// Querier is the unit-of-work surface shared by the Postgres and in-memory
// backends. Lookups that find nothing return pgx.ErrNoRows.
type Querier interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	SetUserSuspended(ctx context.Context, id uuid.UUID, suspended bool) (int64, error)

	CreateCategory(ctx context.Context, category model.Category) error
	GetCategory(ctx context.Context, id uuid.UUID) (model.Category, error)
	CreatePackage(ctx context.Context, pkg model.Package) error
	GetPackage(ctx context.Context, id uuid.UUID) (model.Package, error)

	CreateQuestion(ctx context.Context, question model.Question) error
	ListPoolQuestionIDs(ctx context.Context, categoryID uuid.UUID) ([]uuid.UUID, error)
	GetQuestions(ctx context.Context, ids []uuid.UUID) ([]model.Question, error)
	RecountCategoryQuestions(ctx context.Context, categoryID uuid.UUID) (int, error)

	GetEntitlement(ctx context.Context, userID, categoryID uuid.UUID) (model.Entitlement, error)
	UpsertEntitlement(ctx context.Context, ent model.Entitlement) error
	ListEntitlements(ctx context.Context, userID uuid.UUID) ([]model.Entitlement, error)

	InsertAccessRequest(ctx context.Context, req model.AccessRequest) (bool, error)
	GetAccessRequest(ctx context.Context, id uuid.UUID) (model.AccessRequest, error)
	HasPendingCategoryRequest(ctx context.Context, userID, categoryID uuid.UUID) (bool, error)
	HasPendingPackageRequest(ctx context.Context, userID, packageID uuid.UUID) (bool, error)
	ProcessAccessRequest(ctx context.Context, params ProcessRequestParams) (int64, error)
	ApprovePendingCategoryRequests(ctx context.Context, userID uuid.UUID, categoryIDs []uuid.UUID, by uuid.UUID, at time.Time) (int64, error)
	ListPendingRequests(ctx context.Context, userID *uuid.UUID) ([]model.AccessRequest, error)

	InsertSession(ctx context.Context, session model.ExamSession) error
	GetSession(ctx context.Context, id uuid.UUID, forUpdate bool) (model.ExamSession, error)
	FindActiveSession(ctx context.Context, userID, categoryID uuid.UUID) (model.ExamSession, error)
	UpsertAnswer(ctx context.Context, sessionID, questionID uuid.UUID, option model.Option, at time.Time) error
	CompleteSession(ctx context.Context, session model.ExamSession, correct map[uuid.UUID]bool) error
	ListSessionAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.SessionAnswer, error)
	ListCompletedSessions(ctx context.Context, userID uuid.UUID, categoryID *uuid.UUID, limit int) ([]model.ExamSession, error)
	DeleteCompletedBeyond(ctx context.Context, userID, categoryID uuid.UUID, keep int) (int64, error)
	ListOverdueSessions(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)

	InsertAudit(ctx context.Context, entry model.AuditEntry) error
}

// ProcessRequestParams moves a PENDING request to Status. Zero rows affected
// means the request is missing or was already processed.
type ProcessRequestParams struct {
	ID          uuid.UUID
	Status      model.RequestStatus
	ProcessedBy uuid.UUID
	ProcessedAt time.Time
	Notes       string
}

// Store runs units of work against a backend.
type Store interface {
	Querier
	WithTx(ctx context.Context, fn func(Querier) error) error
	Ping(ctx context.Context) error
}
