// Package audit records administrative and examination events. Recording is
// best effort: failures are logged and never surface to the caller.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"examportal/internal/model"
)

const (
	ActionRequestAccess   = "REQUEST_ACCESS"
	ActionApproveRequest  = "APPROVE_REQUEST"
	ActionRejectRequest   = "REJECT_REQUEST"
	ActionGrantAccess     = "GRANT_ACCESS"
	ActionSuspendUser     = "SUSPEND_USER"
	ActionUnsuspendUser   = "UNSUSPEND_USER"
)

// Writer is the persistence side of the trail.
type Writer interface {
	InsertAudit(ctx context.Context, entry model.AuditEntry) error
}

type Recorder struct {
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(writer Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{writer: writer, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record must be called after the business transaction has committed.
func (r *Recorder) Record(ctx context.Context, actorID *uuid.UUID, action, entityType, entityID string, details map[string]any) {
	if r == nil || r.writer == nil {
		return
	}
	entry := model.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		At:         r.now(),
	}
	if err := r.writer.InsertAudit(ctx, entry); err != nil {
		r.logger.Warn("audit write failed",
			slog.String("action", action),
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.Any("error", err),
		)
	}
}
