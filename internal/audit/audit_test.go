package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examportal/internal/db"
)

func TestRecordWritesEntry(t *testing.T) {
	store := db.NewMemoryStore()
	recorder := NewRecorder(store, nil)
	actor := uuid.New()

	recorder.Record(context.Background(), &actor, ActionApproveRequest, "access_request", "req-1", map[string]any{"categories": 3})

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionApproveRequest, entries[0].Action)
	assert.Equal(t, &actor, entries[0].ActorID)
	assert.False(t, entries[0].At.IsZero())
}

func TestRecordSwallowsFailures(t *testing.T) {
	store := db.NewMemoryStore()
	store.InjectFault("InsertAudit", errors.New("disk full"))
	var buf bytes.Buffer
	recorder := NewRecorder(store, slog.New(slog.NewTextHandler(&buf, nil)))

	recorder.Record(context.Background(), nil, ActionRejectRequest, "access_request", "req-2", nil)

	assert.Empty(t, store.AuditEntries())
	assert.Contains(t, buf.String(), "audit write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestNilRecorder(t *testing.T) {
	var recorder *Recorder
	recorder.Record(context.Background(), nil, ActionGrantAccess, "user", "u", nil)
}
