package audit

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/obs"
	"resitrack.org/internal/permission"
)

type memStore struct {
	entries []Entry
	err     error
}

func (m *memStore) InsertAudit(_ context.Context, e Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func sessionCtx() context.Context {
	ctx := WithRequestID(context.Background(), "req-123")
	return auth.ContextWithSession(ctx, auth.NewSession("ide1", "USLD", permission.Snapshot{}))
}

func TestLogEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	obs.SetLogger(zap.New(core))
	defer obs.SetLogger(nil)

	if err := LogEvent(sessionCtx(), "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one log entry, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["type"] != "audit" {
		t.Fatalf("unexpected type: %v", fields["type"])
	}
	if fields["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", fields["event"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", fields["request_id"])
	}
	if fields["user_id"] != "ide1" {
		t.Fatalf("unexpected user id: %v", fields["user_id"])
	}
	extra, ok := fields["fields"].(map[string]any)
	if !ok || extra["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", fields["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for blank event")
	}
}

func TestRecorderPersists(t *testing.T) {
	store := &memStore{}
	r := NewRecorder(zap.NewNop(), store)
	e, err := r.Record(sessionCtx(), "movement.created", map[string]any{"type": "Entrée"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(store.entries) != 1 || store.entries[0].ID != e.ID {
		t.Fatalf("entry not persisted: %+v", store.entries)
	}
	if e.Service != "USLD" || e.Fields["type"] != "Entrée" {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestRecorderStoreFailureStillLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewRecorder(zap.New(core), &memStore{err: errors.New("db down")})
	if _, err := r.Record(context.Background(), "movement.deleted", nil); err == nil {
		t.Fatal("expected store error")
	}
	if logs.FilterMessage("audit").Len() != 1 || logs.FilterMessage("audit persist failed").Len() != 1 {
		t.Fatalf("unexpected logs: %v", logs.All())
	}
}
