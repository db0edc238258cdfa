// Package audit records who did what through the API: every entry goes to
// the structured log and, when a store is configured, to the audit table.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/ids"
	"resitrack.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor,omitempty"`
	Service   string         `json:"service,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields"`
	At        time.Time      `json:"at"`
}

// Store persists entries.
type Store interface {
	InsertAudit(ctx context.Context, e Entry) error
}

// Recorder writes audit entries.
type Recorder struct {
	log   *zap.Logger
	store Store
	now   func() time.Time
}

// NewRecorder returns a recorder logging to log and, if store is not nil,
// persisting to it.
func NewRecorder(log *zap.Logger, store Store) *Recorder {
	if log == nil {
		log = obs.Logger()
	}
	return &Recorder{log: log, store: store, now: time.Now}
}

// Record writes an entry enriched with the request id and the session's
// user and service. The entry is logged even when persisting fails.
func (r *Recorder) Record(ctx context.Context, event string, fields map[string]any) (Entry, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Entry{}, errors.New("event name is required")
	}
	e := Entry{
		ID:        ids.New(),
		Event:     event,
		RequestID: RequestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
		At:        r.now().UTC(),
	}
	if s, ok := auth.SessionFromContext(ctx); ok {
		e.Actor = s.Username
		e.Service = s.Service
	}
	for k, v := range fields {
		e.Fields[k] = v
	}

	r.log.Info("audit",
		zap.String("type", "audit"),
		zap.String("event", e.Event),
		zap.String("audit_id", e.ID),
		zap.String("request_id", e.RequestID),
		zap.String("user_id", e.Actor),
		zap.String("service", e.Service),
		zap.Any("fields", e.Fields),
	)
	if r.store == nil {
		return e, nil
	}
	if err := r.store.InsertAudit(ctx, e); err != nil {
		r.log.Error("audit persist failed", zap.String("audit_id", e.ID), zap.Error(err))
		return e, err
	}
	return e, nil
}

// LogEvent writes a log-only audit entry through the shared logger.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	_, err := NewRecorder(obs.Logger(), nil).Record(ctx, event, fields)
	return err
}
