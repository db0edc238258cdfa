// Package pg persists audit entries and scheduled job runs in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"resitrack.org/internal/audit"
	"resitrack.org/internal/ids"
)

// Migrations holds the schema, under "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS

const pgErrUniqueViolation = "23505"

var (
	ErrDuplicate   = errors.New("pg: duplicate id")
	ErrUnavailable = errors.New("database connection unavailable")
)

type Store struct {
	db *sql.DB
}

var _ audit.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	return s.db.PingContext(ctx)
}

func (s *Store) InsertAudit(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return ErrUnavailable
	}
	fields := []byte("{}")
	if len(e.Fields) > 0 {
		b, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
		fields = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, event, actor, service, request_id, fields, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.Event, e.Actor, e.Service, e.RequestID, fields, e.At)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrDuplicate
	}
	return err
}

// AuditQuery narrows ListAudit. Zero values match everything.
type AuditQuery struct {
	Event string
	Actor string
	Since time.Time
	Limit int
}

// ListAudit returns matching entries, newest first.
func (s *Store) ListAudit(ctx context.Context, q AuditQuery) ([]audit.Entry, error) {
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}
	var (
		where []string
		args  []any
	)
	if q.Event != "" {
		args = append(args, q.Event)
		where = append(where, fmt.Sprintf("event = $%d", len(args)))
	}
	if q.Actor != "" {
		args = append(args, q.Actor)
		where = append(where, fmt.Sprintf("actor = $%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `select id, event, actor, service, request_id, fields, created_at from audit_log`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" order by created_at desc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Entry
	for rows.Next() {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &e.Actor, &e.Service, &e.RequestID, &raw, &e.At); err != nil {
			return nil, err
		}
		e.Fields = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Fields); err != nil {
				return nil, fmt.Errorf("decode fields: %w", err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// PurgeAudit deletes entries older than before.
func (s *Store) PurgeAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from audit_log where created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// JobRun is one execution of a scheduled job.
type JobRun struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Affected   int       `json:"affected"`
	Error      string    `json:"error,omitempty"`
}

func (s *Store) RecordJobRun(ctx context.Context, run JobRun) (JobRun, error) {
	if run.ID == "" {
		run.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into job_runs (id, job, started_at, finished_at, affected, error)
		values ($1, $2, $3, $4, $5, $6)
	`, run.ID, run.Job, run.StartedAt, run.FinishedAt, run.Affected, run.Error)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return JobRun{}, ErrDuplicate
	}
	if err != nil {
		return JobRun{}, err
	}
	return run, nil
}

// LastJobRun returns the latest run of job; sql.ErrNoRows when it never ran.
func (s *Store) LastJobRun(ctx context.Context, job string) (JobRun, error) {
	var run JobRun
	err := s.db.QueryRowContext(ctx, `
		select id, job, started_at, finished_at, affected, error
		from job_runs where job = $1
		order by started_at desc limit 1
	`, job).Scan(&run.ID, &run.Job, &run.StartedAt, &run.FinishedAt, &run.Affected, &run.Error)
	if err != nil {
		return JobRun{}, err
	}
	return run, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
