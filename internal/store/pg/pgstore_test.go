package pg

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resitrack.org/internal/audit"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestInsertAudit(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("insert into audit_log").
		WithArgs("a1", "movement.created", "ide1", "USLD", "req-1", []byte(`{"type":"Entrée"}`), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.InsertAudit(context.Background(), audit.Entry{
		ID: "a1", Event: "movement.created", Actor: "ide1", Service: "USLD",
		RequestID: "req-1", Fields: map[string]any{"type": "Entrée"}, At: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAuditDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into audit_log").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	err := s.InsertAudit(context.Background(), audit.Entry{ID: "a1", Event: "x"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestListAuditBuildsFilters(t *testing.T) {
	s, mock := newMock(t)
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "event", "actor", "service", "request_id", "fields", "created_at"}).
		AddRow("a2", "movement.checked", "cadre", "USLD", "", []byte(`{"id":"m1"}`), since)
	mock.ExpectQuery(`from audit_log where event = \$1 and created_at >= \$2 order by created_at desc limit \$3`).
		WithArgs("movement.checked", since, 100).
		WillReturnRows(rows)

	got, err := s.ListAudit(context.Background(), AuditQuery{Event: "movement.checked", Since: since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Fields["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeAudit(t *testing.T) {
	s, mock := newMock(t)
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("delete from audit_log where created_at < ").WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 12))
	n, err := s.PurgeAudit(context.Background(), before)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}

func TestJobRuns(t *testing.T) {
	s, mock := newMock(t)
	start := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)
	end := start.Add(time.Second)
	mock.ExpectExec("insert into job_runs").
		WithArgs(sqlmock.AnyArg(), "archive", start, end, 4, "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	run, err := s.RecordJobRun(context.Background(), JobRun{Job: "archive", StartedAt: start, FinishedAt: end, Affected: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	mock.ExpectQuery("from job_runs where job = ").WithArgs("purge").WillReturnError(sql.ErrNoRows)
	_, err = s.LastJobRun(context.Background(), "purge")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(Migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/0001_audit.up.sql", "migrations/0002_job_runs.up.sql"}, names)
}
