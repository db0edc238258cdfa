// Package migrate applies versioned SQL files to the audit database.
//
// Applied files are recorded with a SHA-256 checksum so an edited migration
// is reported instead of being silently skipped. Every run holds a Postgres
// advisory lock, which lets several API replicas migrate at start-up.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTable   = "schema_history"
	defaultLockKey = 7_240_315

	kindMigration = "migration"
	kindSeed      = "seed"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var (
	// ErrNothingApplied is returned by Down on an empty history.
	ErrNothingApplied = errors.New("migrate: no migrations applied")
	// ErrChecksum reports an applied file whose content changed since.
	ErrChecksum = errors.New("migrate: checksum mismatch")
	// ErrNoDown reports a migration without a matching .down.sql file.
	ErrNoDown = errors.New("migrate: missing down migration")
)

// Record is one applied file.
type Record struct {
	Name      string
	Kind      string
	Checksum  string
	AppliedAt time.Time
}

// Manager runs migrations and seeds from a file system, usually the one
// embedded in the store package.
type Manager struct {
	db            *sql.DB
	fsys          fs.FS
	migrationsDir string
	seedsDir      string
	table         string
	lockKey       int64
	log           *zap.Logger
}

type Option func(*Manager)

// WithTable overrides the bookkeeping table.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLockKey sets the advisory lock key; 0 disables locking.
func WithLockKey(key int64) Option { return func(m *Manager) { m.lockKey = key } }

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager builds a Manager. Directories are paths inside fsys; an empty
// directory disables that kind of file.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:            db,
		fsys:          fsys,
		migrationsDir: migrationsDir,
		seedsDir:      seedsDir,
		table:         defaultTable,
		lockKey:       defaultLockKey,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in name order. It stops at the first
// applied migration whose checksum no longer matches.
func (m *Manager) Up(ctx context.Context) error {
	return m.withConn(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, kindMigration, m.migrationsDir, upSuffix, true)
	})
}

// Seed applies seed files once each. Edited seeds are not re-run.
func (m *Manager) Seed(ctx context.Context) error {
	return m.withConn(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, kindSeed, m.seedsDir, ".sql", false)
	})
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.withConn(ctx, func(conn *sql.Conn) error {
		var name string
		err := conn.QueryRowContext(ctx, fmt.Sprintf(
			`select name from %s where kind = $1 order by applied_at desc, name desc limit 1`, m.table),
			kindMigration).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNothingApplied
		}
		if err != nil {
			return err
		}
		down := path.Join(m.migrationsDir, strings.TrimSuffix(name, upSuffix)+downSuffix)
		body, err := fs.ReadFile(m.fsys, down)
		if err != nil {
			return fmt.Errorf("%w for %s", ErrNoDown, name)
		}
		err = inTx(ctx, conn, body, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where kind = $1 and name = $2`, m.table), kindMigration, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("rollback %s: %w", name, err)
		}
		m.log.Info("migration rolled back", zap.String("name", name))
		return nil
	})
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Record, error) {
	var out []Record
	err := m.withConn(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn, kindMigration)
		if err != nil {
			return err
		}
		for _, r := range applied {
			out = append(out, r)
		}
		slices.SortFunc(out, func(a, b Record) int {
			if c := a.AppliedAt.Compare(b.AppliedAt); c != 0 {
				return c
			}
			return strings.Compare(a.Name, b.Name)
		})
		return nil
	})
	return out, err
}

// Pending lists migrations not applied yet, in the order Up would run them.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	var out []string
	err := m.withConn(ctx, func(conn *sql.Conn) error {
		applied, err := m.applied(ctx, conn, kindMigration)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.fsys, m.migrationsDir, upSuffix)
		if err != nil {
			return err
		}
		for _, f := range files {
			if _, ok := applied[f.name]; !ok {
				out = append(out, f.name)
			}
		}
		return nil
	})
	return out, err
}

// withConn pins one connection for the advisory lock and the bookkeeping
// table, then runs fn on it.
func (m *Manager) withConn(ctx context.Context, fn func(*sql.Conn) error) (err error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if m.lockKey != 0 {
		if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, m.lockKey); err != nil {
			return fmt.Errorf("migrate: lock: %w", err)
		}
		defer func() {
			if _, uerr := conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, m.lockKey); uerr != nil && err == nil {
				err = fmt.Errorf("migrate: unlock: %w", uerr)
			}
		}()
	}
	ddl := fmt.Sprintf(`create table if not exists %s (
		kind text not null,
		name text not null,
		checksum text not null,
		applied_at timestamptz not null default now(),
		primary key (kind, name)
	)`, m.table)
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return err
	}
	return fn(conn)
}

func (m *Manager) applyAll(ctx context.Context, conn *sql.Conn, kind, dir, suffix string, strict bool) error {
	applied, err := m.applied(ctx, conn, kind)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.fsys, dir, suffix)
	if err != nil {
		return err
	}
	insert := fmt.Sprintf(`insert into %s (kind, name, checksum, applied_at) values ($1, $2, $3, $4)`, m.table)
	for _, f := range files {
		if kind == kindSeed && strings.HasSuffix(f.name, downSuffix) {
			continue
		}
		body, err := fs.ReadFile(m.fsys, f.path)
		if err != nil {
			return err
		}
		sum := checksum(body)
		if rec, ok := applied[f.name]; ok {
			if rec.Checksum != sum {
				if strict {
					return fmt.Errorf("%w: %s", ErrChecksum, f.name)
				}
				m.log.Warn("applied file changed, skipping", zap.String("kind", kind), zap.String("name", f.name))
			}
			continue
		}
		err = inTx(ctx, conn, body, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insert, kind, f.name, sum, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, f.name, err)
		}
		m.log.Info("applied", zap.String("kind", kind), zap.String("name", f.name))
	}
	return nil
}

func (m *Manager) applied(ctx context.Context, conn *sql.Conn, kind string) (map[string]Record, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(
		`select name, checksum, applied_at from %s where kind = $1`, m.table), kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Record{}
	for rows.Next() {
		r := Record{Kind: kind}
		if err := rows.Scan(&r.Name, &r.Checksum, &r.AppliedAt); err != nil {
			return nil, err
		}
		out[r.Name] = r
	}
	return out, rows.Err()
}

// inTx runs the statements of body and then record in one transaction.
func inTx(ctx context.Context, conn *sql.Conn, body []byte, record func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type sqlFile struct {
	name string
	path string
}

func collectSQL(fsys fs.FS, dir, suffix string) ([]sqlFile, error) {
	if dir == "" || fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, sqlFile{name: e.Name(), path: path.Join(dir, e.Name())})
	}
	slices.SortFunc(files, func(a, b sqlFile) int { return strings.Compare(a.name, b.name) })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted strings and
// drops "--" line comments and empty statements. A doubled quote inside a
// string is an escaped quote.
func splitStatements(src string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case !quoted && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
		case r == '\'':
			cur.WriteRune(r)
			if quoted && i+1 < len(runes) && runes[i+1] == '\'' {
				cur.WriteRune('\'')
				i++
				continue
			}
			quoted = !quoted
		case r == ';' && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
