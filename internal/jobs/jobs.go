// Package jobs runs the scheduled maintenance tasks: archiving old
// movements on the backend and purging expired audit entries.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"resitrack.org/internal/audit"
	"resitrack.org/internal/auth"
	"resitrack.org/internal/store/pg"
)

// Archiver archives movements older than a number of days.
type Archiver interface {
	ArchiveMovements(ctx context.Context, olderThanDays int) (int, error)
}

// RunRecorder persists job executions.
type RunRecorder interface {
	RecordJobRun(ctx context.Context, run pg.JobRun) (pg.JobRun, error)
}

const (
	JobArchive    = "archive_movements"
	JobAuditPurge = "purge_audit"
)

// ArchivePurger archives movements past the retention threshold.
type ArchivePurger struct {
	archiver Archiver
	days     int
	token    string
	runs     RunRecorder
	audit    *audit.Recorder
	log      *zap.Logger
	now      func() time.Time
}

// PurgerOption configures an ArchivePurger.
type PurgerOption func(*ArchivePurger)

// WithToken authenticates the archive call with a service bearer token.
func WithToken(token string) PurgerOption { return func(p *ArchivePurger) { p.token = token } }

func WithRunRecorder(r RunRecorder) PurgerOption { return func(p *ArchivePurger) { p.runs = r } }

func WithAudit(r *audit.Recorder) PurgerOption { return func(p *ArchivePurger) { p.audit = r } }

func WithLogger(l *zap.Logger) PurgerOption { return func(p *ArchivePurger) { p.log = l } }

func NewArchivePurger(a Archiver, days int, opts ...PurgerOption) *ArchivePurger {
	p := &ArchivePurger{archiver: a, days: days, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run archives once and returns how many movements were archived.
func (p *ArchivePurger) Run(ctx context.Context) (int, error) {
	if p.days < 1 {
		return 0, fmt.Errorf("jobs: archive threshold must be >= 1 day, got %d", p.days)
	}
	if p.token != "" {
		ctx = auth.ContextWithToken(ctx, p.token)
	}
	started := p.now()
	n, err := p.archiver.ArchiveMovements(ctx, p.days)
	run := pg.JobRun{Job: JobArchive, StartedAt: started.UTC(), FinishedAt: p.now().UTC(), Affected: n}
	if err != nil {
		run.Error = err.Error()
		p.log.Error("archive failed", zap.Int("older_than_days", p.days), zap.Error(err))
	} else {
		p.log.Info("archive completed", zap.Int("older_than_days", p.days), zap.Int("archived", n))
		if p.audit != nil {
			_, _ = p.audit.Record(ctx, "movements.archived", map[string]any{"older_than_days": p.days, "archived": n})
		}
	}
	if p.runs != nil {
		if _, rerr := p.runs.RecordJobRun(ctx, run); rerr != nil {
			p.log.Warn("record job run failed", zap.String("job", JobArchive), zap.Error(rerr))
		}
	}
	return n, err
}

// AuditPurger deletes audit entries older than a retention window.
type AuditPurger interface {
	PurgeAudit(ctx context.Context, before time.Time) (int64, error)
}

// PurgeAudit returns a job deleting entries older than retention. When
// store is also a RunRecorder each run is recorded under JobAuditPurge.
func PurgeAudit(store AuditPurger, retention time.Duration, log *zap.Logger) func(context.Context) error {
	runs, _ := store.(RunRecorder)
	return func(ctx context.Context) error {
		started := time.Now()
		n, err := store.PurgeAudit(ctx, started.Add(-retention))
		if runs != nil {
			run := pg.JobRun{Job: JobAuditPurge, StartedAt: started.UTC(), FinishedAt: time.Now().UTC(), Affected: int(n)}
			if err != nil {
				run.Error = err.Error()
			}
			if _, rerr := runs.RecordJobRun(ctx, run); rerr != nil {
				log.Warn("record job run failed", zap.String("job", JobAuditPurge), zap.Error(rerr))
			}
		}
		if err != nil {
			return err
		}
		log.Info("audit purge completed", zap.Int64("deleted", n))
		return nil
	}
}

// Scheduler runs named jobs on standard cron expressions.
type Scheduler struct {
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(log *zap.Logger, timeout time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:     log,
		timeout: timeout,
		entries: map[string]cron.EntryID{},
	}
}

// Add registers fn under name. The expression uses the standard five
// fields or a descriptor such as @daily.
func (s *Scheduler) Add(name, spec string, fn func(context.Context) error) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("jobs: %s: invalid schedule %q: %w", name, spec, err)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("job done", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	}))
	s.mu.Lock()
	s.entries[name] = id
	s.mu.Unlock()
	return nil
}

// Next returns the next activation of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
