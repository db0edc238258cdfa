package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"resitrack.org/internal/audit"
	"resitrack.org/internal/cache"
	"resitrack.org/internal/client"
	"resitrack.org/internal/config"
	"resitrack.org/internal/httpapi"
	"resitrack.org/internal/jobs"
	"resitrack.org/internal/migrate"
	"resitrack.org/internal/obs"
	"resitrack.org/internal/store/pg"
	"resitrack.org/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireUpstream()
	}
	if err != nil {
		// the logger is not configured yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.LogFormat, "resitrack-api")
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)

	obs.Init()
	obs.Commit = obs.InitBuildInfo(obs.Version, obs.Commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	upstream := client.New(cfg.UpstreamURL,
		client.WithTimeout(cfg.UpstreamTimeout),
		client.WithLogger(logger.Named("upstream")),
	)

	ready := httpapi.ReadyProbe{Checks: map[string]func(context.Context) error{}}

	var kv cache.KV
	if cfg.RedisAddr != "" {
		rdb, err := cache.DialRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		redisKV := cache.NewRedisKV(rdb)
		ready.Checks["redis"] = redisKV.Ping
		kv = redisKV
		logger.Info("redis cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	var (
		store      *pg.Store
		auditStore audit.Store
	)
	if cfg.PGDSN != "" {
		var err error
		store, err = pg.Open(cfg.PGDSN)
		if err != nil {
			return err
		}
		defer store.Close()

		mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = migrate.NewManager(store.DB(), pg.Migrations, "migrations", "", migrate.WithLogger(logger.Named("migrate"))).Up(mctx)
		cancel()
		if err != nil {
			return err
		}
		ready.DB = store.DB()
		auditStore = store
	}
	recorder := audit.NewRecorder(logger.Named("audit"), auditStore)
	events := stream.New(cfg.StreamBuffer)

	api := httpapi.New(httpapi.Deps{
		Upstream:        upstream,
		KV:              kv,
		CacheTTL:        cfg.CacheTTL,
		Stream:          events,
		Audit:           recorder,
		Ready:           ready,
		Logger:          logger,
		Version:         obs.Version,
		RateBurst:       cfg.RateBurst,
		RatePerSec:      cfg.RatePerSec,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		CORSOrigins:     cfg.CORSOrigins,
		SearchMinLength: cfg.SearchMinLength,
	})

	sched := jobs.NewScheduler(logger.Named("jobs"), 5*time.Minute)
	if cfg.ArchiveCron != "" {
		opts := []jobs.PurgerOption{
			jobs.WithToken(cfg.ArchiveToken),
			jobs.WithAudit(recorder),
			jobs.WithLogger(logger.Named("archive")),
		}
		if store != nil {
			opts = append(opts, jobs.WithRunRecorder(store))
		}
		purger := jobs.NewArchivePurger(upstream, cfg.ArchiveAfterDays, opts...)
		err := sched.Add(jobs.JobArchive, cfg.ArchiveCron, func(ctx context.Context) error {
			n, err := purger.Run(ctx)
			if err == nil && n > 0 {
				events.Publish(stream.Event{Action: stream.ActionArchived, Record: stream.RecordMovement, Count: n})
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	if store != nil && cfg.AuditRetention > 0 {
		if err := sched.Add(jobs.JobAuditPurge, "@daily", jobs.PurgeAudit(store, cfg.AuditRetention, logger.Named("audit"))); err != nil {
			return err
		}
	}
	sched.Start()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// no WriteTimeout: /v1/events streams for as long as the client stays
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting resitrack-api",
			zap.String("version", obs.Version),
			zap.String("addr", srv.Addr),
			zap.String("upstream", cfg.UpstreamURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
