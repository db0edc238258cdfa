package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"resitrack.org/internal/config"
	"resitrack.org/internal/migrate"
	"resitrack.org/internal/obs"
	"resitrack.org/internal/store/pg"
)

func main() {
	if _, err := config.LoadEnv(config.DefaultEnvFiles); err != nil {
		fmt.Fprintln(os.Stderr, "load env files:", err)
		os.Exit(1)
	}
	var (
		dsn            = flag.String("dsn", os.Getenv(config.Prefix+"PG_DSN"), "PostgreSQL DSN")
		dir            = flag.String("dir", "", "Read SQL from this directory instead of the embedded migrations")
		migrationsPath = flag.String("migrations", "migrations", "Migrations directory inside the source")
		seedsPath      = flag.String("seeds", "seeds", "Seeds directory inside the source")
	)
	flag.Parse()

	log, err := obs.NewLogger("info", "console", "resitrack-migrate")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or " + config.Prefix + "PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	var source fs.FS = pg.Migrations
	if *dir != "" {
		source = os.DirFS(*dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	mgr := migrate.NewManager(db, source, *migrationsPath, *seedsPath, migrate.WithLogger(log))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []migrate.Record
		if applied, err = mgr.Status(ctx); err == nil {
			for _, r := range applied {
				fmt.Printf("%s  %s  %.12s\n", r.AppliedAt.Format(time.RFC3339), r.Name, r.Checksum)
			}
		}
	case "pending":
		var names []string
		if names, err = mgr.Pending(ctx); err == nil {
			for _, name := range names {
				fmt.Println(name)
			}
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	log.Info("migrate done", zap.String("command", cmd))
}
