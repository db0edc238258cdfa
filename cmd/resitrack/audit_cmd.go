package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"resitrack.org/internal/config"
	"resitrack.org/internal/jobs"
	"resitrack.org/internal/store/pg"
)

// newAuditCmd reads the API's audit trail and job history straight from
// Postgres; it needs no backend token.
func newAuditCmd() *cobra.Command {
	var (
		dsn   string
		store *pg.Store
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail and scheduled job runs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dsn = cfg.PGDSN
			}
			if dsn == "" {
				return errors.New("a database is required: --dsn or " + config.Prefix + "PG_DSN")
			}
			var err error
			store, err = pg.Open(dsn)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if store == nil {
				return nil
			}
			return store.Close()
		},
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres DSN (default "+config.Prefix+"PG_DSN)")

	var (
		q     pg.AuditQuery
		since time.Duration
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Print recent audit entries as JSON, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			entries, err := store.ListAudit(cmd.Context(), q)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}
	list.Flags().StringVar(&q.Event, "event", "", "Only this event, e.g. movement.created")
	list.Flags().StringVar(&q.Actor, "actor", "", "Only this username")
	list.Flags().DurationVar(&since, "since", 0, "Only entries newer than this, e.g. 72h")
	list.Flags().IntVar(&q.Limit, "limit", 100, "Maximum entries (1000 at most)")

	runs := &cobra.Command{
		Use:   "jobs",
		Short: "Show the last run of each scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, name := range []string{jobs.JobArchive, jobs.JobAuditPurge} {
				run, err := store.LastJobRun(cmd.Context(), name)
				switch {
				case errors.Is(err, sql.ErrNoRows):
					fmt.Fprintf(out, "%-18s never ran\n", name)
					continue
				case err != nil:
					return err
				}
				status := "ok"
				if run.Error != "" {
					status = "error: " + run.Error
				}
				fmt.Fprintf(out, "%-18s %s  %d affected  %s  %s\n", name,
					run.StartedAt.Format(time.RFC3339), run.Affected,
					run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), status)
			}
			return nil
		},
	}

	cmd.AddCommand(list, runs)
	return cmd
}
