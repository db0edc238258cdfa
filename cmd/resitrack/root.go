package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/client"
	"resitrack.org/internal/config"
	"resitrack.org/internal/obs"
)

// app is shared by every subcommand once the root pre-run has completed.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	client *client.Client

	url     string
	token   string
	timeout time.Duration
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "resitrack",
		Short:         "Resident movement tracking from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVar(&a.url, "url", "", "Records backend URL (default "+config.Prefix+"UPSTREAM_URL)")
	cmd.PersistentFlags().StringVar(&a.token, "token", "", "Bearer token (default "+config.Prefix+"TOKEN)")
	cmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "Request timeout (default "+config.Prefix+"UPSTREAM_TIMEOUT)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log backend calls")

	cmd.AddCommand(
		newNavCmd(a),
		newRecordCmd(a, "movements", "Movements of residents"),
		newRecordCmd(a, "deaths", "Death register"),
		newRecordCmd(a, "history", "Unified history of movements and deaths"),
		newBrowseCmd(a),
		newStatsCmd(a),
		newAuditCmd(),
	)
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.url != "" {
		cfg.UpstreamURL = a.url
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	if a.timeout > 0 {
		cfg.UpstreamTimeout = a.timeout
	}
	if err := cfg.RequireUpstream(); err != nil {
		return err
	}
	if cfg.Token == "" {
		return errors.New("a bearer token is required: --token or " + config.Prefix + "TOKEN")
	}

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	a.log, err = obs.NewLogger(level, "console", "resitrack-cli")
	if err != nil {
		return err
	}
	obs.SetLogger(a.log)

	a.cfg = cfg
	a.client = client.New(cfg.UpstreamURL,
		client.WithTimeout(cfg.UpstreamTimeout),
		client.WithToken(cfg.Token),
		client.WithLogger(a.log),
	)
	return nil
}

// session resolves the token's permissions the same way the API does.
func (a *app) session(ctx context.Context) (auth.Session, error) {
	me, snap, err := a.client.Snapshot(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	return auth.NewSession(me.Username, me.Service, snap), nil
}
