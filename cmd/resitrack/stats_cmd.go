package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"resitrack.org/internal/listing"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
	"resitrack.org/internal/stats"
)

type periodFlags struct {
	service, from, to string
}

func (p *periodFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.service, "service", "", "Restrict to one service")
	cmd.Flags().StringVar(&p.from, "from", "", "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.to, "to", "", "Last day (YYYY-MM-DD)")
}

func (a *app) summary(ctx context.Context, p periodFlags) (stats.Summary, error) {
	s, err := a.session(ctx)
	if err != nil {
		return stats.Summary{}, err
	}
	if err := s.Require(permission.ViewStatistics); err != nil {
		return stats.Summary{}, err
	}
	movements, err := stats.FetchAll(ctx, a.client.MovementFetcher(), listing.Query[records.MovementFilter]{
		Sort:    listing.SortAsc,
		Filters: records.MovementFilter{Service: p.service, From: p.from, To: p.to},
	})
	if err != nil {
		return stats.Summary{}, fmt.Errorf("movements: %w", err)
	}
	deaths, err := stats.FetchAll(ctx, a.client.DeathFetcher(), listing.Query[records.DeathFilter]{
		Sort:    listing.SortAsc,
		Filters: records.DeathFilter{Service: p.service, From: p.from, To: p.to},
	})
	if err != nil {
		return stats.Summary{}, fmt.Errorf("deaths: %w", err)
	}
	return stats.Summarize(movements, deaths), nil
}

func newStatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "stats", Short: "Movement and death statistics"}

	var showPeriod periodFlags
	show := &cobra.Command{
		Use:   "show",
		Short: "Print monthly and per-service counts as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.summary(cmd.Context(), showPeriod)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sum)
		},
	}
	showPeriod.bind(show)

	var (
		exportPeriod periodFlags
		out          string
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the statistics workbook",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sum, err := a.summary(cmd.Context(), exportPeriod)
			if err != nil {
				return err
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			if err := stats.WriteXLSX(f, sum); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s written (%d movements and deaths)\n", out, sum.Totals.Total())
			return nil
		},
	}
	exportPeriod.bind(export)
	export.Flags().StringVarP(&out, "out", "o", "statistiques.xlsx", "Output file")

	cmd.AddCommand(show, export)
	return cmd
}
