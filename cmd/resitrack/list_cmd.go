package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"resitrack.org/internal/listing"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/records"
)

type listFlags struct {
	sort    string
	page    int
	search  string
	filters []string
	asJSON  bool
}

func (f *listFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sort, "sort", "desc", "Sort order: asc or desc")
	cmd.Flags().IntVar(&f.page, "page", 1, "Page number")
	cmd.Flags().StringVar(&f.search, "search", "", "Search text (ignored under the minimum length)")
	cmd.Flags().StringArrayVar(&f.filters, "filter", nil, "Filter as key=value, repeatable (type, checked, service, from, to, kind)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the page as JSON")
}

func filterValues(pairs []string) (url.Values, error) {
	v := url.Values{}
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --filter %q, want key=value", p)
		}
		v.Set(strings.TrimSpace(k), strings.TrimSpace(val))
	}
	return v, nil
}

func buildQuery[F any](f listFlags, minSearch int, parse func(url.Values) (F, error)) (listing.Query[F], error) {
	var q listing.Query[F]
	sort, err := listing.ParseSortOrder(f.sort)
	if err != nil {
		return q, err
	}
	if f.page < 1 {
		return q, listing.ErrInvalidPage
	}
	values, err := filterValues(f.filters)
	if err != nil {
		return q, err
	}
	filters, err := parse(values)
	if err != nil {
		return q, fmt.Errorf("filters: %w", err)
	}
	q = listing.Query[F]{Sort: sort, Page: f.page, Filters: filters}
	if s := strings.TrimSpace(f.search); utf8.RuneCountInString(s) >= minSearch {
		q.Search = s
		q.Page = 1
	}
	return q, nil
}

func runList[T, F any](ctx context.Context, w io.Writer, f listFlags, minSearch int,
	fetcher listing.Fetcher[T, F], parse func(url.Values) (F, error), row func(T) string) error {
	q, err := buildQuery(f, minSearch, parse)
	if err != nil {
		return err
	}
	page, err := fetcher.Fetch(ctx, q)
	if err != nil {
		return err
	}
	if f.asJSON {
		return writeJSON(w, page)
	}
	for _, it := range page.Items {
		fmt.Fprintln(w, row(it))
	}
	fmt.Fprintf(w, "page %d/%d\n", q.Page, max(page.TotalPages, 1))
	return nil
}

func movementRow(m movement.Movement) string {
	check := " "
	if m.Checked {
		check = "x"
	}
	from, to := m.ChambreDepart, m.ChambreArrivee
	if from == "" {
		from = m.LieuDepart
	}
	if to == "" {
		to = m.LieuArrivee
	}
	return fmt.Sprintf("[%s] %-10s %s %s  %-9s %s %s  %s -> %s", check, m.ID, m.Date, m.Time, m.Type, m.Nom, m.Prenom, from, to) +
		checkedBy(m.CheckedBy)
}

func checkedBy(user string) string {
	if user == "" {
		return ""
	}
	return "  (vérifié par " + user + ")"
}

func deathRow(d records.Death) string {
	check := " "
	if d.Checked {
		check = "x"
	}
	return fmt.Sprintf("[%s] %-10s %s %s  %s %s  chambre %s (%s)", check, d.ID, d.Date, d.Time, d.Nom, d.Prenom, d.Chambre, d.Service) +
		checkedBy(d.CheckedBy)
}

func historyRow(h records.HistoryEntry) string {
	id := h.Resident()
	return fmt.Sprintf("%s  %-9s %s %s", h.When(), h.Label(), id.Nom, id.Prenom)
}

func newRecordCmd(a *app, name, short string) *cobra.Command {
	cmd := &cobra.Command{Use: name, Short: short}

	var f listFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List one page of " + name,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, w, minLen := cmd.Context(), cmd.OutOrStdout(), a.cfg.SearchMinLength
			switch name {
			case "movements":
				return runList(ctx, w, f, minLen, a.client.MovementFetcher(), records.ParseMovementFilter, movementRow)
			case "deaths":
				return runList(ctx, w, f, minLen, a.client.DeathFetcher(), records.ParseDeathFilter, deathRow)
			default:
				return runList(ctx, w, f, minLen, a.client.HistoryFetcher(), records.ParseHistoryFilter, historyRow)
			}
		},
	}
	f.bind(list)
	cmd.AddCommand(list)

	switch name {
	case "movements":
		cmd.AddCommand(newAddMovementCmd(a), newCheckCmd(a, "movement"), newArchiveCmd(a))
	case "deaths":
		cmd.AddCommand(newCheckCmd(a, "death"))
	}
	return cmd
}
