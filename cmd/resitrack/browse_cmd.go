package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"resitrack.org/internal/listing"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
)

const browseHelp = `type text to search (debounced), or a command:
  :next  :prev  :page N  :sort asc|desc  :clear  :check ID  :uncheck ID  :quit`

func newBrowseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "browse movements|deaths|history",
		Short:     "Interactive search over a list, one line per input",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"movements", "deaths", "history"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, in, out := cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			switch args[0] {
			case "movements":
				c := newBrowser(a, out, a.client.MovementFetcher(), movementRow, func(m movement.Movement) string { return m.ID })
				return c.run(ctx, in, func(ctx context.Context, m movement.Movement, checked bool) (movement.Movement, error) {
					if err := s.Require(permission.CheckMovement); err != nil {
						return m, err
					}
					if err := a.client.SetMovementChecked(ctx, m.ID, checked); err != nil {
						return m, err
					}
					return m.SetChecked(checked, s.Username), nil
				})
			case "deaths":
				c := newBrowser(a, out, a.client.DeathFetcher(), deathRow, func(d records.Death) string { return d.ID })
				return c.run(ctx, in, func(ctx context.Context, d records.Death, checked bool) (records.Death, error) {
					if err := s.Require(permission.CheckMovement); err != nil {
						return d, err
					}
					if err := a.client.SetDeathChecked(ctx, d.ID, checked); err != nil {
						return d, err
					}
					return d.SetChecked(checked, s.Username), nil
				})
			case "history":
				c := newBrowser(a, out, a.client.HistoryFetcher(), historyRow, historyKey)
				return c.run(ctx, in, nil)
			}
			return fmt.Errorf("unknown list %q", args[0])
		},
	}
}

func historyKey(h records.HistoryEntry) string {
	switch {
	case h.Movement != nil:
		return h.Movement.ID
	case h.Death != nil:
		return h.Death.ID
	}
	return ""
}

// browser drives a listing.Controller from text lines and prints every
// applied state.
type browser[T, F any] struct {
	ctrl *listing.Controller[T, F]
	out  io.Writer
	mu   sync.Mutex
	row  func(T) string
}

func newBrowser[T, F any](a *app, out io.Writer, fetcher listing.Fetcher[T, F], row func(T) string, key func(T) string) *browser[T, F] {
	b := &browser[T, F]{out: out, row: row}
	b.ctrl = listing.New(fetcher, listing.Options[T, F]{
		Key:             key,
		SearchDelay:     a.cfg.SearchDebounce,
		SearchMinLength: a.cfg.SearchMinLength,
		OnUpdate:        b.print,
	})
	return b
}

func (b *browser[T, F]) print(st listing.State[T, F]) {
	if st.Loading {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st.Err != "" {
		fmt.Fprintf(b.out, "erreur: %s\n", st.Err)
		return
	}
	header := "parcours"
	if st.Mode == listing.ModeSearching {
		header = fmt.Sprintf("recherche %q", st.Search)
	}
	fmt.Fprintf(b.out, "-- %s, tri %s, page %d/%d\n", header, st.Sort, st.Page, max(st.TotalPages, 1))
	for _, it := range st.Items {
		fmt.Fprintln(b.out, b.row(it))
	}
}

func (b *browser[T, F]) run(ctx context.Context, in io.Reader, toggle func(context.Context, T, bool) (T, error)) error {
	fmt.Fprintln(b.out, browseHelp)
	if err := b.ctrl.Load(ctx); err != nil {
		return err
	}
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, ":") {
			b.ctrl.SetSearch(ctx, line)
			continue
		}
		verb, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
		arg = strings.TrimSpace(arg)
		var err error
		st := b.ctrl.Snapshot()
		switch verb {
		case "q", "quit":
			return nil
		case "next":
			if st.Page < st.TotalPages {
				err = b.ctrl.SetPage(ctx, st.Page+1)
			}
		case "prev":
			if st.Page > 1 {
				err = b.ctrl.SetPage(ctx, st.Page-1)
			}
		case "page":
			var p int
			if p, err = strconv.Atoi(arg); err == nil {
				err = b.ctrl.SetPage(ctx, p)
			}
		case "sort":
			var order listing.SortOrder
			if order, err = listing.ParseSortOrder(arg); err == nil {
				err = b.ctrl.SetSort(ctx, order)
			}
		case "clear":
			err = b.ctrl.ClearSearch(ctx)
		case "check", "uncheck":
			if toggle == nil {
				err = fmt.Errorf("this list has no check mark")
				break
			}
			checked := verb == "check"
			err = b.ctrl.ToggleChecked(ctx, arg, func(ctx context.Context, it T) (T, error) {
				return toggle(ctx, it, checked)
			})
		default:
			fmt.Fprintln(b.out, browseHelp)
		}
		if err != nil {
			fmt.Fprintf(b.out, "erreur: %v\n", err)
		}
	}
	return sc.Err()
}
