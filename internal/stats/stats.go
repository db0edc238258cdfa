// Package stats aggregates movements and deaths per month and per service
// and exports them, along with the unified history, as spreadsheets.
package stats

import (
	"context"
	"fmt"
	"sort"

	"resitrack.org/internal/listing"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/records"
)

// Counts tallies records by kind.
type Counts struct {
	Entrees    int `json:"entrees"`
	Sorties    int `json:"sorties"`
	Transferts int `json:"transferts"`
	Deces      int `json:"deces"`
}

// Total is the number of records counted.
func (c Counts) Total() int { return c.Entrees + c.Sorties + c.Transferts + c.Deces }

func (c *Counts) addMovement(t movement.Type) {
	switch t {
	case movement.TypeEntree:
		c.Entrees++
	case movement.TypeSortie:
		c.Sorties++
	case movement.TypeTransfert:
		c.Transferts++
	}
}

// Month is one row of the monthly breakdown, keyed "2006-01".
type Month struct {
	Month string `json:"month"`
	Counts
}

// ServiceTotal is one row of the per-service breakdown.
type ServiceTotal struct {
	Service string `json:"service"`
	Counts
}

// Summary is the statistics page.
type Summary struct {
	Months   []Month        `json:"months"`
	Services []ServiceTotal `json:"services"`
	Totals   Counts         `json:"totals"`
}

const unknownService = "Non renseigné"

// Summarize counts movements by type and deaths, per month and per service.
// Months and services are sorted ascending.
func Summarize(movements []movement.Movement, deaths []records.Death) Summary {
	months := map[string]*Counts{}
	services := map[string]*Counts{}
	var totals Counts

	bucket := func(m map[string]*Counts, key string) *Counts {
		c, ok := m[key]
		if !ok {
			c = &Counts{}
			m[key] = c
		}
		return c
	}

	for _, mv := range movements {
		if !mv.Type.Determined() {
			continue
		}
		bucket(months, monthOf(mv.Date)).addMovement(mv.Type)
		bucket(services, serviceOr(mv.Service())).addMovement(mv.Type)
		totals.addMovement(mv.Type)
	}
	for _, d := range deaths {
		bucket(months, monthOf(d.Date)).Deces++
		bucket(services, serviceOr(d.Service)).Deces++
		totals.Deces++
	}

	out := Summary{Months: []Month{}, Services: []ServiceTotal{}, Totals: totals}
	for k, c := range months {
		out.Months = append(out.Months, Month{Month: k, Counts: *c})
	}
	for k, c := range services {
		out.Services = append(out.Services, ServiceTotal{Service: k, Counts: *c})
	}
	sort.Slice(out.Months, func(i, j int) bool { return out.Months[i].Month < out.Months[j].Month })
	sort.Slice(out.Services, func(i, j int) bool { return out.Services[i].Service < out.Services[j].Service })
	return out
}

func monthOf(date string) string {
	if len(date) >= 7 {
		return date[:7]
	}
	return date
}

func serviceOr(s string) string {
	if s == "" {
		return unknownService
	}
	return s
}

// MaxPages bounds FetchAll.
const MaxPages = 500

// FetchAll walks every page of q in order and concatenates the items.
func FetchAll[T, F any](ctx context.Context, f listing.Fetcher[T, F], q listing.Query[F]) ([]T, error) {
	var all []T
	q.Page = 1
	for {
		page, err := f.Fetch(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", q.Page, err)
		}
		all = append(all, page.Items...)
		if q.Page >= page.TotalPages || len(page.Items) == 0 {
			return all, nil
		}
		if q.Page >= MaxPages {
			return nil, fmt.Errorf("stats: more than %d pages", MaxPages)
		}
		q.Page++
	}
}
