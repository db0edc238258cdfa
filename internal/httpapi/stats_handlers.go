package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"resitrack.org/internal/listing"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/records"
	"resitrack.org/internal/stats"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type period struct {
	Service string
	From    string
	To      string
}

func parsePeriod(q url.Values) (period, error) {
	p := period{Service: q.Get("service"), From: q.Get("from"), To: q.Get("to")}
	for _, v := range []string{p.From, p.To} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(dateLayout, v); err != nil {
			return period{}, err
		}
	}
	return p, nil
}

func (a *API) summarize(ctx context.Context, p period) (stats.Summary, error) {
	movements, err := stats.FetchAll(ctx,
		listing.FetcherFunc[movement.Movement, records.MovementFilter](a.upstream.ListMovements),
		listing.Query[records.MovementFilter]{Sort: listing.SortAsc, Filters: records.MovementFilter{Service: p.Service, From: p.From, To: p.To}},
	)
	if err != nil {
		return stats.Summary{}, err
	}
	deaths, err := stats.FetchAll(ctx,
		listing.FetcherFunc[records.Death, records.DeathFilter](a.upstream.ListDeaths),
		listing.Query[records.DeathFilter]{Sort: listing.SortAsc, Filters: records.DeathFilter{Service: p.Service, From: p.From, To: p.To}},
	)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(movements, deaths), nil
}

func (a *API) Statistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, err := parsePeriod(r.URL.Query())
	if err != nil {
		badRequest(w, r, "invalid period: %v", err)
		return
	}
	sum, err := a.summarize(r.Context(), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sum)
}

func (a *API) ExportStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, err := parsePeriod(r.URL.Query())
	if err != nil {
		badRequest(w, r, "invalid period: %v", err)
		return
	}
	sum, err := a.summarize(r.Context(), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := stats.WriteXLSX(&buf, sum); err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "statistics.export", map[string]any{"from": p.From, "to": p.To, "service": p.Service})
	writeXLSX(w, "statistiques.xlsx", buf.Bytes())
}

// ExportHistory writes every unified history row matching the filters.
func (a *API) ExportHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q, err := parseListQuery(r.URL.Query(), a.searchMin, records.ParseHistoryFilter)
	if err != nil {
		badRequest(w, r, "%v", err)
		return
	}
	entries, err := stats.FetchAll(r.Context(),
		listing.FetcherFunc[records.HistoryEntry, records.HistoryFilter](a.upstream.ListHistory), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := stats.WriteHistoryXLSX(&buf, entries); err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "history.export", map[string]any{"rows": len(entries)})
	writeXLSX(w, "historique.xlsx", buf.Bytes())
}

func writeXLSX(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
