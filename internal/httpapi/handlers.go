// Package httpapi is the JSON API in front of the records backend. It
// resolves sessions, applies the movement rules before anything is
// forwarded, and composes what each user is allowed to see.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"resitrack.org/internal/audit"
	"resitrack.org/internal/cache"
	"resitrack.org/internal/listing"
	"resitrack.org/internal/location"
	"resitrack.org/internal/obs"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/stream"
)

// ReadyProbe reports whether the dependencies needed to serve are reachable.
type ReadyProbe struct {
	DB     *sql.DB
	Checks map[string]func(context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	for name, check := range rp.Checks {
		if err := check(ctx); err != nil {
			return &probeError{name: name, err: err}
		}
	}
	return nil
}

type probeError struct {
	name string
	err  error
}

func (e *probeError) Error() string { return e.name + ": " + e.err.Error() }
func (e *probeError) Unwrap() error { return e.err }

// Deps wires the API. Only Upstream is mandatory.
type Deps struct {
	Upstream Upstream
	// KV backs the session and location caches; nil keeps them in memory.
	KV       cache.KV
	CacheTTL time.Duration

	Stream *stream.Stream
	Audit  *audit.Recorder
	Ready  ReadyProbe
	Logger *zap.Logger

	Version         string
	RateBurst       int
	RatePerSec      float64
	MaxBodyBytes    int64
	CORSOrigins     []string
	SearchMinLength int
	Now             func() time.Time
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	upstream   Upstream
	sessions   *cache.SessionCache
	directory  *cache.DirectoryCache
	stream     *stream.Stream
	audit      *audit.Recorder
	readyProbe ReadyProbe
	log        *zap.Logger
	now        func() time.Time

	version      string
	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64
	corsOrigins  []string
	searchMin    int
}

const defaultCacheTTL = 5 * time.Minute

func New(d Deps) *API {
	kv := d.KV
	if kv == nil {
		kv = cache.NewMemoryKV()
	}
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	log := d.Logger
	if log == nil {
		log = obs.Logger()
	}
	rec := d.Audit
	if rec == nil {
		rec = audit.NewRecorder(log, nil)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	searchMin := d.SearchMinLength
	if searchMin <= 0 {
		searchMin = listing.DefaultSearchMinLength
	}

	a := &API{
		mux:          http.NewServeMux(),
		upstream:     d.Upstream,
		sessions:     cache.NewSessionCache(kv, ttl),
		stream:       d.Stream,
		audit:        rec,
		readyProbe:   d.Ready,
		log:          log,
		now:          now,
		version:      d.Version,
		rateBurst:    d.RateBurst,
		ratePerSec:   d.RatePerSec,
		maxBodyBytes: d.MaxBodyBytes,
		corsOrigins:  d.CORSOrigins,
		searchMin:    searchMin,
	}
	a.directory = cache.NewDirectoryCache(kv, ttl, d.Upstream.Locations)

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/session", a.Session)
	a.mux.HandleFunc("/v1/navigation", a.Navigation)

	a.mux.HandleFunc("/v1/locations", a.Locations)
	a.mux.HandleFunc("/v1/locations/", a.LocationResource)

	a.mux.HandleFunc("/v1/movements", a.Movements)
	a.mux.HandleFunc("/v1/movements/infer", a.InferMovement)
	a.mux.HandleFunc("/v1/movements/validate", a.ValidateMovement)
	a.mux.HandleFunc("/v1/movements/archive", a.ArchiveMovements)
	a.mux.HandleFunc("/v1/movements/", a.MovementResource)

	a.mux.HandleFunc("/v1/deaths", a.Deaths)
	a.mux.HandleFunc("/v1/deaths/", a.DeathResource)

	a.mux.Handle("/v1/history", RequirePermission(permission.ViewUnifiedHistory, http.HandlerFunc(a.History)))
	a.mux.Handle("/v1/history/export.xlsx", RequirePermission(permission.PrintDocuments, http.HandlerFunc(a.ExportHistory)))
	a.mux.Handle("/v1/statistics", RequirePermission(permission.ViewStatistics, http.HandlerFunc(a.Statistics)))
	a.mux.Handle("/v1/statistics/export.xlsx", RequirePermission(permission.ViewStatistics, http.HandlerFunc(a.ExportStatistics)))

	a.mux.HandleFunc("/v1/no-movement-days", a.NoMovementDays)
	a.mux.HandleFunc("/v1/events", a.Events)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// InvalidateLocations drops the cached directory.
func (a *API) InvalidateLocations(ctx context.Context) {
	if err := a.directory.Invalidate(ctx); err != nil {
		a.log.Warn("location cache invalidation failed", zap.Error(err))
	}
}

func (a *API) locations(ctx context.Context) (*location.Directory, error) {
	return a.directory.Directory(ctx)
}

func (a *API) publish(evt stream.Event) {
	a.stream.Publish(evt)
}

func (a *API) record(ctx context.Context, event string, fields map[string]any) {
	// persistence failures are already logged by the recorder
	_, _ = a.audit.Record(ctx, event, fields)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "resitrack-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "resitrack-api",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
		"commit":  obs.Commit,
	})
}
