package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	trequire "github.com/stretchr/testify/require"

	"resitrack.org/internal/auth"
	"resitrack.org/internal/client"
	"resitrack.org/internal/listing"
	"resitrack.org/internal/location"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
	"resitrack.org/internal/stream"
)

type fakeUser struct {
	me   client.Me
	snap permission.Snapshot
}

// fakeUpstream is an in-memory records backend.
type fakeUpstream struct {
	mu sync.Mutex

	users     map[string]fakeUser
	services  map[string]permission.Map
	locations []location.Location
	movements []movement.Movement
	deaths    []records.Death
	history   []records.HistoryEntry
	days      []records.NoMovementDay

	snapshotCalls int
	facilities    []string
	created       []movement.Movement
	checks        map[string]bool
	deleted       []string
	withdrawn     []records.NoMovementDay
	movementQuery listing.Query[records.MovementFilter]

	failWith error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		users:    map[string]fakeUser{},
		services: map[string]permission.Map{},
		checks:   map[string]bool{},
		locations: []location.Location{
			{ID: "r1", Name: "101", Kind: location.KindRoom, Service: location.ServiceMedecine},
			{ID: "r2", Name: "202", Kind: location.KindRoom, Service: "Chirurgie"},
			{ID: "r3", Name: "305", Kind: location.KindRoom, Service: location.ServiceMedecine, Section: location.SectionUSLD},
			{ID: "f1", Name: "Domicile", Kind: location.KindFacility},
		},
	}
}

func grant(keys ...permission.Key) permission.Map {
	m := permission.Map{}
	for _, k := range keys {
		m[k] = true
	}
	return m
}

func allKeys() []permission.Key {
	keys := make([]permission.Key, 0, len(permission.Catalog))
	for _, d := range permission.Catalog {
		keys = append(keys, d.Key)
	}
	return keys
}

func (f *fakeUpstream) addUser(token, username, service string, keys ...permission.Key) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[service] = grant(keys...)
	f.users[token] = fakeUser{
		me:   client.Me{Username: username, Service: service},
		snap: permission.Snapshot{ServiceMap: grant(keys...)},
	}
}

func (f *fakeUpstream) Snapshot(ctx context.Context) (client.Me, permission.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotCalls++
	token, _ := auth.TokenFromContext(ctx)
	u, ok := f.users[token]
	if !ok {
		return client.Me{}, permission.Snapshot{}, &client.APIError{HTTPStatus: http.StatusUnauthorized, Message: "token inconnu"}
	}
	return u.me, u.snap, nil
}

func (f *fakeUpstream) ServicePermissions(_ context.Context, service string) (permission.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.services[service].Clone(), nil
}

func (f *fakeUpstream) Locations(context.Context) ([]location.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]location.Location(nil), f.locations...), nil
}

func (f *fakeUpstream) CreateLocation(_ context.Context, l location.Location) (location.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l.ID = "loc-" + l.Name
	f.locations = append(f.locations, l)
	return l, nil
}

func (f *fakeUpstream) CreateFacility(ctx context.Context, name string) (location.Location, error) {
	f.mu.Lock()
	f.facilities = append(f.facilities, name)
	f.mu.Unlock()
	return f.CreateLocation(ctx, location.Location{Name: name, Kind: location.KindFacility})
}

func (f *fakeUpstream) DeleteLocation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUpstream) ListMovements(_ context.Context, q listing.Query[records.MovementFilter]) (listing.Page[movement.Movement], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movementQuery = q
	if f.failWith != nil {
		return listing.Page[movement.Movement]{}, f.failWith
	}
	return listing.Page[movement.Movement]{Items: append([]movement.Movement(nil), f.movements...), TotalPages: 1}, nil
}

func (f *fakeUpstream) CreateMovement(_ context.Context, m movement.Movement) (movement.Movement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return movement.Movement{}, f.failWith
	}
	m.ID = "m-new"
	f.created = append(f.created, m)
	f.movements = append(f.movements, m)
	return m, nil
}

func (f *fakeUpstream) SetMovementChecked(_ context.Context, id string, checked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.checks["movement:"+id] = checked
	return nil
}

func (f *fakeUpstream) DeleteMovement(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUpstream) ArchiveMovements(_ context.Context, days int) (int, error) {
	return days, nil
}

func (f *fakeUpstream) ListDeaths(context.Context, listing.Query[records.DeathFilter]) (listing.Page[records.Death], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return listing.Page[records.Death]{Items: append([]records.Death(nil), f.deaths...), TotalPages: 1}, nil
}

func (f *fakeUpstream) CreateDeath(_ context.Context, d records.Death) (records.Death, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = "d-new"
	f.deaths = append(f.deaths, d)
	return d, nil
}

func (f *fakeUpstream) SetDeathChecked(_ context.Context, id string, checked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks["death:"+id] = checked
	return nil
}

func (f *fakeUpstream) DeleteDeath(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUpstream) ListHistory(context.Context, listing.Query[records.HistoryFilter]) (listing.Page[records.HistoryEntry], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return listing.Page[records.HistoryEntry]{Items: append([]records.HistoryEntry(nil), f.history...), TotalPages: 1}, nil
}

func (f *fakeUpstream) NoMovementDays(_ context.Context, service string) ([]records.NoMovementDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []records.NoMovementDay
	for _, d := range f.days {
		if service == "" || d.Service == service {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeUpstream) DeclareNoMovementDay(_ context.Context, day records.NoMovementDay) (records.NoMovementDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.days = append(f.days, day)
	return day, nil
}

func (f *fakeUpstream) DeleteNoMovementDay(_ context.Context, date, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawn = append(f.withdrawn, records.NoMovementDay{Date: date, Service: service})
	return nil
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	up     *fakeUpstream
	api    *API
	stream *stream.Stream
	h      http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	up := newFakeUpstream()
	up.addUser("tok-nurse", "nurse", "Chirurgie",
		permission.CreateMovement, permission.ViewHistory, permission.CheckMovement,
		permission.CreateDeath, permission.ViewDeaths)
	up.addUser("tok-admin", "admin", "Direction", allKeys()...)
	up.addUser("tok-reader", "reader", "Chirurgie", permission.ViewHistory)

	st := stream.New(8)
	api := New(Deps{
		Upstream: up,
		Stream:   st,
		Version:  "test",
		Now:      func() time.Time { return testNow },
	})
	return &testEnv{up: up, api: api, stream: st, h: api.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Source    string          `json:"source"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	trequire.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	env := decodeEnvelope(t, rr)
	trequire.Equal(t, statusSuccess, env.Status, rr.Body.String())
	var out T
	trequire.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}
