package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	trequire "github.com/stretchr/testify/require"

	"resitrack.org/internal/client"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/navigation"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
	"resitrack.org/internal/stream"
)

const residentJSON = `"resident":{"nom":"Martin","prenom":"Louise","naissance":"1940-03-02","sex":"F"}`

func TestPublicEndpointsNeedNoToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/v1/info"} {
		rr := env.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
	assert.Equal(t, 0, env.up.snapshotCalls)
}

func TestMissingTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/session", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
	body := decodeEnvelope(t, rr)
	assert.Equal(t, statusError, body.Status)
	assert.NotEmpty(t, body.RequestID)
}

func TestUnknownTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/session", "nope", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionIsResolvedOncePerToken(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		rr := env.do(t, http.MethodGet, "/v1/session", "tok-nurse", "")
		trequire.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	assert.Equal(t, 1, env.up.snapshotCalls)

	view := decodeData[sessionView](t, env.do(t, http.MethodGet, "/v1/session", "tok-nurse", ""))
	assert.Equal(t, "nurse", view.Username)
	assert.Equal(t, "Chirurgie", view.Service)
	assert.False(t, view.Loading)
	assert.True(t, view.Permissions[string(permission.CreateMovement)])
	assert.False(t, view.Permissions[string(permission.ManageAdmin)])
}

func TestSessionListsOverridesOfCustomPermissions(t *testing.T) {
	env := newTestEnv(t)
	env.up.services["Pharmacie"] = grant(permission.ViewHistory, permission.ViewDeaths)
	env.up.users["tok-custom"] = fakeUser{
		me: client.Me{Username: "custom", Service: "Pharmacie", HasCustomPermissions: true},
		snap: permission.Snapshot{
			ServiceMap:           grant(permission.ViewHistory, permission.ViewDeaths),
			UserMap:              grant(permission.ViewHistory, permission.ViewStatistics),
			HasCustomPermissions: true,
		},
	}

	view := decodeData[sessionView](t, env.do(t, http.MethodGet, "/v1/session", "tok-custom", ""))
	assert.True(t, view.Custom)
	assert.False(t, view.Permissions[string(permission.ViewDeaths)], "user map replaces the service map")

	var keys []permission.Key
	for _, c := range view.Overrides {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []permission.Key{permission.ViewDeaths, permission.ViewStatistics}, keys)
}

func TestNavigationFollowsPermissions(t *testing.T) {
	env := newTestEnv(t)
	layout := decodeData[navigation.Layout](t, env.do(t, http.MethodGet, "/v1/navigation", "tok-reader", ""))
	assert.Equal(t, []string{"Historique des mouvements"}, layout.Labels())

	layout = decodeData[navigation.Layout](t, env.do(t, http.MethodGet, "/v1/navigation", "tok-admin", ""))
	trequire.Len(t, layout.Sections, 4)
	assert.Equal(t, "admin", layout.Sections[3].ID)
}

func TestSuggestAndClassifyLocations(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/locations/suggest?q=dom&kind=facility", "tok-nurse", "")
	trequire.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	names := decodeData[[]struct {
		Name string `json:"name"`
	}](t, rr)
	trequire.Len(t, names, 1)
	assert.Equal(t, "Domicile", names[0].Name)

	c := decodeData[classifyResponse](t, env.do(t, http.MethodPost, "/v1/locations/classify", "tok-nurse", `{"value":"305"}`))
	assert.True(t, c.IsRoom)
	assert.Equal(t, "USLD", c.Section)

	c = decodeData[classifyResponse](t, env.do(t, http.MethodPost, "/v1/locations/classify", "tok-nurse", `{"value":"Clinique du Parc"}`))
	assert.True(t, c.IsNovel)
}

func TestCreatingRoomsNeedsAdministration(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/locations", "tok-nurse", `{"name":"404","type":"room","service":"Chirurgie"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/locations", "tok-nurse", `{"name":"Clinique du Parc","type":"facility"}`)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/v1/locations", "tok-nurse", `{"name":"Domicile","type":"facility"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/locations", "tok-admin", `{"name":"404","type":"room","service":"Chirurgie"}`)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestInferMovement(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		origin, destination string
		want                movement.Type
	}{
		{"202", "305", movement.TypeTransfert},
		{"202", "Domicile", movement.TypeSortie},
		{"Domicile", "202", movement.TypeEntree},
		{"", "", movement.TypeUndetermined},
	}
	for _, tc := range cases {
		body := fmt.Sprintf(`{"origin":%q,"destination":%q}`, tc.origin, tc.destination)
		st := decodeData[movement.State](t, env.do(t, http.MethodPost, "/v1/movements/infer", "tok-nurse", body))
		assert.Equal(t, tc.want, st.Type, "%s -> %s", tc.origin, tc.destination)
	}

	st := decodeData[movement.State](t, env.do(t, http.MethodPost, "/v1/movements/infer", "tok-nurse",
		`{"origin":"Domicile","destination":"101"}`))
	assert.True(t, st.Arrivee.RequiresSection)
}

func TestValidateCatchesStaleType(t *testing.T) {
	env := newTestEnv(t)
	body := `{` + residentJSON + `,"date":"2026-03-14","time":"09:00","origin":"Domicile","destination":"Clinique du Parc","type":"Entrée"}`
	resp := decodeData[validateResponse](t, env.do(t, http.MethodPost, "/v1/movements/validate", "tok-nurse", body))
	assert.False(t, resp.Valid)
	assert.Equal(t, "form", resp.Source)
	assert.Equal(t, movement.TypeEntree, resp.Form.Type)
}

func TestValidateChecksPermissionFirst(t *testing.T) {
	env := newTestEnv(t)
	resp := decodeData[validateResponse](t, env.do(t, http.MethodPost, "/v1/movements/validate", "tok-reader", `{"origin":"Domicile"}`))
	assert.False(t, resp.Valid)
	assert.Equal(t, "permission", resp.Source)
	assert.Equal(t, movement.MessageUnauthorized, resp.Message)
}

func TestValidateKeepsChosenSection(t *testing.T) {
	env := newTestEnv(t)
	base := `{` + residentJSON + `,"date":"2026-03-14","time":"09:00","origin":"Domicile","destination":"101"`

	resp := decodeData[validateResponse](t, env.do(t, http.MethodPost, "/v1/movements/validate", "tok-nurse", base+`}`))
	assert.False(t, resp.Valid)

	resp = decodeData[validateResponse](t, env.do(t, http.MethodPost, "/v1/movements/validate", "tok-nurse",
		base+`,"arrivee":{"chambre":"101","section":"USLD"}}`))
	assert.True(t, resp.Valid, resp.Message)
	assert.Equal(t, "USLD", resp.Form.Arrivee.Section)
}

func TestCreateMovementWithoutPermissionIsNotForwarded(t *testing.T) {
	env := newTestEnv(t)
	body := `{` + residentJSON + `,"date":"2026-03-14","time":"09:00","origin":"Domicile","destination":"202"}`
	rr := env.do(t, http.MethodPost, "/v1/movements", "tok-reader", body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "permission", decodeEnvelope(t, rr).Source)
	assert.Empty(t, env.up.created)
}

func TestCreateMovementAddsNovelFacility(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := env.stream.Subscribe(ctx)

	body := `{` + residentJSON + `,"date":"2026-03-14","time":"09:00","origin":"Clinique du Parc","destination":"202","stay":{"mode":"indeterminee"}}`
	rr := env.do(t, http.MethodPost, "/v1/movements", "tok-nurse", body)
	trequire.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	trequire.Len(t, env.up.created, 1)
	m := env.up.created[0]
	assert.Equal(t, movement.TypeEntree, m.Type)
	assert.Equal(t, "Clinique du Parc", m.LieuDepart)
	assert.Equal(t, "202", m.ChambreArrivee)
	assert.Equal(t, "Chirurgie", m.ServiceArrivee)
	assert.Equal(t, "nurse", m.Author)
	assert.Equal(t, []string{"Clinique du Parc"}, env.up.facilities)

	c := decodeData[classifyResponse](t, env.do(t, http.MethodPost, "/v1/locations/classify", "tok-nurse", `{"value":"Clinique du Parc"}`))
	assert.True(t, c.IsFacility, "directory is reloaded after inline creation")

	select {
	case evt := <-events:
		assert.Equal(t, stream.ActionCreated, evt.Action)
		assert.Equal(t, stream.RecordMovement, evt.Record)
		assert.Equal(t, "Chirurgie", evt.Service)
		assert.Equal(t, "Louise Martin", evt.Resident)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestCreateMovementTrimsKnownFacility(t *testing.T) {
	env := newTestEnv(t)

	body := `{` + residentJSON + `,"date":"2026-03-14","time":"09:00","origin":" Domicile ","destination":"202","stay":{"mode":"indeterminee"}}`
	rr := env.do(t, http.MethodPost, "/v1/movements", "tok-nurse", body)
	trequire.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	trequire.Len(t, env.up.created, 1)
	assert.Equal(t, "Domicile", env.up.created[0].LieuDepart)
	assert.Empty(t, env.up.facilities, "a padded known facility is not created again")
}

func TestListMovementsAppliesSearchRules(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/movements?search=ab&page=2&type=Sortie", "tok-nurse", "")
	trequire.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "", env.up.movementQuery.Search)
	assert.Equal(t, 2, env.up.movementQuery.Page)
	assert.Equal(t, movement.TypeSortie, env.up.movementQuery.Filters.Type)
	assert.Equal(t, "browsing", decodeData[map[string]any](t, rr)["mode"])

	rr = env.do(t, http.MethodGet, "/v1/movements?search=mar&page=4&reset=1&sort=asc", "tok-nurse", "")
	trequire.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "mar", env.up.movementQuery.Search)
	assert.Equal(t, 1, env.up.movementQuery.Page)
	assert.Equal(t, "searching", decodeData[map[string]any](t, rr)["mode"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/movements?page=0", "tok-nurse", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/movements?checked=maybe", "tok-nurse", "").Code)

	rr = env.do(t, http.MethodGet, "/v1/history?kind=birth", "tok-admin", "")
	trequire.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, `invalid filter: unknown kind "birth"`, decodeEnvelope(t, rr).Message)
}

func TestCheckMovement(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPatch, "/v1/movements/m1/checked", "tok-nurse", `{"checked":true}`)
	trequire.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeData[checkResponse](t, rr)
	assert.Equal(t, checkResponse{ID: "m1", Checked: true, CheckedBy: "nurse"}, resp)
	assert.True(t, env.up.checks["movement:m1"])

	rr = env.do(t, http.MethodPatch, "/v1/movements/m1/checked", "tok-reader", `{"checked":false}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPatch, "/v1/movements/m1/checked", "tok-nurse", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/movements/m1/checked", "tok-nurse", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, http.MethodPatch, rr.Header().Get("Allow"))
}

func TestUpstreamErrorsAreTranslated(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: dial tcp", client.ErrTransport), http.StatusBadGateway},
		{&client.APIError{HTTPStatus: http.StatusConflict, Message: "déjà vérifié"}, http.StatusConflict},
		{&client.APIError{HTTPStatus: http.StatusUnprocessableEntity, Message: "bad"}, http.StatusBadRequest},
		{&client.APIError{HTTPStatus: http.StatusInternalServerError, Message: "boom"}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		env.up.failWith = tc.err
		rr := env.do(t, http.MethodPatch, "/v1/movements/m1/checked", "tok-nurse", `{"checked":true}`)
		assert.Equal(t, tc.want, rr.Code, tc.err.Error())
	}
}

func TestArchiveAndDelete(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/movements/archive", "tok-nurse", `{"older_than_days":30}`).Code)

	rr := env.do(t, http.MethodPost, "/v1/movements/archive", "tok-admin", `{"older_than_days":30}`)
	trequire.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 30, decodeData[map[string]int](t, rr)["archived"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/movements/archive", "tok-admin", `{"older_than_days":0}`).Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/movements/m9", "tok-admin", "").Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/v1/deaths/d9", "tok-admin", "").Code)
	assert.Equal(t, []string{"m9", "d9"}, env.up.deleted)
}

func TestDeclareDeathTakesServiceFromRoom(t *testing.T) {
	env := newTestEnv(t)
	body := `{"nom":"Martin","prenom":"Louise","naissance":"1940-03-02","sex":"F","date":"2026-03-14","time":"04:10","chambre":"305"}`
	rr := env.do(t, http.MethodPost, "/v1/deaths", "tok-nurse", body)
	trequire.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	d := decodeData[records.Death](t, rr)
	assert.Equal(t, "Médecine", d.Service)
	assert.Equal(t, "USLD", d.Section)
	assert.Equal(t, "nurse", d.Author)

	body = `{"nom":"Martin","prenom":"Louise","naissance":"1940-03-02","sex":"F","date":"2026-03-14","time":"04:10","chambre":"101"}`
	rr = env.do(t, http.MethodPost, "/v1/deaths", "tok-nurse", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	body = `{"nom":"Martin","prenom":"Louise","naissance":"1940-03-02","sex":"F","date":"2026-03-14","time":"04:10","chambre":"Domicile"}`
	rr = env.do(t, http.MethodPost, "/v1/deaths", "tok-nurse", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/deaths", "tok-reader", body).Code)
}


func TestNoMovementDays(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodPost, "/v1/no-movement-days", "tok-nurse", "")
	trequire.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	day := decodeData[records.NoMovementDay](t, rr)
	assert.Equal(t, records.NoMovementDay{Date: "2026-03-14", Service: "Chirurgie", CreatedBy: "nurse"}, day)

	days := decodeData[[]records.NoMovementDay](t, env.do(t, http.MethodGet, "/v1/no-movement-days?service=Direction", "tok-nurse", ""))
	trequire.Len(t, days, 1, "non-admins only see their own service")
	assert.Equal(t, "Chirurgie", days[0].Service)

	rr = env.do(t, http.MethodDelete, "/v1/no-movement-days?date=2026-03-13", "tok-nurse", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = env.do(t, http.MethodDelete, "/v1/no-movement-days?date=2026-03-14&service=Direction", "tok-nurse", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodDelete, "/v1/no-movement-days?date=2026-03-14", "tok-nurse", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []records.NoMovementDay{{Date: "2026-03-14", Service: "Chirurgie"}}, env.up.withdrawn)
}

func TestStatisticsAndExports(t *testing.T) {
	env := newTestEnv(t)
	env.up.movements = []movement.Movement{
		{ID: "1", Type: movement.TypeEntree, Date: "2026-02-01", ServiceArrivee: "Chirurgie"},
		{ID: "2", Type: movement.TypeSortie, Date: "2026-02-03", ServiceDepart: "Chirurgie"},
	}
	env.up.deaths = []records.Death{{ID: "d", Date: "2026-03-01", Service: "Médecine"}}
	env.up.history = []records.HistoryEntry{{Kind: records.KindMovement, Movement: &env.up.movements[0]}}

	for _, path := range []string{"/v1/statistics", "/v1/statistics/export.xlsx", "/v1/history", "/v1/history/export.xlsx"} {
		rr := env.do(t, http.MethodGet, path, "tok-nurse", "")
		assert.Equal(t, http.StatusForbidden, rr.Code, path)
		assert.Equal(t, "error", decodeEnvelope(t, rr).Status, path)
	}
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/history", "", "").Code)

	rr := env.do(t, http.MethodGet, "/v1/statistics?from=2026-01-01", "tok-admin", "")
	trequire.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"Chirurgie"`)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/statistics?from=yesterday", "tok-admin", "").Code)

	rr = env.do(t, http.MethodGet, "/v1/statistics/export.xlsx", "tok-admin", "")
	trequire.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, xlsxContentType, rr.Header().Get("Content-Type"))
	assert.Equal(t, "PK", rr.Body.String()[:2])

	rr = env.do(t, http.MethodGet, "/v1/history/export.xlsx", "tok-admin", "")
	trequire.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "historique.xlsx")
}

func TestEventsRequireStream(t *testing.T) {
	up := newFakeUpstream()
	up.addUser("tok", "nurse", "Chirurgie")
	h := New(Deps{Upstream: up}).Handler()
	env := &testEnv{up: up, h: h}
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/v1/events", "tok", "").Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/nothing", "tok-nurse", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/movements/a/b/c", "tok-nurse", "").Code)
}
