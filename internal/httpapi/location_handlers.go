package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"resitrack.org/internal/location"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/stream"
)

const defaultSuggestLimit = 10

// Locations lists the directory (GET) or adds a location (POST). Anyone who
// can create movements may add a facility; rooms are administered.
func (a *API) Locations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, err := require(r); err != nil {
			fail(w, r, err)
			return
		}
		dir, err := a.locations(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"rooms":      nonNil(dir.Rooms()),
			"facilities": nonNil(dir.Facilities()),
		})
	case http.MethodPost:
		a.createLocation(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createLocation(w http.ResponseWriter, r *http.Request) {
	var req location.Location
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.ID = ""

	key := permission.CreateMovement
	if req.Kind == location.KindRoom {
		key = permission.ManageAdmin
	}
	if _, err := require(r, key); err != nil {
		fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		fail(w, r, err)
		return
	}
	dir, err := a.locations(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if !dir.Classify(req.Name).IsNovel() {
		writeError(w, r, http.StatusConflict, "ce lieu existe déjà")
		return
	}

	created, err := a.upstream.CreateLocation(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.InvalidateLocations(r.Context())
	a.record(r.Context(), "location.create", map[string]any{"name": created.Name, "type": string(created.Kind)})
	a.publish(stream.Event{Action: stream.ActionCreated, Record: stream.RecordLocation, RecordID: created.ID, Service: created.Service})
	writeData(w, http.StatusCreated, created)
}

// LocationResource serves /v1/locations/suggest and /v1/locations/{id}.
func (a *API) LocationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/locations/"), "/")
	switch rest {
	case "":
		writeError(w, r, http.StatusNotFound, "not found")
	case "suggest":
		a.suggestLocations(w, r)
	case "classify":
		a.classifyLocation(w, r)
	default:
		if strings.Contains(rest, "/") {
			writeError(w, r, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.deleteLocation(w, r, rest)
	}
}

func (a *API) suggestLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := require(r); err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	kind := location.Kind(q.Get("kind"))
	switch kind {
	case "", location.KindRoom, location.KindFacility:
	default:
		badRequest(w, r, "unknown kind %q", kind)
		return
	}
	limit := defaultSuggestLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, r, "invalid limit")
			return
		}
		limit = n
	}
	dir, err := a.locations(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nonNil(dir.Suggest(strings.TrimSpace(q.Get("q")), kind, limit)))
}

type classifyRequest struct {
	Value string `json:"value"`
}

type classifyResponse struct {
	Value      string `json:"value"`
	IsRoom     bool   `json:"is_room"`
	IsFacility bool   `json:"is_facility"`
	IsNovel    bool   `json:"is_novel"`
	Service    string `json:"service,omitempty"`
	Section    string `json:"section,omitempty"`
}

func (a *API) classifyLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, err := require(r); err != nil {
		fail(w, r, err)
		return
	}
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	dir, err := a.locations(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	c := dir.Classify(req.Value)
	writeData(w, http.StatusOK, classifyResponse{
		Value:      c.Value,
		IsRoom:     c.IsRoom,
		IsFacility: c.IsFacility,
		IsNovel:    c.IsNovel(),
		Service:    c.ServiceOf(),
		Section:    c.SectionOf(),
	})
}

func (a *API) deleteLocation(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := require(r, permission.ManageAdmin); err != nil {
		fail(w, r, err)
		return
	}
	if err := a.upstream.DeleteLocation(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	a.InvalidateLocations(r.Context())
	a.record(r.Context(), "location.delete", map[string]any{"id": id})
	a.publish(stream.Event{Action: stream.ActionDeleted, Record: stream.RecordLocation, RecordID: id})
	w.WriteHeader(http.StatusNoContent)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
