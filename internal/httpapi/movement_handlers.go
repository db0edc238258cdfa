package httpapi

import (
	"context"
	"errors"
	"net/http"

	"resitrack.org/internal/location"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/obs"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
	"resitrack.org/internal/stream"
)

type inferRequest struct {
	Origin      string         `json:"origin"`
	Destination string         `json:"destination"`
	Previous    movement.State `json:"previous"`
}

// InferMovement runs the decision table for one origin/destination pair.
// Sections already picked in previous are kept while the room is unchanged.
func (a *API) InferMovement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, err := require(r, permission.CreateMovement); err != nil {
		fail(w, r, err)
		return
	}
	var req inferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	dir, err := a.locations(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	st := movement.Evaluate(dir, req.Previous, req.Origin, req.Destination)
	obs.ObserveInference(string(st.Type))
	writeData(w, http.StatusOK, st)
}

type validateResponse struct {
	Valid   bool          `json:"valid"`
	Source  string        `json:"source,omitempty"`
	Message string        `json:"message,omitempty"`
	Form    movement.Form `json:"form"`
}

// ValidateMovement answers whether a form may be submitted, without
// submitting it.
func (a *API) ValidateMovement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	s, err := require(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var f movement.Form
	if err := decodeJSON(w, r, &f); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	f, _, err = a.deriveForm(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	resp := validateResponse{Valid: true, Form: f}
	if err := movement.Validate(f, s.Permissions); err != nil {
		var verr *movement.ValidationError
		if !errors.As(err, &verr) {
			fail(w, r, err)
			return
		}
		resp.Valid = false
		resp.Source = string(verr.Source)
		resp.Message = verr.Reason
	}
	writeData(w, http.StatusOK, resp)
}

// deriveForm recomputes the type and both sides from the directory. The
// submitted type only serves as the previous type, so a stale type is kept
// when the sides no longer decide and is then caught by validation.
func (a *API) deriveForm(ctx context.Context, f movement.Form) (movement.Form, *location.Directory, error) {
	dir, err := a.locations(ctx)
	if err != nil {
		return f, nil, err
	}
	prev := movement.State{
		Origin:      f.Origin,
		Destination: f.Destination,
		Type:        f.Type,
		Depart:      f.Depart,
		Arrivee:     f.Arrivee,
	}
	return f.Apply(movement.Evaluate(dir, prev, f.Origin, f.Destination)), dir, nil
}

// Movements lists (GET) or creates (POST) movements.
func (a *API) Movements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listMovements(w, r)
	case http.MethodPost:
		a.createMovement(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listMovements(w http.ResponseWriter, r *http.Request) {
	if _, err := require(r, permission.ViewHistory); err != nil {
		fail(w, r, err)
		return
	}
	q, err := parseListQuery(r.URL.Query(), a.searchMin, records.ParseMovementFilter)
	if err != nil {
		badRequest(w, r, "%v", err)
		return
	}
	page, err := a.upstream.ListMovements(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePage(w, q, page)
}

func (a *API) createMovement(w http.ResponseWriter, r *http.Request) {
	s, err := require(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var f movement.Form
	if err := decodeJSON(w, r, &f); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	f, dir, err := a.deriveForm(r.Context(), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := movement.Validate(f, s.Permissions); err != nil {
		fail(w, r, err)
		return
	}

	m := f.Movement(s.Username)
	created := false
	for _, lieu := range []string{m.LieuDepart, m.LieuArrivee} {
		if !dir.Classify(lieu).IsNovel() {
			continue
		}
		if err := location.ValidateInline(location.Location{Name: lieu, Kind: location.KindFacility}); err != nil {
			fail(w, r, err)
			return
		}
		if _, err := a.upstream.CreateFacility(r.Context(), lieu); err != nil {
			fail(w, r, err)
			return
		}
		created = true
		a.record(r.Context(), "location.create", map[string]any{"name": lieu, "type": string(location.KindFacility), "inline": true})
	}
	if created {
		a.InvalidateLocations(r.Context())
	}

	out, err := a.upstream.CreateMovement(r.Context(), m)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "movement.create", map[string]any{"id": out.ID, "type": string(out.Type), "service": out.Service()})
	a.publish(stream.Event{
		Action:   stream.ActionCreated,
		Record:   stream.RecordMovement,
		RecordID: out.ID,
		Service:  out.Service(),
		Type:     string(out.Type),
		Resident: displayName(out.Nom, out.Prenom),
		Actor:    s.Username,
	})
	writeData(w, http.StatusCreated, out)
}

// MovementResource serves /v1/movements/{id} and /v1/movements/{id}/checked.
func (a *API) MovementResource(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, "/v1/movements/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.deleteRecord(w, r, stream.RecordMovement, id, permission.DeleteMovement, a.upstream.DeleteMovement)
	case "checked":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.checkRecord(w, r, stream.RecordMovement, id, a.upstream.SetMovementChecked)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

type archiveRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

func (a *API) ArchiveMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	s, err := require(r, permission.DeleteMovement)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req archiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	if req.OlderThanDays < 1 {
		badRequest(w, r, "older_than_days must be >= 1")
		return
	}
	n, err := a.upstream.ArchiveMovements(r.Context(), req.OlderThanDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "movement.archive", map[string]any{"older_than_days": req.OlderThanDays, "archived": n})
	a.publish(stream.Event{Action: stream.ActionArchived, Record: stream.RecordMovement, Count: n, Actor: s.Username})
	writeData(w, http.StatusOK, map[string]int{"archived": n})
}

type checkResponse struct {
	ID        string `json:"id"`
	Checked   bool   `json:"checked"`
	CheckedBy string `json:"checked_by,omitempty"`
}

// checkRecord forwards a check toggle. The returned state is what the list
// applies in place; nothing is refetched.
func (a *API) checkRecord(w http.ResponseWriter, r *http.Request, kind stream.Record, id string, set func(context.Context, string, bool) error) {
	s, err := require(r, permission.CheckMovement)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	if req.Checked == nil {
		badRequest(w, r, "checked is required")
		return
	}
	if err := set(r.Context(), id, *req.Checked); err != nil {
		fail(w, r, err)
		return
	}
	resp := checkResponse{ID: id, Checked: *req.Checked}
	action := stream.ActionUnchecked
	if resp.Checked {
		resp.CheckedBy = s.Username
		action = stream.ActionChecked
	}
	a.record(r.Context(), string(kind)+"."+string(action), map[string]any{"id": id})
	a.publish(stream.Event{Action: action, Record: kind, RecordID: id, Actor: s.Username})
	writeData(w, http.StatusOK, resp)
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request, kind stream.Record, id string, key permission.Key, del func(context.Context, string) error) {
	s, err := require(r, key)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := del(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), string(kind)+".delete", map[string]any{"id": id})
	a.publish(stream.Event{Action: stream.ActionDeleted, Record: kind, RecordID: id, Actor: s.Username})
	w.WriteHeader(http.StatusNoContent)
}

// displayName is what live subscribers get instead of the full identity.
func displayName(nom, prenom string) string {
	switch {
	case nom == "":
		return prenom
	case prenom == "":
		return nom
	}
	return prenom + " " + nom
}
