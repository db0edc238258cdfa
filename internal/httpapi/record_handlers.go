package httpapi

import (
	"net/http"
	"strings"
	"time"

	"resitrack.org/internal/location"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/records"
	"resitrack.org/internal/stream"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Deaths lists (GET) or declares (POST) deaths.
func (a *API) Deaths(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listDeaths(w, r)
	case http.MethodPost:
		a.createDeath(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listDeaths(w http.ResponseWriter, r *http.Request) {
	if _, err := require(r, permission.ViewDeaths); err != nil {
		fail(w, r, err)
		return
	}
	q, err := parseListQuery(r.URL.Query(), a.searchMin, records.ParseDeathFilter)
	if err != nil {
		badRequest(w, r, "%v", err)
		return
	}
	page, err := a.upstream.ListDeaths(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePage(w, q, page)
}

// createDeath fills the service and section from the room; a Médecine room
// without its own section needs one in the request.
func (a *API) createDeath(w http.ResponseWriter, r *http.Request) {
	s, err := require(r, permission.CreateDeath)
	if err != nil {
		fail(w, r, err)
		return
	}
	var d records.Death
	if err := decodeJSON(w, r, &d); err != nil {
		badRequest(w, r, "invalid json: %v", err)
		return
	}
	d.Identity = d.Identity.Normalize()
	if err := d.Identity.Validate(); err != nil {
		fail(w, r, err)
		return
	}
	d.Date, d.Time = strings.TrimSpace(d.Date), strings.TrimSpace(d.Time)
	if _, err := time.Parse(dateLayout, d.Date); err != nil {
		writeErrorSource(w, r, http.StatusUnprocessableEntity, "date du décès manquante ou invalide", "form")
		return
	}
	if _, err := time.Parse(timeLayout, d.Time); err != nil {
		writeErrorSource(w, r, http.StatusUnprocessableEntity, "heure du décès manquante ou invalide", "form")
		return
	}

	dir, err := a.locations(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	room, ok := dir.Classify(strings.TrimSpace(d.Chambre)).Room()
	if !ok {
		writeErrorSource(w, r, http.StatusUnprocessableEntity, "chambre inconnue", "form")
		return
	}
	d.Chambre = room.Name
	d.Service = room.Service
	switch {
	case room.Section != "":
		d.Section = room.Section
	case room.Service == location.ServiceMedecine:
		if d.Section == "" || !location.ValidSection(d.Section) {
			writeErrorSource(w, r, http.StatusUnprocessableEntity, "section à préciser (Médecine ou USLD)", "form")
			return
		}
	default:
		d.Section = ""
	}
	d.ID, d.Checked, d.CheckedBy, d.CreatedAt = "", false, "", ""
	d.Author = s.Username

	out, err := a.upstream.CreateDeath(r.Context(), d)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "death.create", map[string]any{"id": out.ID, "service": out.Service})
	a.publish(stream.Event{
		Action:   stream.ActionCreated,
		Record:   stream.RecordDeath,
		RecordID: out.ID,
		Service:  out.Service,
		Resident: displayName(out.Nom, out.Prenom),
		Actor:    s.Username,
	})
	writeData(w, http.StatusCreated, out)
}

// DeathResource serves /v1/deaths/{id} and /v1/deaths/{id}/checked.
func (a *API) DeathResource(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(r.URL.Path, "/v1/deaths/")
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
		a.deleteRecord(w, r, stream.RecordDeath, id, permission.DeleteDeath, a.upstream.DeleteDeath)
	case "checked":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w, r, http.MethodPatch)
			return
		}
		a.checkRecord(w, r, stream.RecordDeath, id, a.upstream.SetDeathChecked)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q, err := parseListQuery(r.URL.Query(), a.searchMin, records.ParseHistoryFilter)
	if err != nil {
		badRequest(w, r, "%v", err)
		return
	}
	page, err := a.upstream.ListHistory(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writePage(w, q, page)
}

// NoMovementDays lists, declares or withdraws the "no movement today" flag
// of the caller's service.
func (a *API) NoMovementDays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listNoMovementDays(w, r)
	case http.MethodPost:
		a.declareNoMovementDay(w, r)
	case http.MethodDelete:
		a.withdrawNoMovementDay(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) listNoMovementDays(w http.ResponseWriter, r *http.Request) {
	s, err := require(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	service := r.URL.Query().Get("service")
	if !s.Can(permission.ManageAdmin) {
		service = s.Service
	}
	days, err := a.upstream.NoMovementDays(r.Context(), service)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nonNil(days))
}

type declareRequest struct {
	Date string `json:"date"`
}

func (a *API) declareNoMovementDay(w http.ResponseWriter, r *http.Request) {
	s, err := require(r, permission.CreateMovement)
	if err != nil {
		fail(w, r, err)
		return
	}
	if s.Service == "" {
		writeError(w, r, http.StatusForbidden, "aucun service rattaché à ce compte")
		return
	}
	var req declareRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			badRequest(w, r, "invalid json: %v", err)
			return
		}
	}
	day := records.NoMovementDay{Date: strings.TrimSpace(req.Date), Service: s.Service, CreatedBy: s.Username}
	if day.Date == "" {
		day.Date = a.now().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, day.Date); err != nil {
		badRequest(w, r, "invalid date %q", day.Date)
		return
	}
	out, err := a.upstream.DeclareNoMovementDay(r.Context(), day)
	if err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "no_movement_day.declare", map[string]any{"date": out.Date})
	a.publish(stream.Event{Action: stream.ActionCreated, Record: stream.RecordNoMovementDay, RecordID: out.Date, Service: out.Service, Actor: s.Username})
	writeData(w, http.StatusCreated, out)
}

// withdrawNoMovementDay only accepts today's flag of the caller's own service.
func (a *API) withdrawNoMovementDay(w http.ResponseWriter, r *http.Request) {
	s, err := require(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	day := records.NoMovementDay{Date: q.Get("date"), Service: q.Get("service")}
	if day.Service == "" {
		day.Service = s.Service
	}
	if day.Date == "" {
		day.Date = a.now().Format(dateLayout)
	}
	if !s.IsInService(day.Service) {
		writeErrorSource(w, r, http.StatusForbidden, "seul le service concerné peut retirer ce signalement", "permission")
		return
	}
	if !day.IsToday(a.now()) {
		writeErrorSource(w, r, http.StatusUnprocessableEntity, "seul le signalement du jour peut être retiré", "form")
		return
	}
	if err := a.upstream.DeleteNoMovementDay(r.Context(), day.Date, day.Service); err != nil {
		fail(w, r, err)
		return
	}
	a.record(r.Context(), "no_movement_day.withdraw", map[string]any{"date": day.Date})
	a.publish(stream.Event{Action: stream.ActionDeleted, Record: stream.RecordNoMovementDay, RecordID: day.Date, Service: day.Service, Actor: s.Username})
	w.WriteHeader(http.StatusNoContent)
}
