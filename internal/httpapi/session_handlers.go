package httpapi

import (
	"net/http"

	"resitrack.org/internal/navigation"
	"resitrack.org/internal/permission"
)

type sessionView struct {
	Username    string              `json:"username"`
	Service     string              `json:"service"`
	Loading     bool                `json:"loading"`
	Custom      bool                `json:"custom"`
	Permissions map[string]bool     `json:"permissions"`
	Granted     []permission.Key    `json:"granted"`
	Overrides   []permission.Change `json:"overrides,omitempty"`
}

// Session describes the caller and what they may do. When a user-level map
// is in effect, the keys where it departs from the service defaults are
// listed for display.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, err := require(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	effective := s.Permissions.Effective()
	view := sessionView{
		Username:    s.Username,
		Service:     s.Service,
		Loading:     s.Permissions.Loading(),
		Custom:      s.Permissions.Custom(),
		Permissions: effective.Raw(),
		Granted:     s.Permissions.Granted(),
	}
	if view.Custom {
		defaults, err := a.upstream.ServicePermissions(r.Context(), s.Service)
		if err != nil {
			fail(w, r, err)
			return
		}
		view.Overrides = permission.Diff(defaults, effective)
	}
	writeData(w, http.StatusOK, view)
}

func (a *API) Navigation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	s, err := require(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, navigation.Compose(s.Permissions))
}
