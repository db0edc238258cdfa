package permission

import (
	"sort"

	"resitrack.org/internal/movement"
)

// Map grants or denies catalog keys. Missing keys are denied.
type Map map[Key]bool

// ParseMap converts a raw upstream map, dropping keys outside the catalog.
// Dropped keys are returned sorted so callers can report drift.
func ParseMap(raw map[string]bool) (Map, []string) {
	m := make(Map, len(raw))
	var unknown []string
	for k, v := range raw {
		key := Key(k)
		if !Known(key) {
			unknown = append(unknown, k)
			continue
		}
		m[key] = v
	}
	sort.Strings(unknown)
	return m, unknown
}

// Clone returns an independent copy.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Raw converts the map back to its wire form with every catalog key present.
func (m Map) Raw() map[string]bool {
	out := make(map[string]bool, len(Catalog))
	for _, d := range Catalog {
		out[string(d.Key)] = m[d.Key]
	}
	return out
}

// Snapshot is what the backend returns for a user: the defaults of their
// service, their own map, and whether the latter applies.
type Snapshot struct {
	ServiceMap           Map  `json:"service_permissions"`
	UserMap              Map  `json:"user_permissions"`
	HasCustomPermissions bool `json:"has_custom_permissions"`
}

// Resolver answers capability queries. It is immutable; resolve a snapshot
// once per session and pass the value along.
type Resolver struct {
	ready     bool
	custom    bool
	effective Map
}

// Pending returns a resolver for permissions still loading. It denies everything.
func Pending() Resolver { return Resolver{} }

// Resolve builds the resolver of a loaded snapshot. With custom permissions
// the user map replaces the service map entirely; there is no per-key fallback.
func Resolve(s Snapshot) Resolver {
	src := s.ServiceMap
	if s.HasCustomPermissions {
		src = s.UserMap
	}
	return Resolver{ready: true, custom: s.HasCustomPermissions, effective: src.Clone()}
}

// Loading reports whether permissions are not resolved yet.
func (r Resolver) Loading() bool { return !r.ready }

// Custom reports whether the user-level override is in effect.
func (r Resolver) Custom() bool { return r.custom }

// Can reports whether key is granted. Always false while loading.
func (r Resolver) Can(key Key) bool {
	if !r.ready {
		return false
	}
	return r.effective[key]
}

// CanCreateMovementType reports whether a movement of type t may be created.
// Every type falls under CreateMovement; the catalog has no per-type key.
func (r Resolver) CanCreateMovementType(_ movement.Type) bool {
	return r.Can(CreateMovement)
}

// Effective returns a copy of the map in effect.
func (r Resolver) Effective() Map {
	if !r.ready {
		return Map{}
	}
	return r.effective.Clone()
}

// Granted lists granted keys in catalog order.
func (r Resolver) Granted() []Key {
	var keys []Key
	for _, d := range Catalog {
		if r.Can(d.Key) {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

// Change is a key on which a user override departs from the service default.
type Change struct {
	Key     Key    `json:"key"`
	Label   string `json:"label"`
	Service bool   `json:"service"`
	User    bool   `json:"user"`
}

// Diff lists, in catalog order, the keys where user differs from service.
// It is for display only; resolution never merges the two maps.
func Diff(service, user Map) []Change {
	var out []Change
	for _, d := range Catalog {
		s, u := service[d.Key], user[d.Key]
		if s != u {
			out = append(out, Change{Key: d.Key, Label: d.Label, Service: s, User: u})
		}
	}
	return out
}
