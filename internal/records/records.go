// Package records holds death records, no-movement days and the unified
// history interleaving movements and deaths, together with the filter sets
// used by their list screens.
package records

import (
	"sort"
	"time"

	"resitrack.org/internal/movement"
	"resitrack.org/internal/resident"
)

// Death is a death registration.
type Death struct {
	ID string `json:"id,omitempty"`
	resident.Identity

	Date    string `json:"date"`
	Time    string `json:"time"`
	Chambre string `json:"chambre"`
	Section string `json:"section,omitempty"`
	Service string `json:"service,omitempty"`

	Checked   bool   `json:"checked"`
	CheckedBy string `json:"checked_by,omitempty"`
	Author    string `json:"author,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// SetChecked applies a confirmed check toggle.
func (d Death) SetChecked(checked bool, by string) Death {
	d.Checked = checked
	if checked {
		d.CheckedBy = by
	} else {
		d.CheckedBy = ""
	}
	return d
}

// NoMovementDay flags that a service logs no movement on a date.
type NoMovementDay struct {
	Date      string `json:"date"`
	Service   string `json:"service"`
	CreatedBy string `json:"created_by,omitempty"`
}

// IsToday reports whether the flag concerns now's calendar day in now's location.
// Only today's flag may be withdrawn.
func (n NoMovementDay) IsToday(now time.Time) bool {
	return n.Date == now.Format("2006-01-02")
}

// Kind discriminates unified history entries.
type Kind string

const (
	KindMovement Kind = "movement"
	KindDeath    Kind = "death"
)

// HistoryEntry is one row of the unified history. Exactly one of Movement
// and Death is set, according to Kind.
type HistoryEntry struct {
	Kind     Kind               `json:"kind"`
	Movement *movement.Movement `json:"movement,omitempty"`
	Death    *Death             `json:"death,omitempty"`
}

// When returns the "date time" sort key of the entry.
func (h HistoryEntry) When() string {
	switch {
	case h.Movement != nil:
		return h.Movement.Date + " " + h.Movement.Time
	case h.Death != nil:
		return h.Death.Date + " " + h.Death.Time
	}
	return ""
}

// Resident returns the identity of the resident concerned.
func (h HistoryEntry) Resident() resident.Identity {
	switch {
	case h.Movement != nil:
		return h.Movement.Identity
	case h.Death != nil:
		return h.Death.Identity
	}
	return resident.Identity{}
}

// Label returns the movement type or "Décès".
func (h HistoryEntry) Label() string {
	if h.Movement != nil {
		return string(h.Movement.Type)
	}
	return "Décès"
}

// Interleave merges movements and deaths into one history ordered by date
// and time, newest first unless asc.
func Interleave(movements []movement.Movement, deaths []Death, asc bool) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(movements)+len(deaths))
	for i := range movements {
		m := movements[i]
		out = append(out, HistoryEntry{Kind: KindMovement, Movement: &m})
	}
	for i := range deaths {
		d := deaths[i]
		out = append(out, HistoryEntry{Kind: KindDeath, Death: &d})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].When() < out[j].When()
		}
		return out[i].When() > out[j].When()
	})
	return out
}
