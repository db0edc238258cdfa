// Package movement infers the type of a resident movement from its origin and
// destination, keeps the derived form fields in sync and validates the form
// before submission.
package movement

import (
	"fmt"

	"resitrack.org/internal/resident"
)

// Type is the derived movement kind. The zero value means undetermined.
type Type string

const (
	TypeUndetermined Type = ""
	TypeEntree       Type = "Entrée"
	TypeSortie       Type = "Sortie"
	TypeTransfert    Type = "Transfert"
)

// Types lists the determined types in display order.
var Types = []Type{TypeEntree, TypeSortie, TypeTransfert}

// Determined reports whether t is one of Entrée, Sortie or Transfert.
func (t Type) Determined() bool {
	switch t {
	case TypeEntree, TypeSortie, TypeTransfert:
		return true
	}
	return false
}

// ParseType accepts the upstream spelling of a type; "" parses as undetermined.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if t == TypeUndetermined || t.Determined() {
		return t, nil
	}
	return TypeUndetermined, fmt.Errorf("movement: unknown type %q", s)
}

// StayMode tells whether a stay has a planned end.
type StayMode string

const (
	StayIndeterminate StayMode = "indeterminee"
	StayFixed         StayMode = "date"
)

// Stay is the planned duration of a stay following an Entrée or a Transfert.
type Stay struct {
	Mode    StayMode `json:"mode"`
	EndDate string   `json:"end_date,omitempty"`
}

// Side is the derived descriptor of one end of a movement. Exactly one of
// Chambre and Lieu is set once the side is known.
type Side struct {
	Chambre string `json:"chambre,omitempty"`
	Lieu    string `json:"lieu,omitempty"`
	Service string `json:"service,omitempty"`
	Section string `json:"section,omitempty"`
	// RequiresSection is set for Médecine rooms that carry no section of their own.
	RequiresSection bool `json:"requires_section,omitempty"`
}

// IsRoom reports whether the side designates an internal room.
func (s Side) IsRoom() bool { return s.Chambre != "" }

// Empty reports whether nothing is known about the side.
func (s Side) Empty() bool { return s.Chambre == "" && s.Lieu == "" }

// SectionComplete reports whether a required section has been picked.
func (s Side) SectionComplete() bool { return !s.RequiresSection || s.Section != "" }

// Movement is a recorded Entrée, Sortie or Transfert as exchanged with the
// upstream backend.
type Movement struct {
	ID string `json:"id,omitempty"`
	resident.Identity

	Type Type   `json:"type"`
	Date string `json:"date"`
	Time string `json:"time"`

	ChambreDepart string `json:"chambreDepart,omitempty"`
	LieuDepart    string `json:"lieuDepart,omitempty"`
	ServiceDepart string `json:"serviceDepart,omitempty"`
	SectionDepart string `json:"sectionDepart,omitempty"`

	ChambreArrivee string `json:"chambreArrivee,omitempty"`
	LieuArrivee    string `json:"lieuArrivee,omitempty"`
	ServiceArrivee string `json:"serviceArrivee,omitempty"`
	SectionArrivee string `json:"sectionArrivee,omitempty"`

	Stay Stay `json:"stay"`

	Checked   bool   `json:"checked"`
	CheckedBy string `json:"checked_by,omitempty"`
	Author    string `json:"author,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Depart returns the departure side of a recorded movement.
func (m Movement) Depart() Side {
	return Side{Chambre: m.ChambreDepart, Lieu: m.LieuDepart, Service: m.ServiceDepart, Section: m.SectionDepart}
}

// Arrivee returns the arrival side of a recorded movement.
func (m Movement) Arrivee() Side {
	return Side{Chambre: m.ChambreArrivee, Lieu: m.LieuArrivee, Service: m.ServiceArrivee, Section: m.SectionArrivee}
}

// Service returns the service a movement is attributed to: the arrival
// room's service for Entrée and Transfert, the departure room's for Sortie.
func (m Movement) Service() string {
	if m.Type == TypeSortie {
		return m.ServiceDepart
	}
	if m.ServiceArrivee != "" {
		return m.ServiceArrivee
	}
	return m.ServiceDepart
}

// SetChecked applies a confirmed check toggle.
func (m Movement) SetChecked(checked bool, by string) Movement {
	m.Checked = checked
	if checked {
		m.CheckedBy = by
	} else {
		m.CheckedBy = ""
	}
	return m
}
