// Package location models rooms and external facilities and classifies
// free-text values typed into the movement form against a directory of
// known locations.
package location

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes admin-managed rooms from external facilities.
type Kind string

const (
	KindRoom     Kind = "room"
	KindFacility Kind = "facility"
)

// ServiceMedecine is the only service whose rooms are split into sections.
const ServiceMedecine = "Médecine"

// Sections available under ServiceMedecine.
const (
	SectionMedecine = "Médecine"
	SectionUSLD     = "USLD"
)

var (
	ErrInvalidLocation = errors.New("location: invalid location")
	ErrNovelRoom       = errors.New("location: rooms cannot be created inline")
)

// Location is a room or an external facility.
type Location struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Kind    Kind   `json:"type"`
	Service string `json:"service,omitempty"`
	Section string `json:"section,omitempty"`
}

// IsRoom reports whether l is an internal room.
func (l Location) IsRoom() bool { return l.Kind == KindRoom }

// ValidSection reports whether s is an accepted section value. Empty means none.
func ValidSection(s string) bool {
	switch s {
	case "", SectionMedecine, SectionUSLD:
		return true
	}
	return false
}

// Validate checks the structural invariants of a location.
func (l Location) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLocation)
	}
	switch l.Kind {
	case KindFacility:
		if l.Service != "" || l.Section != "" {
			return fmt.Errorf("%w: a facility has no service or section", ErrInvalidLocation)
		}
	case KindRoom:
		if !ValidSection(l.Section) {
			return fmt.Errorf("%w: unknown section %q", ErrInvalidLocation, l.Section)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidLocation, l.Kind)
	}
	return nil
}

// NewFacility builds the location created inline from the movement form.
// Only facilities may be created that way.
func NewFacility(name string) (Location, error) {
	l := Location{Name: strings.TrimSpace(name), Kind: KindFacility}
	if err := l.Validate(); err != nil {
		return Location{}, err
	}
	return l, nil
}

// ValidateInline rejects anything but a facility for inline creation.
func ValidateInline(l Location) error {
	if l.Kind == KindRoom {
		return ErrNovelRoom
	}
	return l.Validate()
}
