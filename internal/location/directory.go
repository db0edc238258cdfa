package location

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Directory is an immutable snapshot of known locations. Build a new one
// whenever the upstream list is refetched.
type Directory struct {
	rooms      []Location
	facilities []Location
}

// NewDirectory splits the given locations by kind, preserving order.
func NewDirectory(all []Location) *Directory {
	d := &Directory{}
	for _, l := range all {
		switch l.Kind {
		case KindRoom:
			d.rooms = append(d.rooms, l)
		case KindFacility:
			d.facilities = append(d.facilities, l)
		}
	}
	return d
}

// Rooms returns a copy of the room list.
func (d *Directory) Rooms() []Location {
	if d == nil {
		return nil
	}
	return append([]Location(nil), d.rooms...)
}

// Facilities returns a copy of the facility list.
func (d *Directory) Facilities() []Location {
	if d == nil {
		return nil
	}
	return append([]Location(nil), d.facilities...)
}

// All returns rooms followed by facilities.
func (d *Directory) All() []Location {
	return append(d.Rooms(), d.Facilities()...)
}

// Classification is the result of matching a value against a directory.
type Classification struct {
	Value      string
	IsRoom     bool
	IsFacility bool
	room       *Location
}

// Classify matches value exactly (case-sensitive) against rooms first, then
// facilities. The empty string is neither.
func (d *Directory) Classify(value string) Classification {
	c := Classification{Value: value}
	if value == "" || d == nil {
		return c
	}
	for i := range d.rooms {
		if d.rooms[i].Name == value {
			room := d.rooms[i]
			c.IsRoom = true
			c.room = &room
			return c
		}
	}
	for _, f := range d.facilities {
		if f.Name == value {
			c.IsFacility = true
			return c
		}
	}
	return c
}

// Empty reports whether no value was entered.
func (c Classification) Empty() bool { return c.Value == "" }

// IsNovel reports a non-empty value matching no known location. Novel values
// may only become facilities.
func (c Classification) IsNovel() bool {
	return c.Value != "" && !c.IsRoom && !c.IsFacility
}

// ServiceOf returns the owning service of the matched room, or "".
func (c Classification) ServiceOf() string {
	if c.room == nil {
		return ""
	}
	return c.room.Service
}

// SectionOf returns the section of the matched room, or "".
func (c Classification) SectionOf() string {
	if c.room == nil {
		return ""
	}
	return c.room.Section
}

// Room returns the matched room.
func (c Classification) Room() (Location, bool) {
	if c.room == nil {
		return Location{}, false
	}
	return *c.room, true
}

// Suggest ranks locations of the given kind against query for type-ahead.
// An empty kind searches both lists.
func (d *Directory) Suggest(query string, kind Kind, limit int) []Location {
	if d == nil || query == "" {
		return nil
	}
	var pool []Location
	switch kind {
	case KindRoom:
		pool = d.rooms
	case KindFacility:
		pool = d.facilities
	default:
		pool = append(append([]Location(nil), d.rooms...), d.facilities...)
	}
	names := make([]string, len(pool))
	for i, l := range pool {
		names[i] = l.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)

	if limit <= 0 || limit > len(ranks) {
		limit = len(ranks)
	}
	out := make([]Location, 0, limit)
	for _, r := range ranks[:limit] {
		out = append(out, pool[r.OriginalIndex])
	}
	return out
}
