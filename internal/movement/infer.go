package movement

import (
	"strings"

	"resitrack.org/internal/location"
)

// Infer applies the decision table over the classified origin and destination:
//
//	room     / room      -> Transfert
//	room     / not room  -> Sortie
//	not room / room      -> Entrée
//	not room / not room  -> prev (both non-empty)
//	one side empty       -> prev
//	both empty           -> undetermined
func Infer(prev Type, origin, destination location.Classification) Type {
	switch {
	case origin.Empty() && destination.Empty():
		return TypeUndetermined
	case origin.Empty() || destination.Empty():
		return prev
	case origin.IsRoom && destination.IsRoom:
		return TypeTransfert
	case origin.IsRoom:
		return TypeSortie
	case destination.IsRoom:
		return TypeEntree
	default:
		return prev
	}
}

// State is the inference state of a movement form.
type State struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Type        Type   `json:"type"`
	Depart      Side   `json:"depart"`
	Arrivee     Side   `json:"arrivee"`
}

// Evaluate classifies origin and destination against dir and returns the
// next state. Sections chosen by the user in prev are kept as long as the
// side still designates the same room. Surrounding blanks are not part of
// a location name.
func Evaluate(dir *location.Directory, prev State, origin, destination string) State {
	origin, destination = strings.TrimSpace(origin), strings.TrimSpace(destination)
	oc := dir.Classify(origin)
	dc := dir.Classify(destination)
	next := State{
		Origin:      origin,
		Destination: destination,
		Type:        Infer(prev.Type, oc, dc),
	}
	if next.Type == TypeUndetermined && oc.Empty() && dc.Empty() {
		return next
	}
	next.Depart = deriveSide(oc, prev.Depart)
	next.Arrivee = deriveSide(dc, prev.Arrivee)
	return next
}

func deriveSide(c location.Classification, prev Side) Side {
	if c.Empty() {
		return Side{}
	}
	if !c.IsRoom {
		return Side{Lieu: c.Value}
	}
	s := Side{
		Chambre: c.Value,
		Service: c.ServiceOf(),
		Section: c.SectionOf(),
	}
	if s.Section == "" && s.Service == location.ServiceMedecine {
		s.RequiresSection = true
		if prev.Chambre == s.Chambre && location.ValidSection(prev.Section) {
			s.Section = prev.Section
		}
	}
	return s
}
