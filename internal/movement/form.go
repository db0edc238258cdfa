package movement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"resitrack.org/internal/resident"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

var (
	ErrIncomplete       = errors.New("movement: incomplete form")
	ErrUnauthorizedType = errors.New("movement: movement type not permitted")
)

// MessageUnauthorized is shown when the session may not create the inferred type.
const MessageUnauthorized = "Vous n'avez pas la permission de créer ce type de mouvement."

// Source tells where a validation failure comes from.
type Source string

const (
	SourceForm       Source = "form"
	SourcePermission Source = "permission"
)

// ValidationError blocks a submission before it reaches the backend.
type ValidationError struct {
	Source Source
	Reason string
	err    error
}

func (e *ValidationError) Error() string { return e.Reason }
func (e *ValidationError) Unwrap() error { return e.err }

func incomplete(format string, args ...any) *ValidationError {
	return &ValidationError{Source: SourceForm, Reason: fmt.Sprintf(format, args...), err: ErrIncomplete}
}

// Authorizer answers whether a movement type may be created.
type Authorizer interface {
	CanCreateMovementType(t Type) bool
}

// Form is the content of the movement form.
type Form struct {
	Resident    resident.Identity `json:"resident"`
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	Origin      string            `json:"origin"`
	Destination string            `json:"destination"`
	Type        Type              `json:"type"`
	Depart      Side              `json:"depart"`
	Arrivee     Side              `json:"arrivee"`
	Stay        Stay              `json:"stay"`
}

// Apply copies an inference state into the form.
func (f Form) Apply(st State) Form {
	f.Origin = st.Origin
	f.Destination = st.Destination
	f.Type = st.Type
	f.Depart = st.Depart
	f.Arrivee = st.Arrivee
	return f
}

// Validate returns nil when f may be submitted by a holder of auth. An
// unauthorized submission is rejected whatever the completeness of the form.
func Validate(f Form, auth Authorizer) error {
	if auth == nil || !auth.CanCreateMovementType(f.Type) {
		return &ValidationError{Source: SourcePermission, Reason: MessageUnauthorized, err: ErrUnauthorizedType}
	}
	if err := f.Resident.Validate(); err != nil {
		return incomplete("%s", strings.TrimPrefix(err.Error(), resident.ErrIncomplete.Error()+": "))
	}
	date, err := time.Parse(dateLayout, strings.TrimSpace(f.Date))
	if err != nil {
		return incomplete("date du mouvement manquante ou invalide")
	}
	if _, err := time.Parse(timeLayout, strings.TrimSpace(f.Time)); err != nil {
		return incomplete("heure du mouvement manquante ou invalide")
	}
	if !f.Type.Determined() {
		return incomplete("type de mouvement indéterminé")
	}

	switch f.Type {
	case TypeTransfert:
		if !f.Depart.IsRoom() || !f.Arrivee.IsRoom() {
			return incomplete("un transfert exige une chambre de départ et une chambre d'arrivée")
		}
	case TypeEntree:
		if !f.Arrivee.IsRoom() {
			return incomplete("une entrée exige une chambre d'arrivée")
		}
	case TypeSortie:
		if !f.Depart.IsRoom() {
			return incomplete("une sortie exige une chambre de départ")
		}
	}
	if f.Depart.IsRoom() && !f.Depart.SectionComplete() {
		return incomplete("section de départ à préciser (Médecine ou USLD)")
	}
	if f.Arrivee.IsRoom() && !f.Arrivee.SectionComplete() {
		return incomplete("section d'arrivée à préciser (Médecine ou USLD)")
	}

	if f.Type == TypeEntree || f.Type == TypeTransfert {
		switch f.Stay.Mode {
		case StayFixed:
			end, err := time.Parse(dateLayout, strings.TrimSpace(f.Stay.EndDate))
			if err != nil {
				return incomplete("date de fin de séjour manquante ou invalide")
			}
			if end.Before(date) {
				return incomplete("la fin de séjour précède la date du mouvement")
			}
		case StayIndeterminate, "":
		default:
			return incomplete("durée de séjour invalide")
		}
	}
	return nil
}

// Movement builds the payload submitted upstream. Sides that are not used by
// the type are left out.
func (f Form) Movement(author string) Movement {
	m := Movement{
		Identity: f.Resident.Normalize(),
		Type:     f.Type,
		Date:     strings.TrimSpace(f.Date),
		Time:     strings.TrimSpace(f.Time),
		Author:   author,
		Stay:     Stay{Mode: StayIndeterminate},
	}
	if f.Type != TypeEntree {
		m.ChambreDepart = f.Depart.Chambre
		m.ServiceDepart = f.Depart.Service
		m.SectionDepart = f.Depart.Section
	} else {
		m.LieuDepart = f.Depart.Lieu
	}
	if f.Type != TypeSortie {
		m.ChambreArrivee = f.Arrivee.Chambre
		m.ServiceArrivee = f.Arrivee.Service
		m.SectionArrivee = f.Arrivee.Section
		if f.Stay.Mode == StayFixed {
			m.Stay = Stay{Mode: StayFixed, EndDate: strings.TrimSpace(f.Stay.EndDate)}
		}
	} else {
		m.LieuArrivee = f.Arrivee.Lieu
	}
	return m
}
