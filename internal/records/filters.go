package records

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"resitrack.org/internal/movement"
)

// ErrInvalidFilter wraps every query parameter the Parse functions reject.
var ErrInvalidFilter = errors.New("invalid filter")

// MovementFilter narrows the movement list.
type MovementFilter struct {
	Type    movement.Type
	Checked *bool
	Service string
	From    string
	To      string
}

// Values encodes the filter as query parameters.
func (f MovementFilter) Values() url.Values {
	v := url.Values{}
	if f.Type != movement.TypeUndetermined {
		v.Set("type", string(f.Type))
	}
	setChecked(v, f.Checked)
	setNonEmpty(v, "service", f.Service)
	setNonEmpty(v, "from", f.From)
	setNonEmpty(v, "to", f.To)
	return v
}

// DeathFilter narrows the death register.
type DeathFilter struct {
	Checked *bool
	Service string
	From    string
	To      string
}

// Values encodes the filter as query parameters.
func (f DeathFilter) Values() url.Values {
	v := url.Values{}
	setChecked(v, f.Checked)
	setNonEmpty(v, "service", f.Service)
	setNonEmpty(v, "from", f.From)
	setNonEmpty(v, "to", f.To)
	return v
}

// HistoryFilter narrows the unified history.
type HistoryFilter struct {
	Kind Kind
	From string
	To   string
}

// Values encodes the filter as query parameters.
func (f HistoryFilter) Values() url.Values {
	v := url.Values{}
	setNonEmpty(v, "kind", string(f.Kind))
	setNonEmpty(v, "from", f.From)
	setNonEmpty(v, "to", f.To)
	return v
}

// ParseMovementFilter reads a MovementFilter back from query parameters.
func ParseMovementFilter(v url.Values) (MovementFilter, error) {
	t, err := movement.ParseType(v.Get("type"))
	if err != nil {
		return MovementFilter{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFilter, v.Get("type"))
	}
	checked, err := parseChecked(v)
	if err != nil {
		return MovementFilter{}, err
	}
	return MovementFilter{Type: t, Checked: checked, Service: v.Get("service"), From: v.Get("from"), To: v.Get("to")}, nil
}

// ParseDeathFilter reads a DeathFilter back from query parameters.
func ParseDeathFilter(v url.Values) (DeathFilter, error) {
	checked, err := parseChecked(v)
	if err != nil {
		return DeathFilter{}, err
	}
	return DeathFilter{Checked: checked, Service: v.Get("service"), From: v.Get("from"), To: v.Get("to")}, nil
}

// ParseHistoryFilter reads a HistoryFilter back from query parameters.
func ParseHistoryFilter(v url.Values) (HistoryFilter, error) {
	k := Kind(v.Get("kind"))
	switch k {
	case "", KindMovement, KindDeath:
	default:
		return HistoryFilter{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, k)
	}
	return HistoryFilter{Kind: k, From: v.Get("from"), To: v.Get("to")}, nil
}

func setChecked(v url.Values, checked *bool) {
	if checked != nil {
		v.Set("checked", strconv.FormatBool(*checked))
	}
}

func parseChecked(v url.Values) (*bool, error) {
	raw := v.Get("checked")
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: checked must be a boolean, got %q", ErrInvalidFilter, raw)
	}
	return &b, nil
}

func setNonEmpty(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
