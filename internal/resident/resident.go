// Package resident holds the identity fields shared by movements and death records.
package resident

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Sex values accepted by the upstream backend.
const (
	SexFemale = "F"
	SexMale   = "M"
)

var ErrIncomplete = errors.New("resident: incomplete identity")

// Identity identifies a resident. NomNaissance (birth name) is optional.
type Identity struct {
	Nom          string `json:"nom" validate:"required"`
	NomNaissance string `json:"nom_naissance,omitempty"`
	Prenom       string `json:"prenom" validate:"required"`
	Naissance    string `json:"naissance" validate:"required,datetime=2006-01-02"`
	Sex          string `json:"sex" validate:"required,oneof=F M"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Normalize trims every field.
func (id Identity) Normalize() Identity {
	return Identity{
		Nom:          strings.TrimSpace(id.Nom),
		NomNaissance: strings.TrimSpace(id.NomNaissance),
		Prenom:       strings.TrimSpace(id.Prenom),
		Naissance:    strings.TrimSpace(id.Naissance),
		Sex:          strings.ToUpper(strings.TrimSpace(id.Sex)),
	}
}

// Validate reports the first missing or malformed field.
func (id Identity) Validate() error {
	err := Validator().Struct(id.Normalize())
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s", ErrIncomplete, fieldLabel(verrs[0]))
	}
	return fmt.Errorf("%w: %v", ErrIncomplete, err)
}

// FullName renders "NOM Prénom" for listings and exports.
func (id Identity) FullName() string {
	nom := strings.ToUpper(strings.TrimSpace(id.Nom))
	prenom := strings.TrimSpace(id.Prenom)
	switch {
	case nom == "":
		return prenom
	case prenom == "":
		return nom
	}
	return nom + " " + prenom
}

func fieldLabel(fe validator.FieldError) string {
	name := map[string]string{
		"Nom":       "nom",
		"Prenom":    "prénom",
		"Naissance": "date de naissance",
		"Sex":       "sexe",
	}[fe.StructField()]
	if name == "" {
		name = strings.ToLower(fe.StructField())
	}
	switch fe.Tag() {
	case "required":
		return name + " manquant"
	default:
		return name + " invalide"
	}
}
