package resident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateComplete(t *testing.T) {
	id := Identity{Nom: "Durand", Prenom: "Marie", Naissance: "1938-04-02", Sex: "f"}
	require.NoError(t, id.Validate())
}

func TestValidateMissingField(t *testing.T) {
	id := Identity{Nom: "Durand", Naissance: "1938-04-02", Sex: "F"}
	err := id.Validate()
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "prénom manquant")
}

func TestValidateMalformedDate(t *testing.T) {
	id := Identity{Nom: "Durand", Prenom: "Marie", Naissance: "02/04/1938", Sex: "F"}
	err := id.Validate()
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "date de naissance invalide")
}

func TestFullName(t *testing.T) {
	assert.Equal(t, "DURAND Marie", Identity{Nom: "Durand", Prenom: "Marie"}.FullName())
	assert.Equal(t, "Marie", Identity{Prenom: "Marie"}.FullName())
}
