package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory() *Directory {
	return NewDirectory([]Location{
		{Name: "Chambre 12", Kind: KindRoom, Service: ServiceMedecine},
		{Name: "Chambre 14", Kind: KindRoom, Service: ServiceMedecine, Section: SectionUSLD},
		{Name: "Chambre 3", Kind: KindRoom, Service: "Chirurgie"},
		{Name: "Clinique du Parc", Kind: KindFacility},
		{Name: "Domicile", Kind: KindFacility},
	})
}

func TestClassifyRoom(t *testing.T) {
	c := testDirectory().Classify("Chambre 14")
	assert.True(t, c.IsRoom)
	assert.False(t, c.IsFacility)
	assert.Equal(t, ServiceMedecine, c.ServiceOf())
	assert.Equal(t, SectionUSLD, c.SectionOf())
	assert.False(t, c.IsNovel())
}

func TestClassifyFacilityHasNoServiceOrSection(t *testing.T) {
	c := testDirectory().Classify("Domicile")
	assert.True(t, c.IsFacility)
	assert.False(t, c.IsRoom)
	assert.Empty(t, c.ServiceOf())
	assert.Empty(t, c.SectionOf())
}

func TestClassifyIsCaseSensitive(t *testing.T) {
	c := testDirectory().Classify("chambre 12")
	assert.False(t, c.IsRoom)
	assert.True(t, c.IsNovel())
}

func TestClassifyEmpty(t *testing.T) {
	c := testDirectory().Classify("")
	assert.True(t, c.Empty())
	assert.False(t, c.IsRoom)
	assert.False(t, c.IsFacility)
	assert.False(t, c.IsNovel())
}

func TestClassifyFirstMatchWins(t *testing.T) {
	d := NewDirectory([]Location{
		{Name: "Chambre 1", Kind: KindRoom, Service: "A"},
		{Name: "Chambre 1", Kind: KindRoom, Service: "B"},
	})
	assert.Equal(t, "A", d.Classify("Chambre 1").ServiceOf())
}

func TestClassifyReflectsNewDirectory(t *testing.T) {
	d := testDirectory()
	require.True(t, d.Classify("Hôpital Nord").IsNovel())

	d = NewDirectory(append(d.All(), Location{Name: "Hôpital Nord", Kind: KindFacility}))
	assert.True(t, d.Classify("Hôpital Nord").IsFacility)
}

func TestNewFacility(t *testing.T) {
	f, err := NewFacility("  Clinique ABC ")
	require.NoError(t, err)
	assert.Equal(t, "Clinique ABC", f.Name)
	assert.Equal(t, KindFacility, f.Kind)

	_, err = NewFacility("   ")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestValidateInlineRejectsRooms(t *testing.T) {
	err := ValidateInline(Location{Name: "Chambre 99", Kind: KindRoom})
	assert.ErrorIs(t, err, ErrNovelRoom)

	err = ValidateInline(Location{Name: "Clinique", Kind: KindFacility, Service: "X"})
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestSuggest(t *testing.T) {
	d := testDirectory()
	got := d.Suggest("chb12", KindRoom, 5)
	require.NotEmpty(t, got)
	assert.Equal(t, "Chambre 12", got[0].Name)

	assert.Empty(t, d.Suggest("parc", KindRoom, 5))
	facilities := d.Suggest("parc", KindFacility, 5)
	require.Len(t, facilities, 1)
	assert.Equal(t, "Clinique du Parc", facilities[0].Name)
}
