// Package permission holds the permission catalog and resolves what a
// session may do from the service defaults or the user's own override.
package permission

// Key identifies a capability.
type Key string

const (
	CreateMovement     Key = "createMovement"
	ViewHistory        Key = "viewHistory"
	CheckMovement      Key = "checkMovement"
	DeleteMovement     Key = "deleteMovement"
	CreateDeath        Key = "createDeath"
	ViewDeaths         Key = "viewDeaths"
	DeleteDeath        Key = "deleteDeath"
	ViewUnifiedHistory Key = "viewUnifiedHistory"
	ViewStatistics     Key = "viewStatistics"
	PrintDocuments     Key = "printDocuments"
	ManageAdmin        Key = "manageAdmin"
)

// Definition describes a catalog entry.
type Definition struct {
	Key   Key    `json:"key"`
	Label string `json:"label"`
	Group string `json:"group"`
}

// Catalog is the authoritative list of keys, in display order. Labels shown
// to administrators and checks performed by the API both come from here.
var Catalog = []Definition{
	{Key: CreateMovement, Label: "Créer des mouvements", Group: "Mouvements"},
	{Key: ViewHistory, Label: "Consulter l'historique des mouvements", Group: "Mouvements"},
	{Key: CheckMovement, Label: "Vérifier les mouvements et décès", Group: "Mouvements"},
	{Key: DeleteMovement, Label: "Supprimer et archiver des mouvements", Group: "Mouvements"},
	{Key: CreateDeath, Label: "Déclarer un décès", Group: "Décès"},
	{Key: ViewDeaths, Label: "Consulter le registre des décès", Group: "Décès"},
	{Key: DeleteDeath, Label: "Supprimer des décès", Group: "Décès"},
	{Key: ViewUnifiedHistory, Label: "Consulter l'historique unifié", Group: "Historique"},
	{Key: ViewStatistics, Label: "Consulter les statistiques", Group: "Statistiques"},
	{Key: PrintDocuments, Label: "Imprimer et exporter", Group: "Statistiques"},
	{Key: ManageAdmin, Label: "Administration", Group: "Administration"},
}

var known = func() map[Key]Definition {
	m := make(map[Key]Definition, len(Catalog))
	for _, d := range Catalog {
		m[d.Key] = d
	}
	return m
}()

// Known reports whether k belongs to the catalog.
func Known(k Key) bool {
	_, ok := known[k]
	return ok
}

// Lookup returns the catalog definition of k.
func Lookup(k Key) (Definition, bool) {
	d, ok := known[k]
	return d, ok
}
