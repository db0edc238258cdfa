// Package navigation composes the menu and dashboard tiles a session is
// allowed to see.
package navigation

import "resitrack.org/internal/permission"

// Accent is the colour a section is drawn with.
type Accent string

const (
	AccentBlue   Accent = "blue"
	AccentViolet Accent = "violet"
	AccentGray   Accent = "gray"
	AccentRed    Accent = "red"
)

// Item is a navigation entry guarded by one permission.
type Item struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Path        string         `json:"path"`
	Description string         `json:"description,omitempty"`
	Permission  permission.Key `json:"permission"`
	Tile        bool           `json:"-"`
}

// Section groups items under a title and accent.
type Section struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Accent Accent `json:"accent"`
	Items  []Item `json:"items"`
}

// Tile is a dashboard shortcut.
type Tile struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	Accent      Accent `json:"accent"`
}

// Layout is what a session sees.
type Layout struct {
	Sections []Section `json:"sections"`
	Tiles    []Tile    `json:"tiles"`
}

// Menu is the full declaration, in display order.
var Menu = []Section{
	{ID: "movements", Title: "Mouvements", Accent: AccentBlue, Items: []Item{
		{ID: "movement-new", Label: "Ajouter un mouvement", Path: "/movements/new", Permission: permission.CreateMovement,
			Description: "Enregistrer une entrée, une sortie ou un transfert", Tile: true},
		{ID: "movement-history", Label: "Historique des mouvements", Path: "/movements", Permission: permission.ViewHistory,
			Description: "Consulter et vérifier les mouvements", Tile: true},
		{ID: "movement-statistics", Label: "Statistiques", Path: "/statistics", Permission: permission.ViewStatistics,
			Description: "Entrées, sorties et transferts par période", Tile: true},
		{ID: "movement-export", Label: "Exporter", Path: "/statistics/export", Permission: permission.PrintDocuments},
	}},
	{ID: "unified", Title: "Historique unifié", Accent: AccentViolet, Items: []Item{
		{ID: "unified-history", Label: "Historique unifié", Path: "/history", Permission: permission.ViewUnifiedHistory,
			Description: "Mouvements et décès sur une même chronologie", Tile: true},
	}},
	{ID: "deaths", Title: "Décès", Accent: AccentGray, Items: []Item{
		{ID: "death-new", Label: "Déclarer un décès", Path: "/deaths/new", Permission: permission.CreateDeath, Tile: true},
		{ID: "death-register", Label: "Registre des décès", Path: "/deaths", Permission: permission.ViewDeaths, Tile: true},
	}},
	{ID: "admin", Title: "Administration", Accent: AccentRed, Items: []Item{
		{ID: "admin-locations", Label: "Chambres et lieux", Path: "/admin/locations", Permission: permission.ManageAdmin},
		{ID: "admin-permissions", Label: "Permissions", Path: "/admin/permissions", Permission: permission.ManageAdmin},
		{ID: "admin-users", Label: "Utilisateurs", Path: "/admin/users", Permission: permission.ManageAdmin},
	}},
}

// Compose filters Menu through the resolver. Items whose permission is not
// granted are omitted, as are sections left empty. A loading resolver
// yields an empty layout.
func Compose(r permission.Resolver) Layout {
	out := Layout{Sections: []Section{}, Tiles: []Tile{}}
	for _, sec := range Menu {
		var items []Item
		for _, it := range sec.Items {
			if !r.Can(it.Permission) {
				continue
			}
			items = append(items, it)
			if it.Tile {
				out.Tiles = append(out.Tiles, Tile{
					ID:          it.ID,
					Label:       it.Label,
					Path:        it.Path,
					Description: it.Description,
					Accent:      sec.Accent,
				})
			}
		}
		if len(items) == 0 {
			continue
		}
		s := sec
		s.Items = items
		out.Sections = append(out.Sections, s)
	}
	return out
}

// Labels flattens a layout to its visible item labels.
func (l Layout) Labels() []string {
	var out []string
	for _, s := range l.Sections {
		for _, it := range s.Items {
			out = append(out, it.Label)
		}
	}
	return out
}
