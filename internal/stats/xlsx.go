package stats

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"resitrack.org/internal/movement"
	"resitrack.org/internal/records"
)

var (
	countHeader   = []string{"Entrées", "Sorties", "Transferts", "Décès", "Total"}
	historyHeader = []string{"Date", "Heure", "Type", "Nom", "Nom de naissance", "Prénom", "Naissance", "Départ", "Arrivée", "Service", "Vérifié", "Vérifié par"}
)

type sheet struct {
	name   string
	header []string
	widths []float64
	rows   [][]any
}

// WriteXLSX writes the summary as a workbook with one sheet per breakdown.
func WriteXLSX(w io.Writer, s Summary) error {
	months := sheet{name: "Par mois", header: append([]string{"Mois"}, countHeader...), widths: []float64{12, 10, 10, 12, 10, 10}}
	for _, m := range s.Months {
		months.rows = append(months.rows, countRow(m.Month, m.Counts))
	}
	months.rows = append(months.rows, countRow("Total", s.Totals))

	services := sheet{name: "Par service", header: append([]string{"Service"}, countHeader...), widths: []float64{20, 10, 10, 12, 10, 10}}
	for _, st := range s.Services {
		services.rows = append(services.rows, countRow(st.Service, st.Counts))
	}
	return writeWorkbook(w, months, services)
}

func countRow(label string, c Counts) []any {
	return []any{label, c.Entrees, c.Sorties, c.Transferts, c.Deces, c.Total()}
}

// WriteHistoryXLSX writes the unified history, one row per entry.
func WriteHistoryXLSX(w io.Writer, entries []records.HistoryEntry) error {
	sh := sheet{
		name:   "Historique",
		header: historyHeader,
		widths: []float64{12, 8, 12, 18, 18, 18, 12, 20, 20, 14, 9, 14},
	}
	for _, e := range entries {
		sh.rows = append(sh.rows, historyRow(e))
	}
	return writeWorkbook(w, sh)
}

func historyRow(e records.HistoryEntry) []any {
	id := e.Resident()
	if m := e.Movement; m != nil {
		return []any{m.Date, m.Time, string(m.Type), id.Nom, id.NomNaissance, id.Prenom, id.Naissance,
			sideLabel(m.Depart()), sideLabel(m.Arrivee()), m.Service(), yesNo(m.Checked), m.CheckedBy}
	}
	d := e.Death
	return []any{d.Date, d.Time, e.Label(), id.Nom, id.NomNaissance, id.Prenom, id.Naissance,
		d.Chambre, "", d.Service, yesNo(d.Checked), d.CheckedBy}
}

func sideLabel(s movement.Side) string {
	if s.Chambre != "" {
		if s.Section != "" {
			return s.Chambre + " (" + s.Section + ")"
		}
		return s.Chambre
	}
	return s.Lieu
}

func yesNo(b bool) string {
	if b {
		return "Oui"
	}
	return "Non"
}

func writeWorkbook(w io.Writer, sheets ...sheet) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, sh := range sheets {
		idx, err := f.NewSheet(sh.name)
		if err != nil {
			return fmt.Errorf("failed to create sheet %q: %w", sh.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(idx)
		}
		if err := fillSheet(f, sh, headerStyle); err != nil {
			return err
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func fillSheet(f *excelize.File, sh sheet, headerStyle int) error {
	for col, title := range sh.header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sh.name, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sh.name, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}
	for i, width := range sh.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sh.name, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	for r, row := range sh.rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}
	// keep the header row visible while scrolling
	return f.SetPanes(sh.name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
