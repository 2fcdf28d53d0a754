// Package export renders stock and transfer listings as Excel workbooks.
package export

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/erazemk/ferme/internal/model"
)

// ContentType is the MIME type of the produced workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	dateLayout       = "02/01/2006 15:04"
	maxSheetName     = 31
	summarySheet     = "Résumé Global"
	transfersSheet   = "Transferts"
	defaultStockName = "Inventaire"
)

var (
	stockHeader    = []any{"Article", "Quantité", "Unité", "Notes", "Dernière mise à jour"}
	stockWidths    = []float64{30, 15, 10, 40, 20}
	summaryHeader  = []any{"Ferme", "Article", "Quantité", "Unité", "Notes", "Dernière mise à jour"}
	summaryWidths  = []float64{20, 30, 15, 10, 40, 20}
	transferHeader = []any{"N° Suivi", "Article", "Quantité", "De", "Vers", "Statut", "Priorité", "Date création", "Notes"}
	transferWidths = []float64{15, 30, 15, 20, 20, 15, 15, 20, 40}
)

// workbook wraps an excelize file, reusing the default sheet for the first
// sheet written.
type workbook struct {
	f     *excelize.File
	names map[string]bool
}

func newWorkbook() *workbook {
	return &workbook{f: excelize.NewFile(), names: map[string]bool{}}
}

func (w *workbook) addSheet(name string, header []any, widths []float64, rows [][]any) error {
	name = w.uniqueName(name)
	if len(w.names) == 0 {
		if err := w.f.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("naming sheet: %w", err)
		}
	} else if _, err := w.f.NewSheet(name); err != nil {
		return fmt.Errorf("creating sheet %q: %w", name, err)
	}
	w.names[name] = true

	if err := w.f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := w.f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.f.SetColWidth(name, col, col, width); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}
	return nil
}

func (w *workbook) uniqueName(name string) string {
	base := SheetName(name)
	name = base
	for n := 2; w.names[name]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		r := []rune(base)
		if len(r)+len(suffix) > maxSheetName {
			r = r[:maxSheetName-len(suffix)]
		}
		name = string(r) + suffix
	}
	return name
}

// SheetName cleans a farm name into a valid sheet name: letters, digits,
// spaces and underscores only, at most 31 characters.
func SheetName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := []rune(strings.TrimSpace(b.String()))
	if len(out) > maxSheetName {
		out = out[:maxSheetName]
	}
	if len(out) == 0 {
		return "Ferme"
	}
	return string(out)
}

func stockRow(s model.StockItem) []any {
	return []any{s.Item, s.Quantity, s.Unit, s.Notes, formatDate(s.LastUpdated)}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// StockWorkbook renders stocks. With perFarm set, each farm with stock gets
// its own sheet followed by a global summary; otherwise every record goes
// on one sheet named sheetName. Non-empty transfers add a transfer sheet.
func StockWorkbook(stocks []model.StockItem, farms []model.Farm, sheetName string, perFarm bool, transfers []model.StockTransfer) (*excelize.File, error) {
	w := newWorkbook()
	names := farmNames(farms)

	if perFarm {
		for _, farm := range farms {
			var rows [][]any
			for _, s := range stocks {
				if s.FarmID == farm.ID {
					rows = append(rows, stockRow(s))
				}
			}
			if len(rows) == 0 {
				continue
			}
			if err := w.addSheet(farm.Name, stockHeader, stockWidths, rows); err != nil {
				return nil, err
			}
		}

		if len(stocks) > 0 {
			rows := make([][]any, 0, len(stocks))
			for _, s := range stocks {
				rows = append(rows, append([]any{names(s)}, stockRow(s)...))
			}
			if err := w.addSheet(summarySheet, summaryHeader, summaryWidths, rows); err != nil {
				return nil, err
			}
		}
	} else {
		if sheetName == "" {
			sheetName = defaultStockName
		}
		rows := make([][]any, 0, len(stocks))
		for _, s := range stocks {
			rows = append(rows, stockRow(s))
		}
		if err := w.addSheet(sheetName, stockHeader, stockWidths, rows); err != nil {
			return nil, err
		}
	}

	if len(transfers) > 0 {
		if err := w.addTransfers(transfers); err != nil {
			return nil, err
		}
	}
	if len(w.names) == 0 {
		if err := w.addSheet(defaultStockName, stockHeader, stockWidths, nil); err != nil {
			return nil, err
		}
	}
	return w.f, nil
}

// TransferWorkbook renders transfers on a single sheet.
func TransferWorkbook(transfers []model.StockTransfer) (*excelize.File, error) {
	w := newWorkbook()
	if err := w.addTransfers(transfers); err != nil {
		return nil, err
	}
	return w.f, nil
}

func (w *workbook) addTransfers(transfers []model.StockTransfer) error {
	rows := make([][]any, 0, len(transfers))
	for _, t := range transfers {
		from, to := t.FromFarmName, t.ToFarmName
		if from == "" {
			from = t.FromFarmID
		}
		if to == "" {
			to = t.ToFarmID
		}
		priority := t.Priority
		if priority == "" {
			priority = model.PriorityMedium
		}
		rows = append(rows, []any{
			t.ShortReference(), t.Item, t.Quantity, from, to,
			t.Status.Label(), priority.Label(), formatDate(t.CreatedAt), t.Notes,
		})
	}
	return w.addSheet(transfersSheet, transferHeader, transferWidths, rows)
}

func farmNames(farms []model.Farm) func(model.StockItem) string {
	byID := make(map[string]string, len(farms))
	for _, f := range farms {
		byID[f.ID] = f.Name
	}
	return func(s model.StockItem) string {
		if s.FarmName != "" {
			return s.FarmName
		}
		if name, ok := byID[s.FarmID]; ok {
			return name
		}
		return model.CentralFarmID
	}
}

// Filename returns the download name for an export taken on day.
func Filename(prefix, suffix string, day time.Time) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, suffix)
	return fmt.Sprintf("%s_%s_%s.xlsx", prefix, clean, day.Format("2006-01-02"))
}
