// Package aggregate builds the cross-farm stock overview shown on the
// dashboard. It is a pure projection over stock records.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/erazemk/ferme/internal/model"
)

// DefaultPerPage is the number of rows on one overview page.
const DefaultPerPage = 6

// FarmShare is one farm's contribution to an aggregated item.
type FarmShare struct {
	FarmID   string `json:"ferme_id"`
	FarmName string `json:"ferme_name"`
	Quantity int    `json:"quantity"`
}

// Row is one item summed across every farm holding it.
type Row struct {
	Item          string      `json:"item"`
	TotalQuantity int         `json:"total_quantity"`
	Unit          string      `json:"unit"`
	Farms         []FarmShare `json:"farms"`
	LastUpdated   time.Time   `json:"last_updated"`
}

// Aggregate groups stocks by item name case-insensitively. The displayed
// name and unit come from the first record of each group. Rows whose item
// does not contain search (case-insensitive) are dropped. Output is sorted
// by item name.
func Aggregate(stocks []model.StockItem, farmName func(id string) string, search string) []Row {
	needle := model.ItemKey(search)
	index := make(map[string]int)
	var rows []Row

	for _, s := range stocks {
		key := model.ItemKey(s.Item)
		if needle != "" && !strings.Contains(key, needle) {
			continue
		}

		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, Row{Item: strings.TrimSpace(s.Item), Unit: s.Unit})
		}
		r := &rows[i]

		r.TotalQuantity += s.Quantity
		r.Farms = append(r.Farms, FarmShare{
			FarmID:   s.FarmID,
			FarmName: shareName(s, farmName),
			Quantity: s.Quantity,
		})
		if s.LastUpdated.After(r.LastUpdated) {
			r.LastUpdated = s.LastUpdated
		}
	}

	sort.SliceStable(rows, func(a, b int) bool {
		ka, kb := model.ItemKey(rows[a].Item), model.ItemKey(rows[b].Item)
		if ka != kb {
			return ka < kb
		}
		return rows[a].Item < rows[b].Item
	})
	return rows
}

func shareName(s model.StockItem, farmName func(string) string) string {
	if s.FarmName != "" {
		return s.FarmName
	}
	if farmName != nil {
		return farmName(s.FarmID)
	}
	return s.FarmID
}

// Paginate returns the 1-based page of rows and the number of pages.
// Pages out of range are clamped.
func Paginate(rows []Row, page, perPage int) ([]Row, int) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	pages := (len(rows) + perPage - 1) / perPage
	if pages == 0 {
		return []Row{}, 0
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}

	start := (page - 1) * perPage
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], pages
}
