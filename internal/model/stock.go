package model

import (
	"strings"
	"time"
)

// DefaultUnit is the unit assigned to stock created without one.
const DefaultUnit = "pièces"

// StockItem is the current quantity of one item held by one farm.
type StockItem struct {
	ID          string    `json:"id"`
	Item        string    `json:"item"`
	Quantity    int       `json:"quantity"`
	Unit        string    `json:"unit"`
	FarmID      string    `json:"secteur_id"`
	Notes       string    `json:"notes,omitempty"`
	LastUpdated time.Time `json:"last_updated"`

	// Joined fields (not always populated).
	FarmName string `json:"secteur_name,omitempty"`
}

// ItemKey normalizes an item name for (farm, item) uniqueness.
func ItemKey(item string) string {
	return strings.ToLower(strings.TrimSpace(item))
}
