package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/ferme/internal/model"
)

const stockColumns = `s.id, s.item, s.quantity, s.unit, s.secteur_id, s.notes, s.last_updated, COALESCE(f.nom, '')`

func scanStock(row interface{ Scan(...any) error }, s *model.StockItem) error {
	return row.Scan(&s.ID, &s.Item, &s.Quantity, &s.Unit, &s.FarmID, &s.Notes, &s.LastUpdated, &s.FarmName)
}

// AddStock adds quantity of an item to a farm. Quantities merge into an
// existing record whose item name matches case-insensitively.
func AddStock(ctx context.Context, db *sql.DB, farmID, item, unit string, quantity int, notes string) (*model.StockItem, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return nil, &model.ValidationError{Field: "item"}
	}
	if farmID == "" {
		return nil, &model.ValidationError{Field: "secteur_id"}
	}
	if quantity < 0 {
		return nil, &model.ValidationError{Field: "quantity", Message: "must not be negative"}
	}
	if unit == "" {
		unit = model.DefaultUnit
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := addStock(ctx, tx, farmID, item, unit, quantity, notes); err != nil {
		return nil, err
	}
	s, err := findStock(ctx, tx, farmID, item)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing stock: %w", err)
	}
	return s, nil
}

// addStock upserts on (farm, item key); the first spelling of the item wins.
func addStock(ctx context.Context, q querier, farmID, item, unit string, quantity int, notes string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO stocks (id, item, item_key, quantity, unit, secteur_id, notes, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(secteur_id, item_key) DO UPDATE SET
		     quantity = quantity + excluded.quantity,
		     last_updated = excluded.last_updated`,
		newID(), item, model.ItemKey(item), quantity, unit, farmID, notes, now(),
	)
	if err != nil {
		return fmt.Errorf("adding stock: %w", err)
	}
	return nil
}

// GetStock returns a stock record by ID.
func GetStock(ctx context.Context, db *sql.DB, id string) (*model.StockItem, error) {
	return getStock(ctx, db, id)
}

func getStock(ctx context.Context, q querier, id string) (*model.StockItem, error) {
	s := &model.StockItem{}
	err := scanStock(q.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stocks s LEFT JOIN fermes f ON f.id = s.secteur_id
		 WHERE s.id = ?`, id), s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting stock: %w", err)
	}
	return s, nil
}

// FindStock returns the record for an item at a farm, matching the item
// name case-insensitively.
func FindStock(ctx context.Context, db *sql.DB, farmID, item string) (*model.StockItem, error) {
	return findStock(ctx, db, farmID, item)
}

func findStock(ctx context.Context, q querier, farmID, item string) (*model.StockItem, error) {
	s := &model.StockItem{}
	err := scanStock(q.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stocks s LEFT JOIN fermes f ON f.id = s.secteur_id
		 WHERE s.secteur_id = ? AND s.item_key = ?`, farmID, model.ItemKey(item)), s)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding stock: %w", err)
	}
	return s, nil
}

// ListStocks returns stock records ordered by item. An empty farmID lists
// every farm; search filters item names case-insensitively.
func ListStocks(ctx context.Context, db *sql.DB, farmID, search string) ([]model.StockItem, error) {
	query := `SELECT ` + stockColumns + ` FROM stocks s LEFT JOIN fermes f ON f.id = s.secteur_id WHERE 1 = 1`
	var args []any
	if farmID != "" {
		query += ` AND s.secteur_id = ?`
		args = append(args, farmID)
	}
	if key := model.ItemKey(search); key != "" {
		query += ` AND instr(s.item_key, ?) > 0`
		args = append(args, key)
	}
	query += ` ORDER BY s.item_key, s.secteur_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing stocks: %w", err)
	}
	defer rows.Close()

	var stocks []model.StockItem
	for rows.Next() {
		var s model.StockItem
		if err := scanStock(rows, &s); err != nil {
			return nil, fmt.Errorf("scanning stock: %w", err)
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

// UpdateStock sets the name, quantity and notes of a stock record.
func UpdateStock(ctx context.Context, db *sql.DB, id, item string, quantity int, notes string) error {
	item = strings.TrimSpace(item)
	if item == "" {
		return &model.ValidationError{Field: "item"}
	}
	if quantity < 0 {
		return &model.ValidationError{Field: "quantity", Message: "must not be negative"}
	}

	result, err := db.ExecContext(ctx,
		`UPDATE stocks SET item = ?, item_key = ?, quantity = ?, notes = ?, last_updated = ? WHERE id = ?`,
		item, model.ItemKey(item), quantity, notes, now(), id,
	)
	if isUniqueViolation(err) {
		return &model.ValidationError{Field: "item", Message: "already stocked at this farm"}
	}
	if err != nil {
		return fmt.Errorf("updating stock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "stock", ID: id}
	}
	return nil
}

// DeleteStock removes a stock record.
func DeleteStock(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM stocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting stock: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "stock", ID: id}
	}
	return nil
}
