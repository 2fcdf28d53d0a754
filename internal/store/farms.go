package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/ferme/internal/model"
)

// CreateFarm creates a new farm. An empty id is generated.
func CreateFarm(ctx context.Context, db *sql.DB, id, name string) (*model.Farm, error) {
	if name == "" {
		return nil, &model.ValidationError{Field: "nom"}
	}
	if id == "" {
		id = newID()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO fermes (id, nom, created_at) VALUES (?, ?, ?)`,
		id, name, now(),
	)
	if isUniqueViolation(err) {
		return nil, &model.ValidationError{Field: "id", Message: "farm already exists"}
	}
	if err != nil {
		return nil, fmt.Errorf("creating farm: %w", err)
	}

	return GetFarm(ctx, db, id)
}

// GetFarm returns a farm by ID with its admins.
func GetFarm(ctx context.Context, db *sql.DB, id string) (*model.Farm, error) {
	return getFarm(ctx, db, id)
}

func getFarm(ctx context.Context, q querier, id string) (*model.Farm, error) {
	f := &model.Farm{}
	err := q.QueryRowContext(ctx,
		`SELECT id, nom, created_at FROM fermes WHERE id = ?`, id,
	).Scan(&f.ID, &f.Name, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting farm: %w", err)
	}

	admins, err := farmAdmins(ctx, q, id)
	if err != nil {
		return nil, err
	}
	f.Admins = admins
	return f, nil
}

func farmAdmins(ctx context.Context, q querier, farmID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM ferme_admins WHERE ferme_id = ? ORDER BY user_id`, farmID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing farm admins: %w", err)
	}
	defer rows.Close()

	admins := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning farm admin: %w", err)
		}
		admins = append(admins, id)
	}
	return admins, rows.Err()
}

// ListFarms returns all farms ordered by name.
func ListFarms(ctx context.Context, db *sql.DB) ([]model.Farm, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, nom, created_at FROM fermes ORDER BY nom`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing farms: %w", err)
	}

	var farms []model.Farm
	for rows.Next() {
		var f model.Farm
		if err := rows.Scan(&f.ID, &f.Name, &f.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning farm: %w", err)
		}
		farms = append(farms, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Admins are loaded after the cursor is released; the pool has one connection.
	for i := range farms {
		admins, err := farmAdmins(ctx, db, farms[i].ID)
		if err != nil {
			return nil, err
		}
		farms[i].Admins = admins
	}
	return farms, nil
}

// UpdateFarm renames a farm.
func UpdateFarm(ctx context.Context, db *sql.DB, id, name string) error {
	if name == "" {
		return &model.ValidationError{Field: "nom"}
	}
	result, err := db.ExecContext(ctx, `UPDATE fermes SET nom = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("updating farm: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "farm", ID: id}
	}
	return nil
}

// SetFarmAdmins replaces the administrators of a farm.
func SetFarmAdmins(ctx context.Context, db *sql.DB, farmID string, admins []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if ok, err := farmExists(ctx, tx, farmID); err != nil {
		return err
	} else if !ok {
		return &model.NotFoundError{Kind: "farm", ID: farmID}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ferme_admins WHERE ferme_id = ?`, farmID); err != nil {
		return fmt.Errorf("clearing farm admins: %w", err)
	}
	for _, userID := range admins {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO ferme_admins (ferme_id, user_id) VALUES (?, ?)`,
			farmID, userID,
		); err != nil {
			return fmt.Errorf("adding farm admin: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing farm admins: %w", err)
	}
	return nil
}

// FarmName returns a farm's display name, or "centrale" when unknown.
func FarmName(ctx context.Context, db *sql.DB, id string) string {
	return farmName(ctx, db, id)
}

func farmName(ctx context.Context, q querier, id string) string {
	var name string
	err := q.QueryRowContext(ctx, `SELECT nom FROM fermes WHERE id = ?`, id).Scan(&name)
	if err != nil || name == "" {
		return model.CentralFarmID
	}
	return name
}

func farmExists(ctx context.Context, q querier, id string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM fermes WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking farm: %w", err)
	}
	return count > 0, nil
}
