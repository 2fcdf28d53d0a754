package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/ferme/internal/model"
)

const userColumns = `id, username, nom, password_hash, role, ferme_id, all_farms_access, created_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }, u *model.User) error {
	return row.Scan(&u.ID, &u.Username, &u.Name, &u.PasswordHash, &u.Role,
		&u.FarmID, &u.AllFarmsAccess, &u.CreatedAt, &u.DeletedAt)
}

// CreateUser creates a new user. The ID is generated.
func CreateUser(ctx context.Context, db *sql.DB, u model.User) (*model.User, error) {
	if u.Username == "" {
		return nil, &model.ValidationError{Field: "username"}
	}
	if !model.ValidRole(u.Role) {
		return nil, &model.ValidationError{Field: "role", Message: "invalid role"}
	}

	id := newID()
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, username, nom, password_hash, role, ferme_id, all_farms_access, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, u.Username, u.Name, u.PasswordHash, u.Role, u.FarmID, u.AllFarmsAccess, now(),
	)
	if isUniqueViolation(err) {
		return nil, &model.ValidationError{Field: "username", Message: "already exists"}
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, db *sql.DB, id string) (*model.User, error) {
	u := &model.User{}
	err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id), u)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns the active user with the given username.
func GetUserByUsername(ctx context.Context, db *sql.DB, username string) (*model.User, error) {
	u := &model.User{}
	err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND deleted_at IS NULL`, username), u)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all non-deleted users, optionally restricted to one farm.
func ListUsers(ctx context.Context, db *sql.DB, farmID string) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL`
	var args []any
	if farmID != "" {
		query += ` AND ferme_id = ?`
		args = append(args, farmID)
	}
	query += ` ORDER BY username`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser updates a user's role and farm assignment.
func UpdateUser(ctx context.Context, db *sql.DB, id, role, farmID string, allFarms bool) error {
	if !model.ValidRole(role) {
		return &model.ValidationError{Field: "role", Message: "invalid role"}
	}
	result, err := db.ExecContext(ctx,
		`UPDATE users SET role = ?, ferme_id = ?, all_farms_access = ? WHERE id = ? AND deleted_at IS NULL`,
		role, farmID, allFarms, id,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "user", ID: id}
	}
	return nil
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, id, passwordHash string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "user", ID: id}
	}
	return nil
}

// DeleteUser soft-deletes a user and removes it from farm admin lists.
func DeleteUser(ctx context.Context, db *sql.DB, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE users SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now(), id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &model.NotFoundError{Kind: "user", ID: id}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ferme_admins WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("removing farm admin entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user deletion: %w", err)
	}
	return nil
}

// ListUsersByIDs returns the active users among ids, in username order.
func ListUsersByIDs(ctx context.Context, db *sql.DB, ids []string) ([]model.User, error) {
	return listUsersByIDs(ctx, db, ids)
}

func listUsersByIDs(ctx context.Context, q querier, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL AND id IN (`+placeholders+`) ORDER BY username`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users by id: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
