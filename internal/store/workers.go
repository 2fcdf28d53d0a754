package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/ferme/internal/model"
)

// NewWorker holds the fields of a worker registration.
type NewWorker struct {
	Name      string
	CIN       string
	FarmID    string // honoured for elevated callers only
	EntryDate time.Time
}

const workerColumns = `id, nom, cin, ferme_id, date_entree, date_sortie, statut, created_at`

func scanWorker(row interface{ Scan(...any) error }, w *model.Worker) error {
	return row.Scan(&w.ID, &w.Name, &w.CIN, &w.FarmID, &w.EntryDate, &w.ExitDate, &w.Status, &w.CreatedAt)
}

// CreateWorker registers a worker at a farm. A CIN already active at the
// same farm is a ValidationError; one active at another farm is a
// WorkerConflictError carrying that farm's admins as recipients.
func CreateWorker(ctx context.Context, db *sql.DB, actor model.Actor, nw NewWorker) (*model.Worker, error) {
	nw.Name = strings.TrimSpace(nw.Name)
	nw.CIN = strings.ToUpper(strings.TrimSpace(nw.CIN))
	if nw.Name == "" {
		return nil, &model.ValidationError{Field: "nom"}
	}
	if nw.CIN == "" {
		return nil, &model.ValidationError{Field: "cin"}
	}

	farmID := actor.FarmID
	if actor.Elevated() && nw.FarmID != "" {
		farmID = nw.FarmID
	}
	if farmID == "" {
		return nil, &model.ValidationError{Field: "ferme_id"}
	}
	entry := nw.EntryDate
	if entry.IsZero() {
		entry = now()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if ok, err := farmExists(ctx, tx, farmID); err != nil {
		return nil, err
	} else if !ok {
		return nil, &model.NotFoundError{Kind: "farm", ID: farmID}
	}

	existing := &model.Worker{}
	err = scanWorker(tx.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE cin = ? AND statut = ? AND date_sortie IS NULL LIMIT 1`,
		nw.CIN, model.WorkerActive), existing)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("checking worker cin: %w", err)
	case existing.FarmID == farmID:
		return nil, &model.ValidationError{Field: "cin", Message: "worker already registered at this farm"}
	default:
		recipients, err := conflictRecipients(ctx, tx, existing.FarmID, actor.UserID)
		if err != nil {
			return nil, err
		}
		return nil, &model.WorkerConflictError{
			Existing:   *existing,
			FarmName:   farmName(ctx, tx, existing.FarmID),
			Recipients: recipients,
		}
	}

	id := newID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO workers (id, nom, cin, ferme_id, date_entree, statut, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, nw.Name, nw.CIN, farmID, entry.UTC(), model.WorkerActive, now(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting worker: %w", err)
	}

	w, err := getWorker(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing worker: %w", err)
	}
	return w, nil
}

// conflictRecipients returns the admins of farmID, excluding the caller
// and superadmins.
func conflictRecipients(ctx context.Context, q querier, farmID, callerID string) ([]string, error) {
	admins, err := farmAdmins(ctx, q, farmID)
	if err != nil {
		return nil, err
	}
	users, err := listUsersByIDs(ctx, q, admins)
	if err != nil {
		return nil, err
	}

	recipients := []string{}
	for _, u := range users {
		if u.ID == callerID || u.Role == model.RoleSuperAdmin {
			continue
		}
		recipients = append(recipients, u.ID)
	}
	return recipients, nil
}

// GetWorker returns a worker by ID.
func GetWorker(ctx context.Context, db *sql.DB, id string) (*model.Worker, error) {
	return getWorker(ctx, db, id)
}

func getWorker(ctx context.Context, q querier, id string) (*model.Worker, error) {
	w := &model.Worker{}
	err := scanWorker(q.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id), w)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting worker: %w", err)
	}
	return w, nil
}

// ListWorkers returns workers ordered by name, optionally for one farm.
func ListWorkers(ctx context.Context, db *sql.DB, farmID string) ([]model.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers`
	var args []any
	if farmID != "" {
		query += ` WHERE ferme_id = ?`
		args = append(args, farmID)
	}
	query += ` ORDER BY nom, cin`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	defer rows.Close()

	var workers []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := scanWorker(rows, &w); err != nil {
			return nil, fmt.Errorf("scanning worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// SetWorkerExit records a worker's exit date and marks it inactive.
func SetWorkerExit(ctx context.Context, db *sql.DB, id string, exitDate time.Time, actor model.Actor) (*model.Worker, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	w, err := getWorker(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, &model.NotFoundError{Kind: "worker", ID: id}
	}
	if !actor.Elevated() && actor.FarmID != w.FarmID {
		return nil, &model.ForbiddenError{Reason: "worker belongs to another farm"}
	}
	if exitDate.IsZero() {
		exitDate = now()
	}
	if exitDate.Before(w.EntryDate) {
		return nil, &model.ValidationError{Field: "date_sortie", Message: "before entry date"}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE workers SET date_sortie = ?, statut = ? WHERE id = ?`,
		exitDate.UTC(), model.WorkerInactive, id,
	); err != nil {
		return nil, fmt.Errorf("recording worker exit: %w", err)
	}

	w, err = getWorker(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing worker exit: %w", err)
	}
	return w, nil
}
