package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/ferme/internal/model"
)

const notificationColumns = `id, transfer_id, type, from_ferme_id, to_ferme_id, item, quantity, unit,
	message, status, priority, created_at, acknowledged_at`

func scanNotification(row interface{ Scan(...any) error }, n *model.TransferNotification) error {
	return row.Scan(&n.ID, &n.TransferID, &n.Type, &n.FromFarmID, &n.ToFarmID, &n.Item, &n.Quantity, &n.Unit,
		&n.Message, &n.Status, &n.Priority, &n.CreatedAt, &n.AcknowledgedAt)
}

// ListNotifications returns a farm's transfer notifications, newest first.
func ListNotifications(ctx context.Context, db *sql.DB, farmID string, includeAcknowledged bool) ([]model.TransferNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM transfer_notifications WHERE to_ferme_id = ?`
	args := []any{farmID}
	if !includeAcknowledged {
		query += ` AND status = ?`
		args = append(args, model.NotificationUnread)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notes []model.TransferNotification
	for rows.Next() {
		var n model.TransferNotification
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// AcknowledgeNotification marks a notification read. Only the destination
// farm or an elevated caller may do so. Acknowledging twice is a no-op.
func AcknowledgeNotification(ctx context.Context, db *sql.DB, id string, actor model.Actor) error {
	var toFarm string
	err := db.QueryRowContext(ctx,
		`SELECT to_ferme_id FROM transfer_notifications WHERE id = ?`, id,
	).Scan(&toFarm)
	if err == sql.ErrNoRows {
		return &model.NotFoundError{Kind: "notification", ID: id}
	}
	if err != nil {
		return fmt.Errorf("getting notification: %w", err)
	}
	if !actor.Elevated() && actor.FarmID != toFarm {
		return &model.ForbiddenError{Reason: "notification belongs to another farm"}
	}

	_, err = db.ExecContext(ctx,
		`UPDATE transfer_notifications SET status = ?, acknowledged_at = ? WHERE id = ? AND status = ?`,
		model.NotificationAcknowledged, now(), id, model.NotificationUnread,
	)
	if err != nil {
		return fmt.Errorf("acknowledging notification: %w", err)
	}
	return nil
}

// CountUnread returns the number of unread notifications for a farm.
func CountUnread(ctx context.Context, db *sql.DB, farmID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfer_notifications WHERE to_ferme_id = ? AND status = ?`,
		farmID, model.NotificationUnread,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return count, nil
}
