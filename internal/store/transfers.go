package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/erazemk/ferme/internal/model"
)

// TransferRequest holds the caller-supplied fields of a new transfer.
type TransferRequest struct {
	SourceStockID string
	ToFarmID      string
	Quantity      int
	Priority      model.Priority
	Notes         string
}

// TransferFilter narrows ListTransfers. Empty fields match everything.
type TransferFilter struct {
	FarmID string // source or destination
	Status model.TransferStatus
	Item   string
}

const transferColumns = `t.id, t.from_ferme_id, t.to_ferme_id, t.stock_item_id, t.item, t.quantity, t.unit,
	t.status, t.priority, t.tracking_number, t.notes,
	t.transferred_by, t.transferred_by_name, t.received_by, t.received_by_name,
	t.rejected_by, t.rejected_by_name, t.rejection_reason, t.cancelled_by, t.cancelled_by_name,
	t.created_at, t.confirmed_at, t.delivered_at, t.rejected_at, t.cancelled_at,
	COALESCE(ff.nom, ''), COALESCE(tf.nom, '')`

const transferFrom = `stock_transfers t
	LEFT JOIN fermes ff ON ff.id = t.from_ferme_id
	LEFT JOIN fermes tf ON tf.id = t.to_ferme_id`

func scanTransfer(row interface{ Scan(...any) error }, t *model.StockTransfer) error {
	return row.Scan(&t.ID, &t.FromFarmID, &t.ToFarmID, &t.StockItemID, &t.Item, &t.Quantity, &t.Unit,
		&t.Status, &t.Priority, &t.TrackingNumber, &t.Notes,
		&t.TransferredBy, &t.TransferredByName, &t.ReceivedBy, &t.ReceivedByName,
		&t.RejectedBy, &t.RejectedByName, &t.RejectionReason, &t.CancelledBy, &t.CancelledByName,
		&t.CreatedAt, &t.ConfirmedAt, &t.DeliveredAt, &t.RejectedAt, &t.CancelledAt,
		&t.FromFarmName, &t.ToFarmName)
}

// CreateTransfer records a pending transfer out of a source stock record and
// a notification for the destination farm. Stock is not moved until the
// destination confirms.
func CreateTransfer(ctx context.Context, db *sql.DB, actor model.Actor, req TransferRequest) (*model.StockTransfer, error) {
	if req.SourceStockID == "" {
		return nil, &model.ValidationError{Field: "stock_item_id"}
	}
	if req.ToFarmID == "" {
		return nil, &model.ValidationError{Field: "to_ferme_id"}
	}
	if req.Quantity <= 0 {
		return nil, &model.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, &model.ValidationError{Field: "priority", Message: "unknown priority"}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	src, err := getStock(ctx, tx, req.SourceStockID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, &model.NotFoundError{Kind: "stock", ID: req.SourceStockID}
	}
	if req.Quantity > src.Quantity {
		return nil, &model.InsufficientStockError{Item: src.Item, Available: src.Quantity, Requested: req.Quantity}
	}

	// Ordinary callers always send from their own farm.
	fromFarm := actor.FarmID
	if actor.Elevated() {
		fromFarm = src.FarmID
	}
	if fromFarm == "" {
		return nil, &model.ValidationError{Field: "from_ferme_id"}
	}
	if fromFarm == req.ToFarmID {
		return nil, &model.ValidationError{Field: "to_ferme_id", Message: "must differ from the source farm"}
	}
	if ok, err := farmExists(ctx, tx, req.ToFarmID); err != nil {
		return nil, err
	} else if !ok {
		return nil, &model.NotFoundError{Kind: "farm", ID: req.ToFarmID}
	}

	id := newID()
	createdAt := now()
	tracking := fmt.Sprintf("TRF-%d", createdAt.UnixMilli())

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stock_transfers (id, from_ferme_id, to_ferme_id, stock_item_id, item, quantity, unit,
		     status, priority, tracking_number, notes, transferred_by, transferred_by_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, fromFarm, req.ToFarmID, src.ID, src.Item, req.Quantity, src.Unit,
		model.TransferPending, priority, tracking, req.Notes, actor.UserID, actor.Name, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting transfer: %w", err)
	}

	message := fmt.Sprintf("Nouveau transfert entrant: %s (%d %s) de %s",
		src.Item, req.Quantity, src.Unit, farmName(ctx, tx, fromFarm))
	_, err = tx.ExecContext(ctx,
		`INSERT INTO transfer_notifications (id, transfer_id, type, from_ferme_id, to_ferme_id, item,
		     quantity, unit, message, status, priority, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), id, model.NotificationTypeIncomingTransfer, fromFarm, req.ToFarmID, src.Item,
		req.Quantity, src.Unit, message, model.NotificationUnread, priority, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting transfer notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transfer: %w", err)
	}
	return GetTransfer(ctx, db, id)
}

// ConfirmTransfer marks a pending transfer delivered and moves its quantity
// from the source farm's stock to the destination farm's stock. Either every
// effect is applied or none is.
func ConfirmTransfer(ctx context.Context, db *sql.DB, id string, actor model.Actor) (*model.StockTransfer, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := pendingTransfer(ctx, tx, id, "confirm", model.TransferDelivered)
	if err != nil {
		return nil, err
	}
	if actor.FarmID != t.ToFarmID {
		return nil, &model.ForbiddenError{Reason: "only the destination farm can confirm a transfer"}
	}

	ts := now()
	if err := transition(ctx, tx, id, "confirm",
		`UPDATE stock_transfers SET status = ?, confirmed_at = ?, delivered_at = ?,
		     received_by = ?, received_by_name = ?
		 WHERE id = ? AND status = ?`,
		model.TransferDelivered, ts, ts, actor.UserID, actor.Name, id, model.TransferPending,
	); err != nil {
		return nil, err
	}

	if err := addStock(ctx, tx, t.ToFarmID, t.Item, t.Unit, t.Quantity, ""); err != nil {
		return nil, err
	}

	src, err := findStock(ctx, tx, t.FromFarmID, t.Item)
	if err != nil {
		return nil, err
	}
	switch {
	case src == nil:
		slog.Warn("source stock missing on confirm", "transfer", t.ID, "farm", t.FromFarmID, "item", t.Item)
	case src.Quantity-t.Quantity <= 0:
		if _, err := tx.ExecContext(ctx, `DELETE FROM stocks WHERE id = ?`, src.ID); err != nil {
			return nil, fmt.Errorf("removing source stock: %w", err)
		}
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE stocks SET quantity = quantity - ?, last_updated = ? WHERE id = ?`,
			t.Quantity, ts, src.ID,
		); err != nil {
			return nil, fmt.Errorf("decrementing source stock: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transfer_notifications SET status = ?, acknowledged_at = ?
		 WHERE to_ferme_id = ? AND item = ? AND status = ?`,
		model.NotificationAcknowledged, ts, t.ToFarmID, t.Item, model.NotificationUnread,
	); err != nil {
		return nil, fmt.Errorf("acknowledging notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing confirmation: %w", err)
	}
	return GetTransfer(ctx, db, id)
}

// RejectTransfer marks a pending transfer rejected. Stock is untouched.
func RejectTransfer(ctx context.Context, db *sql.DB, id string, actor model.Actor, reason string) (*model.StockTransfer, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &model.ValidationError{Field: "reason"}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := pendingTransfer(ctx, tx, id, "reject", model.TransferRejected)
	if err != nil {
		return nil, err
	}
	if actor.FarmID != t.ToFarmID {
		return nil, &model.ForbiddenError{Reason: "only the destination farm can reject a transfer"}
	}

	ts := now()
	if err := transition(ctx, tx, id, "reject",
		`UPDATE stock_transfers SET status = ?, rejected_at = ?, rejected_by = ?,
		     rejected_by_name = ?, rejection_reason = ?
		 WHERE id = ? AND status = ?`,
		model.TransferRejected, ts, actor.UserID, actor.Name, reason, id, model.TransferPending,
	); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transfer_notifications SET status = ?, acknowledged_at = ?
		 WHERE (transfer_id = ? OR (to_ferme_id = ? AND item = ?)) AND status = ?`,
		model.NotificationAcknowledged, ts, id, t.ToFarmID, t.Item, model.NotificationUnread,
	); err != nil {
		return nil, fmt.Errorf("acknowledging notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rejection: %w", err)
	}
	return GetTransfer(ctx, db, id)
}

// CancelTransfer withdraws a pending transfer on behalf of its source farm.
// Stock is untouched.
func CancelTransfer(ctx context.Context, db *sql.DB, id string, actor model.Actor) (*model.StockTransfer, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := pendingTransfer(ctx, tx, id, "cancel", model.TransferCancelled)
	if err != nil {
		return nil, err
	}
	isSource := actor.FarmID == t.FromFarmID || actor.Role == model.RoleSuperAdmin
	if !isSource || actor.FarmID == t.ToFarmID {
		return nil, &model.ForbiddenError{Reason: "only the source farm can cancel a transfer"}
	}

	ts := now()
	if err := transition(ctx, tx, id, "cancel",
		`UPDATE stock_transfers SET status = ?, cancelled_at = ?, cancelled_by = ?, cancelled_by_name = ?
		 WHERE id = ? AND status = ?`,
		model.TransferCancelled, ts, actor.UserID, actor.Name, id, model.TransferPending,
	); err != nil {
		return nil, err
	}

	// The destination has nothing left to act on.
	if _, err := tx.ExecContext(ctx,
		`UPDATE transfer_notifications SET status = ?, acknowledged_at = ?
		 WHERE transfer_id = ? AND status = ?`,
		model.NotificationAcknowledged, ts, id, model.NotificationUnread,
	); err != nil {
		return nil, fmt.Errorf("acknowledging notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing cancellation: %w", err)
	}
	return GetTransfer(ctx, db, id)
}

// pendingTransfer loads a transfer and fails unless it may move to target.
func pendingTransfer(ctx context.Context, q querier, id, action string, target model.TransferStatus) (*model.StockTransfer, error) {
	t, err := getTransfer(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &model.NotFoundError{Kind: "transfer", ID: id}
	}
	if !model.CanTransition(t.Status, target) {
		return nil, &model.StateError{TransferID: id, From: t.Status, Action: action}
	}
	return t, nil
}

// transition runs a status update guarded by status = 'pending' and fails
// with a StateError unless exactly one row changed, or a NotFoundError when
// the transfer is gone.
func transition(ctx context.Context, q querier, id, action, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating transfer status: %w", err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		var status model.TransferStatus
		err := q.QueryRowContext(ctx, `SELECT status FROM stock_transfers WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return &model.NotFoundError{Kind: "transfer", ID: id}
		}
		if err != nil {
			return fmt.Errorf("reading transfer status: %w", err)
		}
		return &model.StateError{TransferID: id, From: status, Action: action}
	}
	return nil
}

// GetTransfer returns a transfer by ID.
func GetTransfer(ctx context.Context, db *sql.DB, id string) (*model.StockTransfer, error) {
	return getTransfer(ctx, db, id)
}

func getTransfer(ctx context.Context, q querier, id string) (*model.StockTransfer, error) {
	t := &model.StockTransfer{}
	err := scanTransfer(q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM `+transferFrom+` WHERE t.id = ?`, id), t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer: %w", err)
	}
	return t, nil
}

// ListTransfers returns transfers newest first.
func ListTransfers(ctx context.Context, db *sql.DB, f TransferFilter) ([]model.StockTransfer, error) {
	query := `SELECT ` + transferColumns + ` FROM ` + transferFrom + ` WHERE 1 = 1`
	var args []any
	if f.FarmID != "" {
		query += ` AND (t.from_ferme_id = ? OR t.to_ferme_id = ?)`
		args = append(args, f.FarmID, f.FarmID)
	}
	if f.Status != "" {
		query += ` AND t.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY t.created_at DESC, t.rowid DESC`
	key := model.ItemKey(f.Item)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var transfers []model.StockTransfer
	for rows.Next() {
		var t model.StockTransfer
		if err := scanTransfer(rows, &t); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		// SQLite's lower() folds ASCII only, so match item names here.
		if key != "" && !strings.Contains(model.ItemKey(t.Item), key) {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
