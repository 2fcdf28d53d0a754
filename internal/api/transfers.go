package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/ferme/internal/export"
	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/metrics"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/notify"
	"github.com/erazemk/ferme/internal/store"
)

// TransfersHandler handles transfer endpoints.
type TransfersHandler struct {
	DB     *sql.DB
	events *events
}

type createTransferRequest struct {
	StockItemID string         `json:"stock_item_id" validate:"required"`
	ToFarmID    string         `json:"to_ferme_id" validate:"required"`
	Quantity    int            `json:"quantity" validate:"gt=0"`
	Priority    model.Priority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Notes       string         `json:"notes"`
}

type rejectTransferRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Create handles POST /api/transfers.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeAndValidate(r, &req); err != nil {
		metrics.TransfersTotal.WithLabelValues("create", errorClass(err)).Inc()
		writeError(w, err, "create transfer")
		return
	}

	actor := actorFrom(r)
	transfer, err := store.CreateTransfer(r.Context(), h.DB, actor, store.TransferRequest{
		SourceStockID: req.StockItemID,
		ToFarmID:      req.ToFarmID,
		Quantity:      req.Quantity,
		Priority:      req.Priority,
		Notes:         req.Notes,
	})
	metrics.TransfersTotal.WithLabelValues("create", errorClass(err)).Inc()
	if err != nil {
		writeError(w, err, "create transfer")
		return
	}

	slog.Info("transfer created", "user", actor.Name,
		"transfer", transfer.ID, "tracking", transfer.TrackingNumber,
		"item", transfer.Item, "quantity", transfer.Quantity,
		"from", transfer.FromFarmID, "to", transfer.ToFarmID)

	h.events.publish(live.CollectionTransfers, live.OpCreate, transfer.ID, transfer.FromFarmID, transfer.ToFarmID)
	h.events.publish(live.CollectionNotifications, live.OpCreate, transfer.ID, transfer.ToFarmID)
	h.notifyDestination(r.Context(), transfer)

	jsonResponse(w, http.StatusCreated, transfer)
}

// notifyDestination tells the destination farm's admins about a new transfer.
func (h *TransfersHandler) notifyDestination(ctx context.Context, t *model.StockTransfer) {
	farm, err := store.GetFarm(ctx, h.DB, t.ToFarmID)
	if err != nil || farm == nil {
		slog.Warn("no recipients for transfer notification", "transfer", t.ID, "farm", t.ToFarmID, "error", err)
		return
	}

	h.events.notify(ctx, farm.Admins, notify.Payload{
		RecipientFarmID: t.ToFarmID,
		Type:            notify.TypeIncomingTransfer,
		Title:           "Nouveau transfert entrant",
		Message: fmt.Sprintf("%s (%d %s) de %s, suivi %s",
			t.Item, t.Quantity, t.Unit, t.FromFarmName, t.ShortReference()),
		Priority: t.Priority,
		ActionData: map[string]any{
			"transfer_id":     t.ID,
			"tracking_number": t.TrackingNumber,
			"from_ferme_id":   t.FromFarmID,
		},
	})
}

// canSee reports whether the caller may view a transfer.
func canSee(actor model.Actor, t *model.StockTransfer) bool {
	return actor.Elevated() || actor.FarmID == t.FromFarmID || actor.FarmID == t.ToFarmID
}

// List handles GET /api/transfers?status=&item=&ferme_id=.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	transfers, err := store.ListTransfers(r.Context(), h.DB, store.TransferFilter{
		FarmID: farmScope(r),
		Status: model.TransferStatus(q.Get("status")),
		Item:   q.Get("item"),
	})
	if err != nil {
		writeError(w, err, "list transfers")
		return
	}
	if transfers == nil {
		transfers = []model.StockTransfer{}
	}
	jsonResponse(w, http.StatusOK, transfers)
}

// Get handles GET /api/transfers/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	transfer, err := store.GetTransfer(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, err, "get transfer")
		return
	}
	if transfer == nil || !canSee(actorFrom(r), transfer) {
		jsonError(w, http.StatusNotFound, "transfer not found")
		return
	}
	jsonResponse(w, http.StatusOK, transfer)
}

// Confirm handles POST /api/transfers/{id}/confirm.
func (h *TransfersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	transfer, err := store.ConfirmTransfer(r.Context(), h.DB, r.PathValue("id"), actor)
	metrics.TransfersTotal.WithLabelValues("confirm", errorClass(err)).Inc()
	if err != nil {
		writeError(w, err, "confirm transfer")
		return
	}

	slog.Info("transfer confirmed", "user", actor.Name,
		"transfer", transfer.ID, "tracking", transfer.TrackingNumber,
		"item", transfer.Item, "quantity", transfer.Quantity,
		"from", transfer.FromFarmID, "to", transfer.ToFarmID)

	h.events.publish(live.CollectionTransfers, live.OpUpdate, transfer.ID, transfer.FromFarmID, transfer.ToFarmID)
	h.events.publish(live.CollectionStocks, live.OpUpdate, transfer.StockItemID, transfer.FromFarmID, transfer.ToFarmID)
	h.events.publish(live.CollectionNotifications, live.OpUpdate, transfer.ID, transfer.ToFarmID)
	jsonResponse(w, http.StatusOK, transfer)
}

// Reject handles POST /api/transfers/{id}/reject.
func (h *TransfersHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectTransferRequest
	if err := decodeAndValidate(r, &req); err != nil {
		metrics.TransfersTotal.WithLabelValues("reject", errorClass(err)).Inc()
		writeError(w, err, "reject transfer")
		return
	}

	actor := actorFrom(r)
	transfer, err := store.RejectTransfer(r.Context(), h.DB, r.PathValue("id"), actor, req.Reason)
	metrics.TransfersTotal.WithLabelValues("reject", errorClass(err)).Inc()
	if err != nil {
		writeError(w, err, "reject transfer")
		return
	}

	slog.Info("transfer rejected", "user", actor.Name,
		"transfer", transfer.ID, "tracking", transfer.TrackingNumber, "reason", transfer.RejectionReason)

	h.events.publish(live.CollectionTransfers, live.OpUpdate, transfer.ID, transfer.FromFarmID, transfer.ToFarmID)
	h.events.publish(live.CollectionNotifications, live.OpUpdate, transfer.ID, transfer.ToFarmID)
	jsonResponse(w, http.StatusOK, transfer)
}

// Cancel handles POST /api/transfers/{id}/cancel.
func (h *TransfersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	transfer, err := store.CancelTransfer(r.Context(), h.DB, r.PathValue("id"), actor)
	metrics.TransfersTotal.WithLabelValues("cancel", errorClass(err)).Inc()
	if err != nil {
		writeError(w, err, "cancel transfer")
		return
	}

	slog.Info("transfer cancelled", "user", actor.Name,
		"transfer", transfer.ID, "tracking", transfer.TrackingNumber)

	h.events.publish(live.CollectionTransfers, live.OpUpdate, transfer.ID, transfer.FromFarmID, transfer.ToFarmID)
	h.events.publish(live.CollectionNotifications, live.OpUpdate, transfer.ID, transfer.ToFarmID)
	jsonResponse(w, http.StatusOK, transfer)
}

// Export handles GET /api/transfers/export.
func (h *TransfersHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	transfers, err := store.ListTransfers(r.Context(), h.DB, store.TransferFilter{
		FarmID: farmScope(r),
		Status: model.TransferStatus(q.Get("status")),
		Item:   q.Get("item"),
	})
	if err != nil {
		writeError(w, err, "export transfers")
		return
	}

	f, err := export.TransferWorkbook(transfers)
	if err != nil {
		writeError(w, err, "export transfers")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+export.Filename("transferts", "export", time.Now()))
	if err := f.Write(w); err != nil {
		slog.Error("failed to write workbook", "error", err)
	}
}
