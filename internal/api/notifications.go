package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/store"
)

// NotificationsHandler serves a farm's transfer notification inbox.
type NotificationsHandler struct {
	DB     *sql.DB
	events *events
}

// List handles GET /api/notifications?all=true&ferme_id=.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	farmID := farmScope(r)
	if farmID == "" {
		farmID = actorFrom(r).FarmID
	}
	includeAck := r.URL.Query().Get("all") == "true"

	notes, err := store.ListNotifications(r.Context(), h.DB, farmID, includeAck)
	if err != nil {
		writeError(w, err, "list notifications")
		return
	}
	unread, err := store.CountUnread(r.Context(), h.DB, farmID)
	if err != nil {
		writeError(w, err, "list notifications")
		return
	}
	if notes == nil {
		notes = []model.TransferNotification{}
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"notifications": notes,
		"unread":        unread,
	})
}

// Acknowledge handles POST /api/notifications/{id}/ack.
func (h *NotificationsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := store.AcknowledgeNotification(r.Context(), h.DB, id, actorFrom(r)); err != nil {
		writeError(w, err, "acknowledge notification")
		return
	}
	h.events.publish(live.CollectionNotifications, live.OpUpdate, id, actorFrom(r).FarmID)
	jsonResponse(w, http.StatusOK, map[string]string{"status": model.NotificationAcknowledged})
}
