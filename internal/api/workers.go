package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/notify"
	"github.com/erazemk/ferme/internal/store"
)

// dateLayout is the format of dates in worker requests.
const dateLayout = "2006-01-02"

// WorkersHandler handles worker registration endpoints.
type WorkersHandler struct {
	DB     *sql.DB
	events *events
}

type createWorkerRequest struct {
	Name      string `json:"nom" validate:"required"`
	CIN       string `json:"cin" validate:"required"`
	FarmID    string `json:"ferme_id"`
	EntryDate string `json:"date_entree" validate:"omitempty,datetime=2006-01-02"`
}

type exitWorkerRequest struct {
	ExitDate         string `json:"date_sortie" validate:"omitempty,datetime=2006-01-02"`
	RequestingFarmID string `json:"requesting_ferme_id"`
}

// parseDate parses an optional request date. An empty string is the zero time.
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	}
	return t, nil
}

// List handles GET /api/workers.
func (h *WorkersHandler) List(w http.ResponseWriter, r *http.Request) {
	workers, err := store.ListWorkers(r.Context(), h.DB, farmScope(r))
	if err != nil {
		writeError(w, err, "list workers")
		return
	}
	if workers == nil {
		workers = []model.Worker{}
	}
	jsonResponse(w, http.StatusOK, workers)
}

// Create handles POST /api/workers. A CIN already active on another farm
// is refused with 409 and that farm's admins are notified.
func (h *WorkersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWorkerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "create worker")
		return
	}
	entry, err := parseDate("date_entree", req.EntryDate)
	if err != nil {
		writeError(w, err, "create worker")
		return
	}

	actor := actorFrom(r)
	worker, err := store.CreateWorker(r.Context(), h.DB, actor, store.NewWorker{
		Name:      req.Name,
		CIN:       req.CIN,
		FarmID:    req.FarmID,
		EntryDate: entry,
	})
	var conflict *model.WorkerConflictError
	if errors.As(err, &conflict) {
		slog.Warn("duplicate worker", "user", actor.Name, "cin", conflict.Existing.CIN,
			"existing_farm", conflict.Existing.FarmID, "requesting_farm", actor.FarmID)
		h.events.notify(r.Context(), conflict.Recipients, notify.Payload{
			RecipientFarmID: conflict.Existing.FarmID,
			Type:            notify.TypeWorkerDuplicate,
			Title:           "Ouvrier déjà actif",
			Message: fmt.Sprintf("%s (CIN %s) est actif sur %s; une autre ferme tente de l'enregistrer",
				conflict.Existing.Name, conflict.Existing.CIN, conflict.FarmName),
			Priority: model.PriorityUrgent,
			ActionData: map[string]any{
				"worker_id":           conflict.Existing.ID,
				"worker_name":         conflict.Existing.Name,
				"worker_cin":          conflict.Existing.CIN,
				"requesting_ferme_id": actor.FarmID,
			},
		})
	}
	if err != nil {
		writeError(w, err, "create worker")
		return
	}

	slog.Info("worker created", "user", actor.Name, "worker", worker.ID, "farm", worker.FarmID)
	h.events.publish(live.CollectionWorkers, live.OpCreate, worker.ID, worker.FarmID)
	jsonResponse(w, http.StatusCreated, worker)
}

// Exit handles POST /api/workers/{id}/exit. When the exit answers a
// duplicate registration, the requesting farm's admins are told the worker
// is now free.
func (h *WorkersHandler) Exit(w http.ResponseWriter, r *http.Request) {
	var req exitWorkerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "record worker exit")
		return
	}
	exit, err := parseDate("date_sortie", req.ExitDate)
	if err != nil {
		writeError(w, err, "record worker exit")
		return
	}

	actor := actorFrom(r)
	worker, err := store.SetWorkerExit(r.Context(), h.DB, r.PathValue("id"), exit, actor)
	if err != nil {
		writeError(w, err, "record worker exit")
		return
	}

	slog.Info("worker exit recorded", "user", actor.Name, "worker", worker.ID, "farm", worker.FarmID)
	h.events.publish(live.CollectionWorkers, live.OpUpdate, worker.ID, worker.FarmID)

	if req.RequestingFarmID != "" && req.RequestingFarmID != worker.FarmID {
		farm, err := store.GetFarm(r.Context(), h.DB, req.RequestingFarmID)
		if err != nil || farm == nil {
			slog.Warn("no recipients for worker exit notification", "farm", req.RequestingFarmID, "error", err)
		} else {
			h.events.notify(r.Context(), farm.Admins, notify.Payload{
				RecipientFarmID: farm.ID,
				Type:            notify.TypeWorkerExitConfirmed,
				Title:           "Sortie d'ouvrier confirmée",
				Message:         fmt.Sprintf("%s (CIN %s) peut maintenant être enregistré", worker.Name, worker.CIN),
				Priority:        model.PriorityHigh,
				ActionData: map[string]any{
					"worker_id":   worker.ID,
					"worker_name": worker.Name,
					"worker_cin":  worker.CIN,
				},
			})
		}
	}

	jsonResponse(w, http.StatusOK, worker)
}
