package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/store"
)

// FarmsHandler handles farm endpoints.
type FarmsHandler struct {
	DB     *sql.DB
	events *events
}

type createFarmRequest struct {
	ID     string   `json:"id"`
	Name   string   `json:"nom" validate:"required"`
	Admins []string `json:"admins"`
}

type updateFarmRequest struct {
	Name   string   `json:"nom" validate:"required"`
	Admins []string `json:"admins"`
}

// List handles GET /api/farms.
func (h *FarmsHandler) List(w http.ResponseWriter, r *http.Request) {
	farms, err := store.ListFarms(r.Context(), h.DB)
	if err != nil {
		writeError(w, err, "list farms")
		return
	}
	if farms == nil {
		farms = []model.Farm{}
	}
	jsonResponse(w, http.StatusOK, farms)
}

// Get handles GET /api/farms/{id}.
func (h *FarmsHandler) Get(w http.ResponseWriter, r *http.Request) {
	farm, err := store.GetFarm(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, err, "get farm")
		return
	}
	if farm == nil {
		jsonError(w, http.StatusNotFound, "farm not found")
		return
	}
	jsonResponse(w, http.StatusOK, farm)
}

// Create handles POST /api/farms.
func (h *FarmsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFarmRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "create farm")
		return
	}

	farm, err := store.CreateFarm(r.Context(), h.DB, req.ID, req.Name)
	if err != nil {
		writeError(w, err, "create farm")
		return
	}
	if len(req.Admins) > 0 {
		if err := store.SetFarmAdmins(r.Context(), h.DB, farm.ID, req.Admins); err != nil {
			writeError(w, err, "set farm admins")
			return
		}
		farm.Admins = req.Admins
	}

	claims := GetClaims(r.Context())
	slog.Info("farm created", "user", claims.Username, "farm", farm.ID, "name", farm.Name)
	h.events.publish(live.CollectionFarms, live.OpCreate, farm.ID)
	jsonResponse(w, http.StatusCreated, farm)
}

// Update handles PUT /api/farms/{id}. Admins may only edit farms they
// administer; elevated callers may edit any farm.
func (h *FarmsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := actorFrom(r)

	farm, err := store.GetFarm(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "get farm")
		return
	}
	if farm == nil {
		jsonError(w, http.StatusNotFound, "farm not found")
		return
	}
	if !actor.Elevated() && !farm.HasAdmin(actor.UserID) && actor.FarmID != farm.ID {
		jsonError(w, http.StatusForbidden, "not an administrator of this farm")
		return
	}

	var req updateFarmRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "update farm")
		return
	}

	if err := store.UpdateFarm(r.Context(), h.DB, id, req.Name); err != nil {
		writeError(w, err, "update farm")
		return
	}
	if req.Admins != nil {
		if err := store.SetFarmAdmins(r.Context(), h.DB, id, req.Admins); err != nil {
			writeError(w, err, "set farm admins")
			return
		}
	}

	farm, err = store.GetFarm(r.Context(), h.DB, id)
	if err != nil {
		writeError(w, err, "get farm")
		return
	}

	slog.Info("farm updated", "user", actor.Name, "farm", id, "name", req.Name)
	h.events.publish(live.CollectionFarms, live.OpUpdate, id)
	jsonResponse(w, http.StatusOK, farm)
}
