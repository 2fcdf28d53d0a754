package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/store"
)

// UsersHandler handles user management endpoints (admin+). Admins without
// all-farms access manage only the users of their own farm.
type UsersHandler struct {
	DB *sql.DB
}

type createUserRequest struct {
	Username       string `json:"username" validate:"required"`
	Name           string `json:"nom"`
	Password       string `json:"password" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=superadmin admin user"`
	FarmID         string `json:"ferme_id"`
	AllFarmsAccess bool   `json:"all_farms_access"`
}

type updateUserRequest struct {
	Role           string `json:"role" validate:"required,oneof=superadmin admin user"`
	FarmID         string `json:"ferme_id"`
	AllFarmsAccess bool   `json:"all_farms_access"`
}

type resetPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// canManage reports whether actor may create or edit a user with the given
// role on the given farm.
func canManage(actor model.Actor, role, farmID string) bool {
	if actor.Role == model.RoleSuperAdmin {
		return true
	}
	if role == model.RoleSuperAdmin {
		return false
	}
	return actor.AllFarms || farmID == actor.FarmID
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), h.DB, farmScope(r))
	if err != nil {
		writeError(w, err, "list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "create user")
		return
	}

	actor := actorFrom(r)
	if req.FarmID == "" && !actor.Elevated() {
		req.FarmID = actor.FarmID
	}
	if !canManage(actor, req.Role, req.FarmID) || (req.AllFarmsAccess && !actor.Elevated()) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, err, "create user")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := store.CreateUser(r.Context(), h.DB, model.User{
		Username:       req.Username,
		Name:           req.Name,
		PasswordHash:   string(hash),
		Role:           req.Role,
		FarmID:         req.FarmID,
		AllFarmsAccess: req.AllFarmsAccess,
	})
	if err != nil {
		writeError(w, err, "create user")
		return
	}

	slog.Info("user created", "user", actor.Name, "new_user", req.Username, "role", req.Role, "farm", req.FarmID)
	jsonResponse(w, http.StatusCreated, user)
}

// target loads the user named by the path and checks the caller may manage it.
func (h *UsersHandler) target(w http.ResponseWriter, r *http.Request) *model.User {
	user, err := store.GetUser(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, err, "get user")
		return nil
	}
	if user == nil || user.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return nil
	}
	if !canManage(actorFrom(r), user.Role, user.FarmID) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return nil
	}
	return user
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := h.target(w, r)
	if user == nil {
		return
	}
	jsonResponse(w, http.StatusOK, user)
}

// Update handles PUT /api/users/{id}.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := h.target(w, r)
	if user == nil {
		return
	}

	var req updateUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "update user")
		return
	}

	actor := actorFrom(r)
	if !canManage(actor, req.Role, req.FarmID) || (req.AllFarmsAccess && !actor.Elevated()) {
		jsonError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	if err := store.UpdateUser(r.Context(), h.DB, user.ID, req.Role, req.FarmID, req.AllFarmsAccess); err != nil {
		writeError(w, err, "update user")
		return
	}

	updated, err := store.GetUser(r.Context(), h.DB, user.ID)
	if err != nil {
		writeError(w, err, "get user")
		return
	}
	slog.Info("user updated", "user", actor.Name, "target_user", user.Username, "new_role", req.Role, "farm", req.FarmID)
	jsonResponse(w, http.StatusOK, updated)
}

// ResetPassword handles PUT /api/users/{id}/password.
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	user := h.target(w, r)
	if user == nil {
		return
	}

	var req resetPasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err, "reset password")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, err, "reset password")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if err := store.UpdateUserPassword(r.Context(), h.DB, user.ID, string(hash)); err != nil {
		writeError(w, err, "reset password")
		return
	}

	slog.Info("user password reset", "user", actorFrom(r).Name, "target_user", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if r.PathValue("id") == actor.UserID {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	user := h.target(w, r)
	if user == nil {
		return
	}

	if err := store.DeleteUser(r.Context(), h.DB, user.ID); err != nil {
		writeError(w, err, "delete user")
		return
	}

	slog.Info("user deleted", "user", actor.Name, "deleted_user", user.Username)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}
