// users.go — обработчики списка пользователей и смены ролей.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/collinco2/sentinelforge-sub000/internal/api/errors"
	"github.com/collinco2/sentinelforge-sub000/internal/api/middleware"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
)

// userListResponse — ответ GET /users.
type userListResponse struct {
	Users []model.Identity `json:"users"`
	Total int              `json:"total"`
}

// roleUpdateRequest — тело PATCH /user/{id}/role.
type roleUpdateRequest struct {
	Role string `json:"role"`
}

// ListUsers — GET /users?role=. Требует CanManageRoles (проверяется middleware).
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var filter *rbac.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, err := rbac.ParseRole(raw)
		if err != nil {
			apierrors.ValidationError(w, "invalid role: must be one of viewer, analyst, auditor, admin")
			return
		}
		filter = &role
	}

	users, total, err := h.users.ListUsers(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "list_users")
		return
	}
	writeJSON(w, http.StatusOK, userListResponse{Users: users, Total: total})
}

// UpdateUserRole — PATCH /user/{id}/role. Требует CanManageRoles (проверяется middleware).
func (h *APIHandler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if targetID == "" {
		apierrors.ValidationError(w, "user id is required")
		return
	}

	var req roleUpdateRequest
	if err := decodeBody(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	actor := middleware.IdentityFromContext(r.Context())
	if actor == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	updated, err := h.users.UpdateRole(r.Context(), actor, targetID, req.Role)
	if err != nil {
		h.writeServiceError(w, err, "update_user_role")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
