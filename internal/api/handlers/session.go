// session.go — GET /session: текущий пользователь или authenticated=false.
package handlers

import (
	"net/http"

	"github.com/collinco2/sentinelforge-sub000/internal/api/middleware"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
)

// sessionResponse — ответ GET /session.
type sessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *model.Identity `json:"user,omitempty"`
}

// GetSession возвращает текущего пользователя.
// Используется с middleware JWTAuth.Optional(): без токена — authenticated=false.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil || !identity.IsActive {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: identity})
}
