// alerts.go — обработчики алертов и переопределения risk score.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/collinco2/sentinelforge-sub000/internal/api/errors"
	"github.com/collinco2/sentinelforge-sub000/internal/api/middleware"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
)

// alertListResponse — ответ GET /alerts.
type alertListResponse struct {
	Alerts []model.Alert `json:"alerts"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// alertIDParam извлекает {id} из пути.
func alertIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ListAlerts — GET /alerts?limit&offset.
func (h *APIHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	alerts, total, err := h.alerts.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list_alerts")
		return
	}
	writeJSON(w, http.StatusOK, alertListResponse{Alerts: alerts, Total: total, Limit: limit, Offset: offset})
}

// GetAlert — GET /alert/{id}.
func (h *APIHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "invalid alert id")
		return
	}

	alert, err := h.alerts.GetAlert(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get_alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// OverrideRiskScore — PATCH /alert/{id}/override.
// Требует CanOverrideRiskScores (проверяется middleware).
func (h *APIHandler) OverrideRiskScore(w http.ResponseWriter, r *http.Request) {
	id, ok := alertIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "invalid alert id")
		return
	}

	var req model.OverrideRequest
	if err := decodeBody(w, r, &req); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	actor := middleware.IdentityFromContext(r.Context())
	if actor == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	alert, err := h.alerts.Override(r.Context(), actor, id, req)
	if err != nil {
		h.writeServiceError(w, err, "override_risk_score")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
