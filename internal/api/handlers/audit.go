// audit.go — обработчики журнала аудита.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/collinco2/sentinelforge-sub000/internal/api/errors"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/service"
)

// auditLog — запись журнала переопределений в ответе GET /audit.
type auditLog struct {
	ID            int64     `json:"id"`
	AlertID       int64     `json:"alert_id"`
	AlertName     string    `json:"alert_name,omitempty"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	OriginalScore int       `json:"original_score"`
	OverrideScore int       `json:"override_score"`
	Justification string    `json:"justification"`
	Timestamp     time.Time `json:"timestamp"`
}

// auditListResponse — ответ GET /audit.
type auditListResponse struct {
	AuditLogs []auditLog `json:"audit_logs"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// roleAuditLog — запись журнала смены ролей в ответе GET /role-audit.
type roleAuditLog struct {
	ID             int64     `json:"id"`
	Action         string    `json:"action"`
	TargetUserID   string    `json:"target_user_id"`
	TargetUsername string    `json:"target_username"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	OriginalRole   string    `json:"original_role"`
	NewRole        string    `json:"new_role"`
	Justification  string    `json:"justification"`
	Timestamp      time.Time `json:"timestamp"`
}

// roleAuditListResponse — ответ GET /role-audit.
type roleAuditListResponse struct {
	AuditLogs []roleAuditLog `json:"audit_logs"`
	Total     int            `json:"total"`
	Limit     int            `json:"limit"`
}

func toAuditLog(e model.AuditLogEntry) auditLog {
	alertID, _ := strconv.ParseInt(e.SubjectID, 10, 64)
	original, _ := strconv.Atoi(e.OriginalValue)
	override, _ := strconv.Atoi(e.NewValue)
	return auditLog{
		ID:            e.ID,
		AlertID:       alertID,
		AlertName:     e.SubjectName,
		UserID:        e.ActorID,
		Username:      e.ActorUsername,
		OriginalScore: original,
		OverrideScore: override,
		Justification: e.Justification,
		Timestamp:     e.Timestamp,
	}
}

func toRoleAuditLog(e model.AuditLogEntry) roleAuditLog {
	return roleAuditLog{
		ID:             e.ID,
		Action:         string(e.Kind),
		TargetUserID:   e.SubjectID,
		TargetUsername: e.SubjectName,
		UserID:         e.ActorID,
		Username:       e.ActorUsername,
		OriginalRole:   e.OriginalValue,
		NewRole:        e.NewValue,
		Justification:  e.Justification,
		Timestamp:      e.Timestamp,
	}
}

// GetAudit — GET /audit?alert_id&limit&offset. Требует CanViewAuditTrail.
func (h *APIHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	var alertID *int64
	if raw := r.URL.Query().Get("alert_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			apierrors.ValidationError(w, "alert_id must be a positive integer")
			return
		}
		alertID = &id
	}
	limit, err := queryInt(r, "limit", service.DefaultAuditLimit)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit = service.NormalizeLimit(limit)

	entries, total, err := h.audit.OverrideLog(r.Context(), alertID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "get_audit")
		return
	}

	logs := make([]auditLog, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, toAuditLog(e))
	}
	writeJSON(w, http.StatusOK, auditListResponse{AuditLogs: logs, Total: total, Limit: limit, Offset: offset})
}

// GetRoleAudit — GET /role-audit?limit. Требует CanViewAuditTrail.
func (h *APIHandler) GetRoleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", service.DefaultAuditLimit)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	limit = service.NormalizeLimit(limit)

	entries, total, err := h.audit.RoleLog(r.Context(), limit, 0)
	if err != nil {
		h.writeServiceError(w, err, "get_role_audit")
		return
	}

	logs := make([]roleAuditLog, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, toRoleAuditLog(e))
	}
	writeJSON(w, http.StatusOK, roleAuditListResponse{AuditLogs: logs, Total: total, Limit: limit})
}
