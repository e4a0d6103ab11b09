// models.go — wire-модели ответов API SentinelForge и их преобразование в доменные.
package dashclient

import (
	"strconv"
	"time"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
)

// SessionResponse — ответ GET /session.
type SessionResponse struct {
	Authenticated bool            `json:"authenticated"`
	User          *model.Identity `json:"user,omitempty"`
}

// AlertListResponse — ответ GET /alerts.
type AlertListResponse struct {
	Alerts []model.Alert `json:"alerts"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// UserListResponse — ответ GET /users.
type UserListResponse struct {
	Users []model.Identity `json:"users"`
	Total int              `json:"total"`
}

// roleUpdateRequest — тело PATCH /user/{id}/role.
type roleUpdateRequest struct {
	Role string `json:"role"`
}

// AuditLog — запись журнала переопределений (GET /audit).
type AuditLog struct {
	ID            int64     `json:"id"`
	AlertID       int64     `json:"alert_id"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	OriginalScore int       `json:"original_score"`
	OverrideScore int       `json:"override_score"`
	Justification string    `json:"justification"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditListResponse — ответ GET /audit.
type AuditListResponse struct {
	AuditLogs []AuditLog `json:"audit_logs"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// RoleAuditLog — запись журнала смены ролей (GET /role-audit).
type RoleAuditLog struct {
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

// RoleAuditListResponse — ответ GET /role-audit.
type RoleAuditListResponse struct {
	AuditLogs []RoleAuditLog `json:"audit_logs"`
	Total     int            `json:"total"`
	Limit     int            `json:"limit"`
}

// ToEntry преобразует запись переопределения в доменную запись аудита.
func (l AuditLog) ToEntry() model.AuditLogEntry {
	return model.AuditLogEntry{
		ID:            l.ID,
		SubjectID:     strconv.FormatInt(l.AlertID, 10),
		ActorID:       l.UserID,
		ActorUsername: l.Username,
		Kind:          model.AuditKindRiskOverride,
		OriginalValue: strconv.Itoa(l.OriginalScore),
		NewValue:      strconv.Itoa(l.OverrideScore),
		Justification: l.Justification,
		Timestamp:     l.Timestamp,
	}
}

// ToEntry преобразует запись смены роли в доменную запись аудита.
func (l RoleAuditLog) ToEntry() model.AuditLogEntry {
	return model.AuditLogEntry{
		ID:            l.ID,
		SubjectID:     l.TargetUserID,
		SubjectName:   l.TargetUsername,
		ActorID:       l.UserID,
		ActorUsername: l.Username,
		Kind:          model.AuditKindRoleChange,
		OriginalValue: l.OriginalRole,
		NewValue:      l.NewRole,
		Justification: l.Justification,
		Timestamp:     l.Timestamp,
	}
}
