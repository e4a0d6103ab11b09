// Пакет handlers — HTTP-обработчики сервера SentinelForge.
// handler.go — общие зависимости, разбор параметров и маппинг ошибок сервисов.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/collinco2/sentinelforge-sub000/internal/api/errors"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/service"
)

// Ограничения пагинации списка алертов.
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// AlertService — операции над алертами. Реализуется service.AlertService.
type AlertService interface {
	ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int, error)
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	Override(ctx context.Context, actor *model.Identity, alertID int64, req model.OverrideRequest) (*model.Alert, error)
}

// UserService — управление пользователями. Реализуется service.UserService.
type UserService interface {
	ListUsers(ctx context.Context, role *rbac.Role) ([]model.Identity, int, error)
	UpdateRole(ctx context.Context, actor *model.Identity, targetID, role string) (*model.Identity, error)
}

// AuditService — чтение журнала аудита. Реализуется service.AuditService.
type AuditService interface {
	OverrideLog(ctx context.Context, alertID *int64, limit, offset int) ([]model.AuditLogEntry, int, error)
	RoleLog(ctx context.Context, limit, offset int) ([]model.AuditLogEntry, int, error)
}

// APIHandler — обработчики API SentinelForge.
type APIHandler struct {
	alerts AlertService
	users  UserService
	audit  AuditService
	logger *slog.Logger
}

// New создаёт обработчики API.
func New(alerts AlertService, users UserService, audit AuditService, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		alerts: alerts,
		users:  users,
		audit:  audit,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody разбирает JSON-тело запроса.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("некорректное тело запроса: %w", err)
	}
	return nil
}

// queryInt разбирает целочисленный query-параметр; пустой — defaultVal.
func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s должен быть неотрицательным целым числом", key)
	}
	return v, nil
}

// pagination разбирает limit и offset с ограничением limit.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit, err = queryInt(r, "limit", defaultPageLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err = queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, offset, nil
}

// writeServiceError маппит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrSelfRoleChange):
		apierrors.Forbidden(w, "you cannot change your own role")
	case errors.Is(err, service.ErrActorMismatch):
		apierrors.Forbidden(w, "user_id does not match the authenticated user")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "insufficient permissions")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "resource not found")
	case errors.Is(err, service.ErrJustificationRequired):
		apierrors.ValidationError(w, "justification is required")
	case errors.Is(err, service.ErrScoreOutOfRange):
		apierrors.ValidationError(w, "risk_score must be between 0 and 100")
	case errors.Is(err, service.ErrInvalidRole):
		apierrors.ValidationError(w, "invalid role: must be one of viewer, analyst, auditor, admin")
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "internal server error")
	}
}
