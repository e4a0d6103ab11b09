// audit.go — чтение журнала аудита.
package service

import (
	"context"
	"log/slog"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/repository"
)

// Ограничения размера страницы журнала.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// AuditService — выборка записей журнала аудита.
type AuditService struct {
	repo   repository.AuditRepository
	logger *slog.Logger
}

// NewAuditService создаёт сервис журнала аудита.
func NewAuditService(repo repository.AuditRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger.With(slog.String("component", "audit_service")),
	}
}

// NormalizeLimit приводит limit к диапазону [1, MaxAuditLimit]; 0 и меньше — DefaultAuditLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		return MaxAuditLimit
	}
	return limit
}

// OverrideLog возвращает записи о переопределениях оценок, опционально по одному алерту.
func (s *AuditService) OverrideLog(ctx context.Context, alertID *int64, limit, offset int) ([]model.AuditLogEntry, int, error) {
	kind := model.AuditKindRiskOverride
	return s.list(ctx, repository.AuditFilter{Kind: &kind, AlertID: alertID}, limit, offset)
}

// RoleLog возвращает записи о сменах ролей.
func (s *AuditService) RoleLog(ctx context.Context, limit, offset int) ([]model.AuditLogEntry, int, error) {
	kind := model.AuditKindRoleChange
	return s.list(ctx, repository.AuditFilter{Kind: &kind}, limit, offset)
}

func (s *AuditService) list(ctx context.Context, filter repository.AuditFilter, limit, offset int) ([]model.AuditLogEntry, int, error) {
	if offset < 0 {
		offset = 0
	}
	entries, err := s.repo.List(ctx, filter, NormalizeLimit(limit), offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
