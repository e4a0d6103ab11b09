// alerts.go — сервис алертов и ручного переопределения risk score.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/repository"
)

var riskOverridesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sf_risk_overrides_total",
	Help: "Общее количество применённых переопределений risk score.",
})

// AlertService — чтение алертов и переопределение оценки риска.
type AlertService struct {
	store  repository.Store
	logger *slog.Logger
}

// NewAlertService создаёт сервис алертов.
func NewAlertService(store repository.Store, logger *slog.Logger) *AlertService {
	return &AlertService{
		store:  store,
		logger: logger.With(slog.String("component", "alert_service")),
	}
}

// ListAlerts возвращает страницу алертов и общее количество.
func (s *AlertService) ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int, error) {
	repos := s.store.Repos()
	alerts, err := repos.Alerts.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Alerts.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, nil
}

// GetAlert возвращает алерт по ID.
func (s *AlertService) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	alert, err := s.store.Repos().Alerts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return alert, err
}

// Override переопределяет оценку риска алерта от имени actor.
// Обновление алерта и запись в журнал выполняются в одной транзакции.
// Исходным значением в журнале считается эффективная оценка до изменения.
func (s *AlertService) Override(
	ctx context.Context,
	actor *model.Identity,
	alertID int64,
	req model.OverrideRequest,
) (*model.Alert, error) {
	if req.ActorID != "" && req.ActorID != actor.ID {
		return nil, ErrActorMismatch
	}
	if strings.TrimSpace(req.Justification) == "" {
		return nil, ErrJustificationRequired
	}
	if req.RiskScore < model.MinRiskScore || req.RiskScore > model.MaxRiskScore {
		return nil, ErrScoreOutOfRange
	}

	var (
		updated  *model.Alert
		original int
	)
	err := s.store.InTx(ctx, func(repos repository.Repositories) error {
		alert, err := repos.Alerts.GetByIDForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		original = alert.EffectiveRiskScore()

		updated, err = repos.Alerts.SetOverride(ctx, alertID, req.RiskScore)
		if err != nil {
			return err
		}

		return repos.Audit.Append(ctx, &model.AuditLogEntry{
			Kind:          model.AuditKindRiskOverride,
			SubjectID:     strconv.FormatInt(alertID, 10),
			SubjectName:   alert.Name,
			ActorID:       actor.ID,
			ActorUsername: actor.Username,
			OriginalValue: strconv.Itoa(original),
			NewValue:      strconv.Itoa(req.RiskScore),
			Justification: strings.TrimSpace(req.Justification),
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("переопределение оценки алерта %d: %w", alertID, err)
	}

	riskOverridesTotal.Inc()
	s.logger.Info("Оценка риска переопределена",
		slog.Int64("alert_id", alertID),
		slog.String("actor", actor.Username),
		slog.Int("original", original),
		slog.Int("new", req.RiskScore),
	)
	return updated, nil
}
