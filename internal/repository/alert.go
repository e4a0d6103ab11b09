package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
)

// AlertRepository — интерфейс доступа к таблице alerts.
type AlertRepository interface {
	// Create создаёт алерт.
	Create(ctx context.Context, alert *model.Alert) error
	// GetByID возвращает алерт по ID.
	GetByID(ctx context.Context, id int64) (*model.Alert, error)
	// GetByIDForUpdate возвращает алерт с блокировкой строки (внутри транзакции).
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Alert, error)
	// List возвращает страницу алертов, новые первыми.
	List(ctx context.Context, limit, offset int) ([]model.Alert, error)
	// Count возвращает количество алертов.
	Count(ctx context.Context) (int, error)
	// SetOverride записывает переопределённую оценку и возвращает обновлённый алерт.
	SetOverride(ctx context.Context, id int64, score int) (*model.Alert, error)
}

// alertRepo — реализация AlertRepository.
type alertRepo struct {
	db DBTX
}

// NewAlertRepository создаёт репозиторий алертов.
func NewAlertRepository(db DBTX) AlertRepository {
	return &alertRepo{db: db}
}

const alertColumns = `id, name, description, severity, risk_score, overridden_risk_score, created_at`

func scanAlert(row pgx.Row) (*model.Alert, error) {
	a := &model.Alert{}
	if err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.Severity,
		&a.RiskScore, &a.OverriddenRiskScore, &a.Timestamp,
	); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *alertRepo) Create(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO alerts (name, description, severity, risk_score, overridden_risk_score)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		alert.Name, alert.Description, alert.Severity, alert.RiskScore, alert.OverriddenRiskScore,
	).Scan(&alert.ID, &alert.Timestamp)
	if err != nil {
		return fmt.Errorf("ошибка создания алерта: %w", err)
	}
	return nil
}

func (r *alertRepo) GetByID(ctx context.Context, id int64) (*model.Alert, error) {
	return r.get(ctx, id, "")
}

func (r *alertRepo) GetByIDForUpdate(ctx context.Context, id int64) (*model.Alert, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *alertRepo) get(ctx context.Context, id int64, lock string) (*model.Alert, error) {
	query := fmt.Sprintf(`SELECT %s FROM alerts WHERE id = $1%s`, alertColumns, lock)

	alert, err := scanAlert(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения алерта: %w", err)
	}
	return alert, nil
}

func (r *alertRepo) List(ctx context.Context, limit, offset int) ([]model.Alert, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, alertColumns)

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка алертов: %w", err)
	}
	defer rows.Close()

	result := make([]model.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования алерта: %w", err)
		}
		result = append(result, *alert)
	}
	return result, rows.Err()
}

func (r *alertRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта алертов: %w", err)
	}
	return count, nil
}

func (r *alertRepo) SetOverride(ctx context.Context, id int64, score int) (*model.Alert, error) {
	query := fmt.Sprintf(`
		UPDATE alerts SET overridden_risk_score = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, alertColumns)

	alert, err := scanAlert(r.db.QueryRow(ctx, query, id, score))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка переопределения оценки: %w", err)
	}
	return alert, nil
}
