package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
)

// AuditFilter — фильтры для выборки журнала аудита.
type AuditFilter struct {
	Kind    *model.AuditKind
	AlertID *int64
	// TargetUserID — фильтр по пользователю, чья роль менялась
	TargetUserID *string
}

// AuditRepository — интерфейс доступа к журналу аудита.
// Журнал только пополняется: обновление и удаление запрещены триггером в БД.
type AuditRepository interface {
	// Append добавляет запись. ID и Timestamp заполняются из БД.
	Append(ctx context.Context, entry *model.AuditLogEntry) error
	// List возвращает записи, новые первыми.
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]model.AuditLogEntry, error)
	// Count возвращает количество записей по фильтру.
	Count(ctx context.Context, filter AuditFilter) (int, error)
}

// auditRepo — реализация AuditRepository.
type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Append(ctx context.Context, entry *model.AuditLogEntry) error {
	var (
		alertID      *int64
		targetUserID *string
	)
	switch entry.Kind {
	case model.AuditKindRiskOverride:
		id, err := strconv.ParseInt(entry.SubjectID, 10, 64)
		if err != nil {
			return fmt.Errorf("некорректный ID алерта %q: %w", entry.SubjectID, err)
		}
		alertID = &id
	case model.AuditKindRoleChange:
		target := entry.SubjectID
		targetUserID = &target
	default:
		return fmt.Errorf("неизвестный тип события аудита: %q", entry.Kind)
	}

	query := `
		INSERT INTO audit_log (kind, alert_id, target_user_id, actor_id, actor_username,
		                       original_value, new_value, justification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		string(entry.Kind), alertID, targetUserID, entry.ActorID, entry.ActorUsername,
		entry.OriginalValue, entry.NewValue, entry.Justification,
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал аудита: %w", err)
	}
	return nil
}

// buildWhere формирует WHERE-условие и аргументы по фильтру.
func (f AuditFilter) buildWhere() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != nil {
		add("l.kind = $%d", string(*f.Kind))
	}
	if f.AlertID != nil {
		add("l.alert_id = $%d", *f.AlertID)
	}
	if f.TargetUserID != nil {
		add("l.target_user_id = $%d", *f.TargetUserID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *auditRepo) List(ctx context.Context, filter AuditFilter, limit, offset int) ([]model.AuditLogEntry, error) {
	where, args := filter.buildWhere()
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT l.id, l.kind, l.alert_id, l.target_user_id,
		       COALESCE(a.name, i.username, ''),
		       l.actor_id, l.actor_username, l.original_value, l.new_value,
		       l.justification, l.created_at
		FROM audit_log l
		LEFT JOIN alerts a ON a.id = l.alert_id
		LEFT JOIN identities i ON i.id = l.target_user_id
		%s
		ORDER BY l.created_at DESC, l.id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	result := make([]model.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, *entry)
	}
	return result, rows.Err()
}

func scanAuditEntry(row pgx.Row) (*model.AuditLogEntry, error) {
	var (
		e            model.AuditLogEntry
		kind         string
		alertID      *int64
		targetUserID *string
	)
	if err := row.Scan(
		&e.ID, &kind, &alertID, &targetUserID, &e.SubjectName,
		&e.ActorID, &e.ActorUsername, &e.OriginalValue, &e.NewValue,
		&e.Justification, &e.Timestamp,
	); err != nil {
		return nil, err
	}
	e.Kind = model.AuditKind(kind)
	switch {
	case alertID != nil:
		e.SubjectID = strconv.FormatInt(*alertID, 10)
	case targetUserID != nil:
		e.SubjectID = *targetUserID
	}
	return &e, nil
}

func (r *auditRepo) Count(ctx context.Context, filter AuditFilter) (int, error) {
	where, args := filter.buildWhere()
	query := `SELECT COUNT(*) FROM audit_log l` + where

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return count, nil
}
