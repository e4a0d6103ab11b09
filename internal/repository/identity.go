package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
)

// IdentityRepository — интерфейс доступа к таблице identities.
type IdentityRepository interface {
	// Create создаёт пользователя. ErrConflict при дублировании id или username.
	Create(ctx context.Context, identity *model.Identity) error
	// GetByID возвращает пользователя по ID.
	GetByID(ctx context.Context, id string) (*model.Identity, error)
	// GetByIDForUpdate возвращает пользователя с блокировкой строки (внутри транзакции).
	GetByIDForUpdate(ctx context.Context, id string) (*model.Identity, error)
	// List возвращает пользователей, опционально с фильтром по роли.
	List(ctx context.Context, role *rbac.Role) ([]model.Identity, error)
	// Count возвращает количество пользователей.
	Count(ctx context.Context, role *rbac.Role) (int, error)
	// UpdateRole меняет роль и возвращает обновлённого пользователя.
	UpdateRole(ctx context.Context, id string, role rbac.Role) (*model.Identity, error)
}

// identityRepo — реализация IdentityRepository.
type identityRepo struct {
	db DBTX
}

// NewIdentityRepository создаёт репозиторий пользователей.
func NewIdentityRepository(db DBTX) IdentityRepository {
	return &identityRepo{db: db}
}

const identityColumns = `id, username, role, is_active, created_at`

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	i := &model.Identity{}
	var role string
	if err := row.Scan(&i.ID, &i.Username, &role, &i.IsActive, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.Role = rbac.Role(role)
	return i, nil
}

func (r *identityRepo) Create(ctx context.Context, identity *model.Identity) error {
	query := `
		INSERT INTO identities (id, username, role, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		identity.ID, identity.Username, string(identity.Role), identity.IsActive,
	).Scan(&identity.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *identityRepo) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	return r.get(ctx, id, "")
}

func (r *identityRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Identity, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *identityRepo) get(ctx context.Context, id, lock string) (*model.Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM identities WHERE id = $1%s`, identityColumns, lock)

	identity, err := scanIdentity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return identity, nil
}

func (r *identityRepo) List(ctx context.Context, role *rbac.Role) ([]model.Identity, error) {
	query := fmt.Sprintf(`SELECT %s FROM identities`, identityColumns)
	var args []any
	if role != nil {
		query += ` WHERE role = $1`
		args = append(args, string(*role))
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	result := make([]model.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, *identity)
	}
	return result, rows.Err()
}

func (r *identityRepo) Count(ctx context.Context, role *rbac.Role) (int, error) {
	query := `SELECT COUNT(*) FROM identities`
	var args []any
	if role != nil {
		query += ` WHERE role = $1`
		args = append(args, string(*role))
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return count, nil
}

func (r *identityRepo) UpdateRole(ctx context.Context, id string, role rbac.Role) (*model.Identity, error) {
	query := fmt.Sprintf(`
		UPDATE identities SET role = $2, updated_at = now()
		WHERE id = $1
		RETURNING %s`, identityColumns)

	identity, err := scanIdentity(r.db.QueryRow(ctx, query, id, string(role)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления роли: %w", err)
	}
	return identity, nil
}
