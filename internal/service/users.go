// users.go — сервис управления ролями пользователей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/repository"
)

var roleChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sf_role_changes_total",
	Help: "Общее количество применённых смен ролей.",
})

// UserService — список пользователей и смена ролей.
type UserService struct {
	store      repository.Store
	identities *IdentityService
	logger     *slog.Logger
}

// NewUserService создаёт сервис управления пользователями.
// identities используется для инвалидации кэша после смены роли (может быть nil).
func NewUserService(store repository.Store, identities *IdentityService, logger *slog.Logger) *UserService {
	return &UserService{
		store:      store,
		identities: identities,
		logger:     logger.With(slog.String("component", "user_service")),
	}
}

// ListUsers возвращает пользователей, опционально с фильтром по роли.
func (s *UserService) ListUsers(ctx context.Context, role *rbac.Role) ([]model.Identity, int, error) {
	repos := s.store.Repos()
	users, err := repos.Identities.List(ctx, role)
	if err != nil {
		return nil, 0, err
	}
	total, err := repos.Identities.Count(ctx, role)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// RoleChangeJustification формирует текст обоснования для записи о смене роли.
func RoleChangeJustification(actor, target string, from, to rbac.Role) string {
	return fmt.Sprintf("%s changed %s's role from %s to %s", actor, target, from, to)
}

// UpdateRole меняет роль пользователя targetID от имени actor.
// Собственную роль изменить нельзя. Повтор текущей роли ничего не меняет и не пишет в журнал.
func (s *UserService) UpdateRole(
	ctx context.Context,
	actor *model.Identity,
	targetID string,
	roleName string,
) (*model.Identity, error) {
	if actor.ID == targetID {
		return nil, ErrSelfRoleChange
	}
	role, err := rbac.ParseRole(roleName)
	if err != nil {
		return nil, ErrInvalidRole
	}

	var (
		updated  *model.Identity
		previous rbac.Role
	)
	err = s.store.InTx(ctx, func(repos repository.Repositories) error {
		target, err := repos.Identities.GetByIDForUpdate(ctx, targetID)
		if err != nil {
			return err
		}
		previous = target.Role
		if target.Role == role {
			updated = target
			return nil
		}

		updated, err = repos.Identities.UpdateRole(ctx, targetID, role)
		if err != nil {
			return err
		}

		return repos.Audit.Append(ctx, &model.AuditLogEntry{
			Kind:          model.AuditKindRoleChange,
			SubjectID:     target.ID,
			SubjectName:   target.Username,
			ActorID:       actor.ID,
			ActorUsername: actor.Username,
			OriginalValue: string(previous),
			NewValue:      string(role),
			Justification: RoleChangeJustification(actor.Username, target.Username, previous, role),
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("смена роли пользователя %s: %w", targetID, err)
	}

	if previous == role {
		return updated, nil
	}

	if s.identities != nil {
		s.identities.Invalidate(targetID)
	}
	roleChangesTotal.Inc()
	s.logger.Info("Роль пользователя изменена",
		slog.String("target_id", targetID),
		slog.String("actor", actor.Username),
		slog.String("from", string(previous)),
		slog.String("to", string(role)),
	)
	return updated, nil
}
