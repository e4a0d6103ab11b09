// identity.go — разрешение subject токена в пользователя SentinelForge.
// Пользователь создаётся при первом обращении с ролью viewer;
// subject из SF_BOOTSTRAP_ADMIN_ID получает роль admin.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/repository"
)

// IdentityService — разрешение и автоматическое создание пользователей.
type IdentityService struct {
	repo             repository.IdentityRepository
	cache            *IdentityCache
	bootstrapAdminID string
	bootstrapAdmin   string
	logger           *slog.Logger
}

// NewIdentityService создаёт сервис пользователей.
// cache может быть nil — тогда каждый запрос идёт в БД.
func NewIdentityService(
	repo repository.IdentityRepository,
	cache *IdentityCache,
	bootstrapAdminID, bootstrapAdminUsername string,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		repo:             repo,
		cache:            cache,
		bootstrapAdminID: bootstrapAdminID,
		bootstrapAdmin:   bootstrapAdminUsername,
		logger:           logger.With(slog.String("component", "identity_service")),
	}
}

// Resolve возвращает пользователя по subject токена.
// Неизвестный subject создаётся с ролью viewer (или admin для bootstrap subject).
func (s *IdentityService) Resolve(ctx context.Context, subject, preferredUsername string) (*model.Identity, error) {
	if s.cache != nil {
		if identity, ok := s.cache.Get(subject); ok {
			return identity, nil
		}
	}

	identity, err := s.repo.GetByID(ctx, subject)
	if errors.Is(err, repository.ErrNotFound) {
		identity, err = s.provision(ctx, subject, preferredUsername)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(subject, identity)
	}
	return identity, nil
}

// provision создаёт пользователя при первом обращении.
func (s *IdentityService) provision(ctx context.Context, subject, preferredUsername string) (*model.Identity, error) {
	role := rbac.RoleViewer
	username := strings.TrimSpace(preferredUsername)
	if s.bootstrapAdminID != "" && subject == s.bootstrapAdminID {
		role = rbac.RoleAdmin
		if username == "" {
			username = s.bootstrapAdmin
		}
	}
	if username == "" {
		username = subject
	}

	identity := &model.Identity{
		ID:       subject,
		Username: username,
		Role:     role,
		IsActive: true,
	}
	err := s.repo.Create(ctx, identity)
	if errors.Is(err, repository.ErrConflict) {
		// Имя занято другим subject или пользователя создал параллельный запрос
		if existing, getErr := s.repo.GetByID(ctx, subject); getErr == nil {
			return existing, nil
		}
		identity.Username = subject
		err = s.repo.Create(ctx, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("создание пользователя %s: %w", subject, err)
	}

	s.logger.Info("Создан новый пользователь",
		slog.String("user_id", identity.ID),
		slog.String("username", identity.Username),
		slog.String("role", string(identity.Role)),
	)
	return identity, nil
}

// Invalidate удаляет пользователя из кэша (после смены роли).
func (s *IdentityService) Invalidate(id string) {
	if s.cache != nil {
		s.cache.Delete(id)
	}
}
