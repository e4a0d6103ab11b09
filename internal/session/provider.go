// Пакет session — единственный источник текущей идентичности.
// Provider владеет ячейкой текущего пользователя с явным жизненным циклом:
// установка при входе или восстановлении сессии, очистка при выходе,
// замена при обновлении. Остальные компоненты читают её через IdentityReader.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
)

// SessionSource — внешний источник сессии (GET /session).
// Возвращает nil, nil, если сессия не аутентифицирована.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*model.Identity, error)
}

// ErrNoSource — Provider создан без источника сессии и не может обновиться.
var ErrNoSource = errors.New("источник сессии не задан")

// IdentityReader — узкий интерфейс только для чтения.
type IdentityReader interface {
	CurrentIdentity() (model.Identity, bool)
	HasRole(roles ...rbac.Role) bool
	CanOverrideRiskScores() bool
	CanViewAuditTrail() bool
	CanManageRoles() bool
}

// Refresher перечитывает идентичность из источника.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Provider хранит текущую идентичность и мемоизированные возможности.
type Provider struct {
	source SessionSource
	logger *slog.Logger

	mu       sync.RWMutex
	identity *model.Identity
	caps     rbac.Capabilities
	// epoch увеличивается при каждой смене ячейки; ответы, запрошенные
	// до смены, отбрасываются.
	epoch uint64
	// lastRequested — номер последнего запроса Refresh.
	lastRequested uint64
}

// NewProvider создаёт Provider без текущей идентичности.
// source может быть nil: такой Provider заполняется только через Login,
// а Refresh и Initialize возвращают ErrNoSource, не трогая ячейку.
func NewProvider(source SessionSource, logger *slog.Logger) *Provider {
	return &Provider{
		source: source,
		logger: logger.With(slog.String("component", "session")),
	}
}

// Initialize восстанавливает сессию из источника.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		return fmt.Errorf("восстановление сессии: %w", err)
	}
	if identity, ok := p.CurrentIdentity(); ok {
		p.logger.Info("Сессия восстановлена",
			slog.String("user_id", identity.ID),
			slog.String("role", string(identity.Role)),
		)
	} else {
		p.logger.Info("Сессия не аутентифицирована")
	}
	return nil
}

// Login устанавливает текущую идентичность.
func (p *Provider) Login(identity model.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(&identity)
	p.logger.Info("Вход выполнен",
		slog.String("user_id", identity.ID),
		slog.String("role", string(identity.Role)),
	)
}

// Logout очищает текущую идентичность.
func (p *Provider) Logout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(nil)
	p.logger.Info("Выход выполнен")
}

// Refresh перечитывает идентичность из источника.
// Ошибка источника оставляет прежнюю идентичность. Явный ответ
// authenticated=false очищает ячейку. Ответ, запрошенный раньше
// более нового запроса или до Login/Logout, отбрасывается.
func (p *Provider) Refresh(ctx context.Context) error {
	if p.source == nil {
		p.logger.Debug("Обновление сессии пропущено: источник не задан")
		return ErrNoSource
	}

	p.mu.Lock()
	p.lastRequested++
	seq := p.lastRequested
	epoch := p.epoch
	p.mu.Unlock()

	identity, err := p.source.CurrentSession(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if seq != p.lastRequested || epoch != p.epoch {
		p.logger.Debug("Устаревший ответ сессии отброшен", slog.Uint64("seq", seq))
		return nil
	}

	if err != nil {
		p.logger.Warn("Не удалось обновить сессию, сохранена прежняя идентичность",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("обновление сессии: %w", err)
	}

	if identity != nil && !identity.IsActive {
		p.logger.Warn("Пользователь деактивирован, сессия очищена",
			slog.String("user_id", identity.ID),
		)
		identity = nil
	}

	p.setLocked(identity)
	return nil
}

// setLocked заменяет ячейку. Вызывается под p.mu.
func (p *Provider) setLocked(identity *model.Identity) {
	p.epoch++
	if identity == nil {
		p.identity = nil
		p.caps = rbac.Capabilities{}
		return
	}
	cp := *identity
	p.identity = &cp
	p.caps = rbac.CapabilitiesOf(cp.Role)
}

// CurrentIdentity возвращает копию текущей идентичности.
func (p *Provider) CurrentIdentity() (model.Identity, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.identity == nil {
		return model.Identity{}, false
	}
	return *p.identity, true
}

// HasRole сообщает, есть ли идентичность и входит ли её роль в roles.
func (p *Provider) HasRole(roles ...rbac.Role) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.identity == nil {
		return false
	}
	for _, r := range roles {
		if p.identity.Role == r {
			return true
		}
	}
	return false
}

// Capabilities возвращает возможности текущей идентичности.
// Без идентичности — пустой набор.
func (p *Provider) Capabilities() rbac.Capabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.caps
}

// CanOverrideRiskScores — может ли текущий пользователь переопределять risk score.
func (p *Provider) CanOverrideRiskScores() bool {
	return p.Capabilities().CanOverrideRiskScores
}

// CanViewAuditTrail — может ли текущий пользователь просматривать журнал аудита.
func (p *Provider) CanViewAuditTrail() bool {
	return p.Capabilities().CanViewAuditTrail
}

// CanManageRoles — может ли текущий пользователь управлять ролями.
func (p *Provider) CanManageRoles() bool {
	return p.Capabilities().CanManageRoles
}
