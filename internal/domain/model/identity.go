// Пакет model — доменные модели SentinelForge.
package model

import (
	"time"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
)

// Identity — аутентифицированный пользователь.
// Неизменяем, кроме Role: роль меняется только через workflow управления ролями.
type Identity struct {
	// ID — идентификатор пользователя (sub из токена)
	ID string `json:"id"`
	// Username — имя пользователя
	Username string `json:"username"`
	// Role — роль (viewer, analyst, auditor, admin)
	Role rbac.Role `json:"role"`
	// IsActive — активна ли учётная запись
	IsActive bool `json:"is_active"`
	// CreatedAt — дата создания
	CreatedAt time.Time `json:"created_at"`
}

// Capabilities возвращает возможности роли пользователя.
func (i Identity) Capabilities() rbac.Capabilities {
	return rbac.CapabilitiesOf(i.Role)
}

// PendingRoleChange — предложенная, но ещё не подтверждённая смена роли.
// Никогда не применяется автоматически.
type PendingRoleChange struct {
	// TargetID — ID пользователя, роль которого меняется
	TargetID string
	// TargetUsername — имя пользователя (для диалога подтверждения)
	TargetUsername string
	// CurrentRole — роль до изменения
	CurrentRole rbac.Role
	// ProposedRole — новая роль
	ProposedRole rbac.Role
}
