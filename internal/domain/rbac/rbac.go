// Пакет rbac — модель возможностей (capabilities) ролей SentinelForge.
// Четыре роли: viewer, analyst, auditor, admin.
// Любая неизвестная роль не даёт ни одной возможности (fail-closed).
package rbac

import (
	"errors"
	"fmt"
)

// Role — роль пользователя.
type Role string

// Роли системы.
const (
	RoleViewer  Role = "viewer"
	RoleAnalyst Role = "analyst"
	RoleAuditor Role = "auditor"
	RoleAdmin   Role = "admin"
)

// ErrUnknownRole — строка не является допустимой ролью.
var ErrUnknownRole = errors.New("неизвестная роль: допустимые значения — viewer, analyst, auditor, admin")

// Capabilities — набор возможностей, вычисляемый из роли.
// Не хранится, всегда выводится через CapabilitiesOf.
type Capabilities struct {
	// CanOverrideRiskScores — может переопределять risk score алертов.
	CanOverrideRiskScores bool
	// CanViewAuditTrail — может просматривать журнал аудита.
	CanViewAuditTrail bool
	// CanManageRoles — может менять роли других пользователей.
	CanManageRoles bool
}

// CapabilitiesOf возвращает возможности роли.
// Неизвестная или пустая роль — нулевой набор.
func CapabilitiesOf(role Role) Capabilities {
	switch role {
	case RoleViewer:
		return Capabilities{}
	case RoleAnalyst:
		return Capabilities{CanOverrideRiskScores: true}
	case RoleAuditor:
		return Capabilities{CanViewAuditTrail: true}
	case RoleAdmin:
		return Capabilities{
			CanOverrideRiskScores: true,
			CanViewAuditTrail:     true,
			CanManageRoles:        true,
		}
	default:
		return Capabilities{}
	}
}

// Covers проверяет, что набор c включает все возможности other.
func (c Capabilities) Covers(other Capabilities) bool {
	if other.CanOverrideRiskScores && !c.CanOverrideRiskScores {
		return false
	}
	if other.CanViewAuditTrail && !c.CanViewAuditTrail {
		return false
	}
	if other.CanManageRoles && !c.CanManageRoles {
		return false
	}
	return true
}

// None сообщает, что набор пуст.
func (c Capabilities) None() bool {
	return c == Capabilities{}
}

// AllRoles возвращает роли в порядке возрастания привилегий.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleAnalyst, RoleAuditor, RoleAdmin}
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(s string) bool {
	switch Role(s) {
	case RoleViewer, RoleAnalyst, RoleAuditor, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole преобразует строку в Role.
func ParseRole(s string) (Role, error) {
	if !IsValidRole(s) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return Role(s), nil
}

// String реализует fmt.Stringer.
func (r Role) String() string {
	return string(r)
}
