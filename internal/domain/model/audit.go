package model

import "time"

// AuditKind — тип события аудита.
type AuditKind string

const (
	// AuditKindRiskOverride — переопределение risk score.
	AuditKindRiskOverride AuditKind = "risk_override"
	// AuditKindRoleChange — смена роли пользователя.
	AuditKindRoleChange AuditKind = "role_change"
)

// AuditLogEntry — запись журнала аудита. Только добавляется, никогда не изменяется.
type AuditLogEntry struct {
	// ID — идентификатор записи
	ID int64
	// SubjectID — объект события (ID алерта или ID пользователя)
	SubjectID string
	// SubjectName — имя объекта (username цели для role_change, название алерта для risk_override)
	SubjectName string
	// ActorID — кто выполнил действие
	ActorID string
	// ActorUsername — имя исполнителя
	ActorUsername string
	// Kind — тип события
	Kind AuditKind
	// OriginalValue — значение до изменения (оценка или роль)
	OriginalValue string
	// NewValue — значение после изменения
	NewValue string
	// Justification — обоснование
	Justification string
	// Timestamp — время события
	Timestamp time.Time
}
