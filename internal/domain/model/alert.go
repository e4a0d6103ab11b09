package model

import (
	"strings"
	"time"
)

// Границы risk score.
const (
	MinRiskScore     = 0
	MaxRiskScore     = 100
	DefaultRiskScore = 50
)

// Alert — алерт threat intelligence.
// RiskScore — исходная машинная оценка, OverriddenRiskScore — ручное переопределение.
type Alert struct {
	// ID — идентификатор алерта
	ID int64 `json:"id"`
	// Name — название
	Name string `json:"name"`
	// Description — описание
	Description string `json:"description,omitempty"`
	// Severity — критичность (low, medium, high, critical)
	Severity string `json:"severity"`
	// RiskScore — машинная оценка риска 0..100 (может отсутствовать)
	RiskScore *int `json:"risk_score"`
	// OverriddenRiskScore — переопределённая оценка 0..100 (nil если нет)
	OverriddenRiskScore *int `json:"overridden_risk_score"`
	// Timestamp — время срабатывания
	Timestamp time.Time `json:"timestamp"`
}

// EffectiveRiskScore возвращает отображаемую оценку:
// переопределённую, иначе исходную, иначе DefaultRiskScore.
func (a Alert) EffectiveRiskScore() int {
	if a.OverriddenRiskScore != nil {
		return *a.OverriddenRiskScore
	}
	if a.RiskScore != nil {
		return *a.RiskScore
	}
	return DefaultRiskScore
}

// IsOverridden сообщает, переопределена ли оценка.
func (a Alert) IsOverridden() bool {
	return a.OverriddenRiskScore != nil
}

// ClampScore приводит значение к диапазону [MinRiskScore, MaxRiskScore].
func ClampScore(score int) int {
	if score < MinRiskScore {
		return MinRiskScore
	}
	if score > MaxRiskScore {
		return MaxRiskScore
	}
	return score
}

// OverrideDraft — черновик переопределения, живёт только во время редактирования.
type OverrideDraft struct {
	// ProposedScore — новая оценка, всегда в [0,100]
	ProposedScore int
	// Justification — обоснование оператора
	Justification string
}

// NewOverrideDraft создаёт черновик из текущей эффективной оценки алерта.
func NewOverrideDraft(alert Alert) OverrideDraft {
	return OverrideDraft{ProposedScore: alert.EffectiveRiskScore()}
}

// SetScore устанавливает оценку с ограничением диапазона.
func (d *OverrideDraft) SetScore(score int) {
	d.ProposedScore = ClampScore(score)
}

// HasJustification сообщает, заполнено ли обоснование (без учёта пробелов).
func (d OverrideDraft) HasJustification() bool {
	return strings.TrimSpace(d.Justification) != ""
}

// OverrideRequest — тело PATCH /alert/{id}/override.
type OverrideRequest struct {
	RiskScore     int    `json:"risk_score"`
	Justification string `json:"justification"`
	ActorID       string `json:"user_id"`
}
