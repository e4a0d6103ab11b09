// Пакет service — бизнес-логика сервера SentinelForge.
// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — действие запрещено для текущего пользователя.
	ErrForbidden = errors.New("действие запрещено")
	// ErrActorMismatch — user_id в запросе не совпадает с текущим пользователем.
	ErrActorMismatch = fmt.Errorf("%w: user_id не совпадает с текущим пользователем", ErrForbidden)
	// ErrSelfRoleChange — попытка изменить собственную роль.
	ErrSelfRoleChange = fmt.Errorf("%w: нельзя изменить собственную роль", ErrForbidden)
	// ErrInactiveIdentity — учётная запись отключена.
	ErrInactiveIdentity = fmt.Errorf("%w: учётная запись отключена", ErrForbidden)
	// ErrInvalidRole — некорректная роль.
	ErrInvalidRole = errors.New("некорректная роль: допустимые значения — viewer, analyst, auditor, admin")
	// ErrJustificationRequired — обоснование не заполнено.
	ErrJustificationRequired = errors.New("обоснование обязательно")
	// ErrScoreOutOfRange — оценка вне диапазона 0..100.
	ErrScoreOutOfRange = errors.New("оценка риска должна быть в диапазоне 0..100")
)
