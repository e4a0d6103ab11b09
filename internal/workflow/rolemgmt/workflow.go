// Пакет rolemgmt — машина состояний смены роли пользователя администратором.
//
// Состояния: Listing → Selecting → Confirming → Applying → {Applied | Failed}.
// Смена роли проходит три шага: предложение, подтверждение, применение.
// Список пользователей меняется только после подтверждённого успеха сервера.
// Администратор не может изменить собственную роль через этот workflow.
package rolemgmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/collinco2/sentinelforge-sub000/internal/dashclient"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/notify"
	"github.com/collinco2/sentinelforge-sub000/internal/session"
)

// SelfChangeMessage — текст уведомления при попытке изменить свою роль.
const SelfChangeMessage = "You cannot change your own role"

// DeniedLabel — текст отказа в доступе, если сервер не прислал свой.
const DeniedLabel = "You do not have permission to manage roles"

// Ошибки синхронных операций workflow.
var (
	ErrNotAdmin         = errors.New("нет права управлять ролями")
	ErrSelfRoleChange   = errors.New("нельзя изменить собственную роль")
	ErrInvalidRole      = errors.New("недопустимая роль")
	ErrUnknownTarget    = errors.New("пользователь не найден в списке")
	ErrRoleUnchanged    = errors.New("роль не изменилась")
	ErrNoPendingChange  = errors.New("нет ожидающей смены роли")
	ErrApplyInFlight    = errors.New("смена роли уже выполняется")
	ErrDirectoryMissing = errors.New("список пользователей не загружен")
)

// State — состояние workflow.
type State int

const (
	StateListing State = iota
	StateSelecting
	StateConfirming
	StateApplying
	StateApplied
	StateFailed
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateListing:
		return "listing"
	case StateSelecting:
		return "selecting"
	case StateConfirming:
		return "confirming"
	case StateApplying:
		return "applying"
	case StateApplied:
		return "applied"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome — результат Confirm.
type Outcome int

const (
	OutcomeBlocked Outcome = iota
	OutcomeApplied
	OutcomePermissionDenied
	OutcomeFailed
)

// String возвращает имя результата.
func (o Outcome) String() string {
	switch o {
	case OutcomeBlocked:
		return "blocked"
	case OutcomeApplied:
		return "applied"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Directory — внешний справочник пользователей (GET /users, PATCH /user/{id}/role).
type Directory interface {
	ListUsers(ctx context.Context) ([]model.Identity, int, error)
	UpdateUserRole(ctx context.Context, userID string, role rbac.Role) (*model.Identity, error)
}

// AuditRefresher перечитывает журнал аудита после смены роли.
type AuditRefresher interface {
	Refresh(ctx context.Context) error
}

// Option — опция Workflow.
type Option func(*Workflow)

// WithAuditRefresher задаёт журнал, обновляемый после смены роли.
func WithAuditRefresher(r AuditRefresher) Option {
	return func(w *Workflow) { w.audit = r }
}

// WithSessionRefresher задаёт обновление текущей сессии после смены роли.
func WithSessionRefresher(r session.Refresher) Option {
	return func(w *Workflow) { w.session = r }
}

// Workflow — смена ролей в панели администратора.
// Один экземпляр на открытую панель.
type Workflow struct {
	identity  session.IdentityReader
	directory Directory
	notifier  notify.Notifier
	audit     AuditRefresher
	session   session.Refresher
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	users   []model.Identity
	loaded  bool
	filter  rbac.Role
	pending *model.PendingRoleChange
	busyID  string
	loadSeq uint64
}

// New создаёт Workflow в состоянии Listing с пустым списком.
func New(identity session.IdentityReader, directory Directory, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		identity:  identity,
		directory: directory,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "role_workflow")),
		state:     StateListing,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.notifier == nil {
		w.notifier = notify.Discard
	}
	return w
}

// --- Список ---

// Load загружает справочник пользователей.
// Применяется ответ только последнего запроса.
func (w *Workflow) Load(ctx context.Context) error {
	if !w.identity.CanManageRoles() {
		return ErrNotAdmin
	}

	w.mu.Lock()
	w.loadSeq++
	seq := w.loadSeq
	w.mu.Unlock()

	users, _, err := w.directory.ListUsers(ctx)

	w.mu.Lock()
	if seq != w.loadSeq {
		w.mu.Unlock()
		w.logger.Debug("Устаревший ответ справочника отброшен", slog.Uint64("seq", seq))
		return nil
	}
	if err != nil {
		w.mu.Unlock()
		w.notifyLoadFailure(ctx, err)
		return fmt.Errorf("загрузка пользователей: %w", err)
	}
	w.users = append([]model.Identity(nil), users...)
	w.loaded = true
	w.mu.Unlock()

	w.logger.Debug("Справочник загружен", slog.Int("count", len(users)))
	return nil
}

// SetFilter задаёт фильтр по роли. Пустая роль — без фильтра.
// Повторной загрузки не происходит.
func (w *Workflow) SetFilter(role rbac.Role) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filter = role
}

// Filter возвращает текущий фильтр.
func (w *Workflow) Filter() rbac.Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filter
}

// Users возвращает копию всего загруженного списка.
func (w *Workflow) Users() []model.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Identity(nil), w.users...)
}

// Visible возвращает пользователей, прошедших фильтр.
func (w *Workflow) Visible() []model.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibleLocked()
}

func (w *Workflow) visibleLocked() []model.Identity {
	out := make([]model.Identity, 0, len(w.users))
	for _, u := range w.users {
		if w.filter == "" || u.Role == w.filter {
			out = append(out, u)
		}
	}
	return out
}

// CountLabel возвращает подпись вида "Showing N of M users".
func (w *Workflow) CountLabel() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("Showing %d of %d users", len(w.visibleLocked()), len(w.users))
}

// RowBusy сообщает, выполняется ли смена роли для строки.
func (w *Workflow) RowBusy(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busyID != "" && w.busyID == userID
}

// State возвращает текущее состояние.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pending возвращает ожидающую подтверждения смену роли.
func (w *Workflow) Pending() (model.PendingRoleChange, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return model.PendingRoleChange{}, false
	}
	return *w.pending, true
}

// --- Смена роли ---

// Select предлагает новую роль для пользователя.
// Попытка изменить собственную роль отклоняется сразу: уведомление,
// состояние Listing, без подтверждения и без сетевого вызова.
func (w *Workflow) Select(ctx context.Context, targetID string, proposed rbac.Role) error {
	if !w.identity.CanManageRoles() {
		return ErrNotAdmin
	}

	w.mu.Lock()
	switch w.state {
	case StateApplying:
		w.mu.Unlock()
		return ErrApplyInFlight
	case StateConfirming:
		w.pending = nil
	}
	w.setStateLocked(StateSelecting)

	reject := func(err error) error {
		w.setStateLocked(StateListing)
		w.mu.Unlock()
		return err
	}

	if !rbac.IsValidRole(string(proposed)) {
		return reject(fmt.Errorf("%w: %q", ErrInvalidRole, proposed))
	}
	if current, ok := w.identity.CurrentIdentity(); ok && current.ID == targetID && proposed != current.Role {
		w.setStateLocked(StateListing)
		w.mu.Unlock()
		w.logger.Warn("Попытка изменить собственную роль отклонена",
			slog.String("user_id", targetID),
			slog.String("proposed_role", string(proposed)),
		)
		w.notifier.Notify(ctx, notify.Warning(notify.TitleActionNotAllowed, SelfChangeMessage))
		return ErrSelfRoleChange
	}

	if !w.loaded {
		return reject(ErrDirectoryMissing)
	}
	idx := w.indexLocked(targetID)
	if idx < 0 {
		return reject(fmt.Errorf("%w: %s", ErrUnknownTarget, targetID))
	}
	target := w.users[idx]

	if target.Role == proposed {
		return reject(ErrRoleUnchanged)
	}

	w.pending = &model.PendingRoleChange{
		TargetID:       target.ID,
		TargetUsername: target.Username,
		CurrentRole:    target.Role,
		ProposedRole:   proposed,
	}
	w.setStateLocked(StateConfirming)
	w.mu.Unlock()
	return nil
}

// ConfirmationPrompt возвращает текст запроса подтверждения.
func (w *Workflow) ConfirmationPrompt() (string, bool) {
	p, ok := w.Pending()
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Change role of %s from %s to %s?", p.TargetUsername, p.CurrentRole, p.ProposedRole), true
}

// Discard отменяет ожидающую смену роли без изменений.
func (w *Workflow) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateConfirming {
		return ErrNoPendingChange
	}
	w.pending = nil
	w.setStateLocked(StateListing)
	return nil
}

// Confirm применяет ожидающую смену роли.
// Строка списка меняется только после успеха сервера.
func (w *Workflow) Confirm(ctx context.Context) Outcome {
	w.mu.Lock()
	if w.state != StateConfirming || w.pending == nil {
		w.mu.Unlock()
		return OutcomeBlocked
	}
	change := *w.pending
	w.busyID = change.TargetID
	w.setStateLocked(StateApplying)
	w.mu.Unlock()

	updated, err := w.directory.UpdateUserRole(ctx, change.TargetID, change.ProposedRole)

	w.mu.Lock()
	w.busyID = ""
	w.pending = nil
	if err != nil {
		w.setStateLocked(StateFailed)
		w.setStateLocked(StateListing)
		w.mu.Unlock()
		return w.fail(ctx, change, err)
	}

	newRole := change.ProposedRole
	if updated != nil && updated.Role != "" {
		newRole = updated.Role
	}
	if idx := w.indexLocked(change.TargetID); idx >= 0 {
		w.users[idx].Role = newRole
	}
	w.setStateLocked(StateApplied)
	w.setStateLocked(StateListing)
	w.mu.Unlock()

	w.logger.Info("Роль пользователя изменена",
		slog.String("target_id", change.TargetID),
		slog.String("old_role", string(change.CurrentRole)),
		slog.String("new_role", string(newRole)),
	)

	if w.audit != nil {
		if err := w.audit.Refresh(ctx); err != nil {
			w.logger.Warn("Не удалось обновить журнал аудита", slog.String("error", err.Error()))
		}
	}
	if w.session != nil {
		if err := w.session.Refresh(ctx); err != nil {
			w.logger.Warn("Не удалось обновить сессию", slog.String("error", err.Error()))
		}
	}

	w.notifier.Notify(ctx, notify.Success(notify.TitleRoleUpdated,
		fmt.Sprintf("Changed role of %s from %s to %s", change.TargetUsername, change.CurrentRole, newRole),
	))
	return OutcomeApplied
}

// notifyLoadFailure уведомляет о неудачной загрузке справочника.
// Отказ в доступе сообщается так же, как при смене роли.
func (w *Workflow) notifyLoadFailure(ctx context.Context, err error) {
	serverMsg, hasMsg := dashclient.ServerMessage(err)
	if dashclient.IsPermissionError(err) {
		w.logger.Warn("Загрузка пользователей отклонена сервером: нет прав",
			slog.String("error", err.Error()),
		)
		msg := DeniedLabel
		if hasMsg {
			msg = serverMsg
		}
		w.notifier.Notify(ctx, notify.PermissionDenied(msg))
		return
	}

	w.logger.Error("Ошибка загрузки пользователей", slog.String("error", err.Error()))
	msg := "Failed to load users"
	if hasMsg {
		msg = serverMsg
	}
	w.notifier.Notify(ctx, notify.Error(notify.TitleDirectoryLoadFailed, msg))
}

// fail уведомляет о неудачной смене роли. Список не меняется.
func (w *Workflow) fail(ctx context.Context, change model.PendingRoleChange, err error) Outcome {
	w.logger.Error("Ошибка смены роли",
		slog.String("target_id", change.TargetID),
		slog.String("error", err.Error()),
	)

	serverMsg, hasMsg := dashclient.ServerMessage(err)
	if dashclient.IsPermissionError(err) {
		msg := DeniedLabel
		if hasMsg {
			msg = serverMsg
		}
		w.notifier.Notify(ctx, notify.PermissionDenied(msg))
		return OutcomePermissionDenied
	}

	msg := fmt.Sprintf("Failed to change role of %s", change.TargetUsername)
	if hasMsg {
		msg = serverMsg
	}
	w.notifier.Notify(ctx, notify.Error(notify.TitleRoleUpdateFailed, msg))
	return OutcomeFailed
}

func (w *Workflow) indexLocked(userID string) int {
	for i := range w.users {
		if w.users[i].ID == userID {
			return i
		}
	}
	return -1
}

func (w *Workflow) setStateLocked(to State) {
	if w.state == to {
		return
	}
	w.logger.Debug("Переход состояния",
		slog.String("from", w.state.String()),
		slog.String("to", to.String()),
	)
	w.state = to
}
