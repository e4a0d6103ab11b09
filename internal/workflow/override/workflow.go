// Пакет override — машина состояний переопределения risk score одного алерта.
//
// Состояния: Viewing → Editing → Validating → Submitting → {Confirmed | Failed}.
// Editing → Viewing (Cancel) — единственный обратный переход по инициативе
// пользователя. Confirmed возвращается в Viewing, Failed — в Editing
// с сохранённым черновиком.
//
// Клиентская проверка возможностей — только удобство интерфейса.
// Решение принимает сервер: его 403 переводит workflow в Failed
// с уведомлением Permission Denied.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/collinco2/sentinelforge-sub000/internal/dashclient"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/notify"
	"github.com/collinco2/sentinelforge-sub000/internal/session"
)

// DeniedLabel — подпись неактивного элемента редактирования.
const DeniedLabel = "You do not have permission to override risk scores"

// Ошибки синхронных операций workflow.
var (
	ErrCapabilityDenied = errors.New("нет права переопределять risk score")
	ErrNotEditing       = errors.New("workflow не в режиме редактирования")
	ErrSubmitInFlight   = errors.New("отправка уже выполняется")
)

// State — состояние workflow.
type State int

const (
	StateViewing State = iota
	StateEditing
	StateValidating
	StateSubmitting
	StateConfirmed
	StateFailed
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateViewing:
		return "viewing"
	case StateEditing:
		return "editing"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome — результат Submit.
type Outcome int

const (
	// OutcomeBlocked — отправка не выполнялась (нет обоснования, не Editing
	// или уже идёт другая отправка).
	OutcomeBlocked Outcome = iota
	OutcomeConfirmed
	OutcomePermissionDenied
	OutcomeFailed
)

// String возвращает имя результата.
func (o Outcome) String() string {
	switch o {
	case OutcomeBlocked:
		return "blocked"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomePermissionDenied:
		return "permission_denied"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Submitter — внешний endpoint переопределения (PATCH /alert/{id}/override).
type Submitter interface {
	OverrideRiskScore(ctx context.Context, alertID int64, req model.OverrideRequest) (*model.Alert, error)
}

// EditAffordance — элемент редактирования. Всегда видим, активен только при наличии права.
type EditAffordance struct {
	Visible bool
	Enabled bool
	Label   string
}

// SubmitAffordance — кнопка отправки.
type SubmitAffordance struct {
	Enabled bool
	Busy    bool
}

// RefreshFunc вызывается после успешного переопределения, чтобы родительский
// список отразил новое значение.
type RefreshFunc func(ctx context.Context, alert model.Alert)

// TransitionHook получает каждый переход состояния.
type TransitionHook func(from, to State)

// Option — опция Workflow.
type Option func(*Workflow)

// WithRefreshCallback задаёт обратный вызов после успешного переопределения.
func WithRefreshCallback(fn RefreshFunc) Option {
	return func(w *Workflow) { w.onRefresh = fn }
}

// WithTransitionHook задаёт наблюдателя переходов.
func WithTransitionHook(fn TransitionHook) Option {
	return func(w *Workflow) { w.hook = fn }
}

// Workflow — переопределение risk score одного алерта.
// Один экземпляр на открытую карточку алерта.
type Workflow struct {
	identity  session.IdentityReader
	submitter Submitter
	notifier  notify.Notifier
	onRefresh RefreshFunc
	hook      TransitionHook
	logger    *slog.Logger

	mu      sync.Mutex
	alert   model.Alert
	state   State
	draft   *model.OverrideDraft
	pending [][2]State
}

// New создаёт Workflow в состоянии Viewing.
func New(alert model.Alert, identity session.IdentityReader, submitter Submitter, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		identity:  identity,
		submitter: submitter,
		notifier:  notifier,
		logger: logger.With(
			slog.String("component", "override_workflow"),
			slog.Int64("alert_id", alert.ID),
		),
		alert: alert,
		state: StateViewing,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.notifier == nil {
		w.notifier = notify.Discard
	}
	return w
}

// --- Чтение состояния ---

// State возвращает текущее состояние.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Alert возвращает копию алерта.
func (w *Workflow) Alert() model.Alert {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alert
}

// EffectiveScore возвращает отображаемую оценку алерта.
func (w *Workflow) EffectiveScore() int {
	return w.Alert().EffectiveRiskScore()
}

// Draft возвращает копию черновика, если он есть.
func (w *Workflow) Draft() (model.OverrideDraft, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.draft == nil {
		return model.OverrideDraft{}, false
	}
	return *w.draft, true
}

// EditAffordance описывает элемент редактирования для текущего пользователя.
func (w *Workflow) EditAffordance() EditAffordance {
	if w.identity.CanOverrideRiskScores() {
		return EditAffordance{Visible: true, Enabled: true}
	}
	return EditAffordance{Visible: true, Enabled: false, Label: DeniedLabel}
}

// SubmitAffordance описывает кнопку отправки.
// Неактивна без обоснования и во время отправки.
func (w *Workflow) SubmitAffordance() SubmitAffordance {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateSubmitting:
		return SubmitAffordance{Enabled: false, Busy: true}
	case StateEditing:
		return SubmitAffordance{Enabled: w.draft != nil && w.draft.HasJustification()}
	default:
		return SubmitAffordance{}
	}
}

// --- Переходы ---

// BeginEdit открывает черновик, засеянный эффективной оценкой.
// Без права на переопределение состояние не меняется.
func (w *Workflow) BeginEdit() error {
	if !w.identity.CanOverrideRiskScores() {
		return ErrCapabilityDenied
	}

	w.mu.Lock()
	if w.state != StateViewing {
		w.mu.Unlock()
		return fmt.Errorf("BeginEdit из состояния %s: %w", w.state, ErrNotEditing)
	}
	draft := model.NewOverrideDraft(w.alert)
	w.draft = &draft
	w.transitionLocked(StateEditing)
	w.unlockAndFlush()
	return nil
}

// SetScore задаёт предлагаемую оценку. Значение вне [0,100] приводится к границе.
func (w *Workflow) SetScore(score int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateEditing {
		return ErrNotEditing
	}
	w.draft.SetScore(score)
	return nil
}

// SetJustification задаёт обоснование.
func (w *Workflow) SetJustification(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateEditing {
		return ErrNotEditing
	}
	w.draft.Justification = text
	return nil
}

// Cancel отбрасывает черновик и возвращает в Viewing.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	switch w.state {
	case StateSubmitting:
		w.mu.Unlock()
		return ErrSubmitInFlight
	case StateEditing:
		w.draft = nil
		w.transitionLocked(StateViewing)
		w.unlockAndFlush()
		return nil
	default:
		w.mu.Unlock()
		return ErrNotEditing
	}
}

// Submit отправляет черновик.
// Пустое обоснование блокирует отправку без сетевого вызова.
// Повторный вызов во время отправки блокируется, а не ставится в очередь.
func (w *Workflow) Submit(ctx context.Context) Outcome {
	w.mu.Lock()
	if w.state != StateEditing {
		state := w.state
		w.mu.Unlock()
		w.logger.Debug("Отправка заблокирована", slog.String("state", state.String()))
		return OutcomeBlocked
	}

	w.transitionLocked(StateValidating)
	if !w.draft.HasJustification() {
		w.transitionLocked(StateEditing)
		w.unlockAndFlush()
		w.logger.Debug("Отправка заблокирована: нет обоснования")
		return OutcomeBlocked
	}

	var actorID string
	if identity, ok := w.identity.CurrentIdentity(); ok {
		actorID = identity.ID
	}
	req := model.OverrideRequest{
		RiskScore:     model.ClampScore(w.draft.ProposedScore),
		Justification: w.draft.Justification,
		ActorID:       actorID,
	}
	alertID := w.alert.ID
	originalScore := w.alert.EffectiveRiskScore()
	w.transitionLocked(StateSubmitting)
	w.unlockAndFlush()

	updated, err := w.submitter.OverrideRiskScore(ctx, alertID, req)

	if err != nil {
		return w.fail(ctx, err)
	}

	w.mu.Lock()
	if updated != nil {
		w.alert = *updated
	} else {
		score := req.RiskScore
		w.alert.OverriddenRiskScore = &score
	}
	alert := w.alert
	w.draft = nil
	w.transitionLocked(StateConfirmed)
	w.transitionLocked(StateViewing)
	w.unlockAndFlush()

	w.logger.Info("Risk score переопределён",
		slog.Int("original_score", originalScore),
		slog.Int("override_score", alert.EffectiveRiskScore()),
		slog.String("actor_id", actorID),
	)
	w.notifier.Notify(ctx, notify.Success(notify.TitleOverrideApplied,
		fmt.Sprintf("Risk score of %q changed from %d to %d", alert.Name, originalScore, alert.EffectiveRiskScore()),
	))
	if w.onRefresh != nil {
		w.onRefresh(ctx, alert)
	}
	return OutcomeConfirmed
}

// fail переводит workflow в Failed, затем в Editing с сохранённым черновиком.
func (w *Workflow) fail(ctx context.Context, err error) Outcome {
	w.mu.Lock()
	w.transitionLocked(StateFailed)
	w.transitionLocked(StateEditing)
	w.unlockAndFlush()

	if dashclient.IsPermissionError(err) {
		w.logger.Warn("Переопределение отклонено сервером: нет прав",
			slog.String("error", err.Error()),
		)
		msg := DeniedLabel
		if serverMsg, ok := dashclient.ServerMessage(err); ok {
			msg = serverMsg
		}
		w.notifier.Notify(ctx, notify.PermissionDenied(msg))
		return OutcomePermissionDenied
	}

	w.logger.Error("Ошибка переопределения risk score",
		slog.String("error", err.Error()),
	)
	msg := "Failed to override risk score"
	if serverMsg, ok := dashclient.ServerMessage(err); ok {
		msg = serverMsg
	}
	w.notifier.Notify(ctx, notify.Error(notify.TitleOverrideFailed, msg))
	return OutcomeFailed
}

// transitionLocked меняет состояние. Вызывается под w.mu.
func (w *Workflow) transitionLocked(to State) {
	from := w.state
	w.state = to
	w.pending = append(w.pending, [2]State{from, to})
}

// unlockAndFlush снимает блокировку и отдаёт накопленные переходы наблюдателю.
func (w *Workflow) unlockAndFlush() {
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, t := range pending {
		w.logger.Debug("Переход состояния",
			slog.String("from", t[0].String()),
			slog.String("to", t[1].String()),
		)
		if w.hook != nil {
			w.hook(t[0], t[1])
		}
	}
}
