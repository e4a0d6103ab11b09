// Пакет auditfeed — чтение и отображение журнала аудита для субъекта:
// одного алерта или всего справочника пользователей.
//
// Журнал только читается. Право просмотра перепроверяется при каждом
// обращении, поэтому понижение роли скрывает журнал без перезагрузки.
package auditfeed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/collinco2/sentinelforge-sub000/internal/dashclient"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/session"
)

// DefaultTruncateAt — длина обоснования в рунах, после которой оно сворачивается.
const DefaultTruncateAt = 120

// DefaultLimit — количество записей по умолчанию.
const DefaultLimit = 50

var (
	// ErrHidden — у текущего пользователя нет права просмотра журнала.
	ErrHidden = errors.New("журнал аудита недоступен")
	// ErrNotLoaded — Retry до первой загрузки.
	ErrNotLoaded = errors.New("журнал ещё не загружался")
)

// Source — внешний endpoint журнала (GET /audit, GET /role-audit).
type Source interface {
	AlertAudit(ctx context.Context, alertID int64, limit int) ([]model.AuditLogEntry, int, error)
	RoleAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, int, error)
}

// Subject — чей журнал показывается.
type Subject struct {
	directory bool
	alertID   int64
}

// ForAlert — журнал переопределений алерта.
func ForAlert(alertID int64) Subject {
	return Subject{alertID: alertID}
}

// Directory — журнал смены ролей всего справочника.
func Directory() Subject {
	return Subject{directory: true}
}

// String возвращает человекочитаемое имя субъекта.
func (s Subject) String() string {
	if s.directory {
		return "directory"
	}
	return "alert:" + strconv.FormatInt(s.alertID, 10)
}

// RenderState — состояние отображения. Состояния взаимоисключающие.
type RenderState int

const (
	StateLoading RenderState = iota
	StateEmpty
	StateError
	StateReady
)

// String возвращает имя состояния.
func (s RenderState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateError:
		return "error"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("render_state(%d)", int(s))
	}
}

// Entry — запись журнала в виде для отображения.
type Entry struct {
	model.AuditLogEntry
	// DisplayJustification — обоснование, возможно сокращённое.
	DisplayJustification string
	Truncated            bool
	Expanded             bool
}

// View — снимок журнала для отображения.
type View struct {
	Visible bool
	State   RenderState
	Entries []Entry
	Total   int
	// ErrorMessage заполнен в StateError.
	ErrorMessage string
	// Refreshing — идёт повторный запрос, прежнее содержимое остаётся на экране.
	Refreshing bool
}

// Option — опция Feed.
type Option func(*Feed)

// WithTruncateAt задаёт длину сворачивания обоснования.
func WithTruncateAt(runes int) Option {
	return func(f *Feed) {
		if runes > 0 {
			f.truncateAt = runes
		}
	}
}

// Feed — журнал аудита одного субъекта.
type Feed struct {
	identity   session.IdentityReader
	source     Source
	logger     *slog.Logger
	truncateAt int

	mu         sync.Mutex
	subject    Subject
	limit      int
	hasParams  bool
	seq        uint64
	state      RenderState
	entries    []model.AuditLogEntry
	total      int
	errMsg     string
	refreshing bool
	expanded   map[int64]bool
}

// New создаёт Feed в состоянии Loading.
func New(identity session.IdentityReader, source Source, logger *slog.Logger, opts ...Option) *Feed {
	f := &Feed{
		identity:   identity,
		source:     source,
		logger:     logger.With(slog.String("component", "audit_feed")),
		truncateAt: DefaultTruncateAt,
		state:      StateLoading,
		expanded:   make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Visible сообщает, может ли текущий пользователь видеть журнал.
// Не кэшируется.
func (f *Feed) Visible() bool {
	return f.identity.CanViewAuditTrail()
}

// Load загружает журнал субъекта.
// Более ранний запрос, завершившийся позже, отбрасывается.
func (f *Feed) Load(ctx context.Context, subject Subject, limit int) error {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return f.fetch(ctx, subject, limit)
}

// Retry повторяет загрузку с прежними параметрами.
// Показанные записи остаются до прихода нового ответа.
func (f *Feed) Retry(ctx context.Context) error {
	f.mu.Lock()
	subject, limit, ok := f.subject, f.limit, f.hasParams
	f.mu.Unlock()
	if !ok {
		return ErrNotLoaded
	}
	return f.fetch(ctx, subject, limit)
}

// Refresh перечитывает журнал, если он уже загружался. Иначе ничего не делает.
func (f *Feed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	subject, limit, ok := f.subject, f.limit, f.hasParams
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return f.fetch(ctx, subject, limit)
}

func (f *Feed) fetch(ctx context.Context, subject Subject, limit int) error {
	if !f.Visible() {
		return ErrHidden
	}

	f.mu.Lock()
	sameSubject := f.hasParams && f.subject == subject
	f.subject, f.limit, f.hasParams = subject, limit, true
	f.seq++
	seq := f.seq
	if sameSubject && f.state != StateLoading {
		f.refreshing = true
	} else {
		f.state = StateLoading
		f.entries = nil
		f.total = 0
		f.errMsg = ""
		f.refreshing = false
		f.expanded = make(map[int64]bool)
	}
	f.mu.Unlock()

	var (
		entries []model.AuditLogEntry
		total   int
		err     error
	)
	if subject.directory {
		entries, total, err = f.source.RoleAudit(ctx, limit)
	} else {
		entries, total, err = f.source.AlertAudit(ctx, subject.alertID, limit)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if seq != f.seq {
		f.logger.Debug("Устаревший ответ журнала отброшен",
			slog.String("subject", subject.String()),
			slog.Uint64("seq", seq),
		)
		return nil
	}
	f.refreshing = false

	if err != nil {
		f.logger.Warn("Ошибка загрузки журнала аудита",
			slog.String("subject", subject.String()),
			slog.String("error", err.Error()),
		)
		f.state = StateError
		f.errMsg = "Failed to load audit history"
		if msg, ok := dashclient.ServerMessage(err); ok {
			f.errMsg = msg
		}
		return fmt.Errorf("загрузка журнала %s: %w", subject, err)
	}

	sorted := append([]model.AuditLogEntry(nil), entries...)
	sortNewestFirst(sorted)
	f.entries = sorted
	f.total = max(total, len(sorted))
	f.errMsg = ""
	if len(sorted) == 0 {
		f.state = StateEmpty
	} else {
		f.state = StateReady
	}
	return nil
}

// sortNewestFirst упорядочивает записи по времени по убыванию, при равенстве — по ID по убыванию.
func sortNewestFirst(entries []model.AuditLogEntry) {
	slices.SortStableFunc(entries, func(a, b model.AuditLogEntry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// ToggleExpanded разворачивает или сворачивает обоснование записи.
// Возвращает новое состояние.
func (f *Feed) ToggleExpanded(entryID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expanded[entryID] = !f.expanded[entryID]
	return f.expanded[entryID]
}

// View возвращает снимок для отображения.
func (f *Feed) View() View {
	if !f.Visible() {
		return View{Visible: false}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v := View{
		Visible:    true,
		State:      f.state,
		Total:      f.total,
		Refreshing: f.refreshing,
	}
	switch f.state {
	case StateError:
		v.ErrorMessage = f.errMsg
	case StateReady:
		v.Entries = make([]Entry, 0, len(f.entries))
		for _, e := range f.entries {
			v.Entries = append(v.Entries, f.present(e))
		}
	}
	return v
}

// present готовит запись к отображению. Исходная запись не меняется.
func (f *Feed) present(e model.AuditLogEntry) Entry {
	out := Entry{
		AuditLogEntry:        e,
		DisplayJustification: e.Justification,
		Expanded:             f.expanded[e.ID],
	}
	runes := []rune(e.Justification)
	if len(runes) > f.truncateAt {
		out.Truncated = true
		if !out.Expanded {
			out.DisplayJustification = string(runes[:f.truncateAt]) + "…"
		}
	}
	return out
}
