// Пакет notify — кратковременные уведомления для пользователя.
// Workflow не пробрасывают ошибки наружу: каждая неудача превращается
// в уведомление, которое отображает слой представления.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Kind — вид уведомления.
type Kind string

const (
	KindSuccess          Kind = "success"
	KindError            Kind = "error"
	KindPermissionDenied Kind = "permission_denied"
	KindWarning          Kind = "warning"
	KindInfo             Kind = "info"
)

// Заголовки уведомлений, отображаемые пользователю.
const (
	TitlePermissionDenied    = "Permission Denied"
	TitleOverrideFailed      = "Override Failed"
	TitleOverrideApplied     = "Risk Score Overridden"
	TitleRoleUpdated         = "Role Updated"
	TitleRoleUpdateFailed    = "Role Update Failed"
	TitleDirectoryLoadFailed = "Failed to Load Users"
	TitleActionNotAllowed    = "Action Not Allowed"
)

// Notification — одно уведомление.
type Notification struct {
	Kind    Kind
	Title   string
	Message string
}

// Notifier принимает уведомления.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc — адаптер функции к Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify реализует Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// Discard — Notifier, игнорирующий уведомления.
var Discard Notifier = NotifierFunc(func(context.Context, Notification) {})

// Recorder сохраняет уведомления в памяти. Безопасен для конкурентного использования.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify реализует Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All возвращает копию всех уведомлений.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Last возвращает последнее уведомление.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Len возвращает количество уведомлений.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Reset очищает накопленные уведомления.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

// LogNotifier пишет уведомления в slog.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notify"))}
}

// Notify реализует Notifier. Уровень зависит от вида уведомления.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Kind {
	case KindError, KindPermissionDenied, KindWarning:
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "Уведомление",
		slog.String("kind", string(n.Kind)),
		slog.String("title", n.Title),
		slog.String("message", n.Message),
	)
}

// Multi рассылает уведомление всем получателям по порядку.
func Multi(notifiers ...Notifier) Notifier {
	return NotifierFunc(func(ctx context.Context, n Notification) {
		for _, nt := range notifiers {
			if nt != nil {
				nt.Notify(ctx, n)
			}
		}
	})
}

// --- Конструкторы ---

// Success — уведомление об успехе.
func Success(title, message string) Notification {
	return Notification{Kind: KindSuccess, Title: title, Message: message}
}

// Error — уведомление о неудаче.
func Error(title, message string) Notification {
	return Notification{Kind: KindError, Title: title, Message: message}
}

// PermissionDenied — уведомление об отказе в доступе со стороны сервера.
func PermissionDenied(message string) Notification {
	return Notification{Kind: KindPermissionDenied, Title: TitlePermissionDenied, Message: message}
}

// Warning — предупреждение (например, нарушение защиты от самоизменения).
func Warning(title, message string) Notification {
	return Notification{Kind: KindWarning, Title: title, Message: message}
}
