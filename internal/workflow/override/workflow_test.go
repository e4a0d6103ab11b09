package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/collinco2/sentinelforge-sub000/internal/dashclient"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/notify"
	"github.com/collinco2/sentinelforge-sub000/internal/session"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

// fakeSubmitter записывает запросы и возвращает заданный результат.
type fakeSubmitter struct {
	mu       sync.Mutex
	requests []model.OverrideRequest
	err      error
	// block, если задан, удерживает вызов до закрытия канала.
	block   chan struct{}
	started chan struct{}
}

func (f *fakeSubmitter) OverrideRiskScore(_ context.Context, alertID int64, req model.OverrideRequest) (*model.Alert, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	score := req.RiskScore
	return &model.Alert{ID: alertID, Name: "Suspicious login", RiskScore: intPtr(75), OverriddenRiskScore: &score}, nil
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newProvider(role rbac.Role) *session.Provider {
	p := session.NewProvider(nil, testLogger())
	p.Login(model.Identity{ID: "u-" + string(role), Username: string(role), Role: role, IsActive: true})
	return p
}

func testAlert() model.Alert {
	return model.Alert{ID: 7, Name: "Suspicious login", Severity: "high", RiskScore: intPtr(75)}
}

func TestEditAffordance(t *testing.T) {
	tests := []struct {
		role    rbac.Role
		enabled bool
	}{
		{rbac.RoleViewer, false},
		{rbac.RoleAnalyst, true},
		{rbac.RoleAuditor, false},
		{rbac.RoleAdmin, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			w := New(testAlert(), newProvider(tt.role), &fakeSubmitter{}, nil, testLogger())
			a := w.EditAffordance()
			if !a.Visible {
				t.Error("элемент редактирования должен быть всегда видим")
			}
			if a.Enabled != tt.enabled {
				t.Errorf("Enabled = %v, ожидалось %v", a.Enabled, tt.enabled)
			}
			if !tt.enabled && a.Label != DeniedLabel {
				t.Errorf("Label = %q", a.Label)
			}
		})
	}
}

func TestBeginEdit_DeniedWithoutCapability(t *testing.T) {
	w := New(testAlert(), newProvider(rbac.RoleAuditor), &fakeSubmitter{}, nil, testLogger())

	if err := w.BeginEdit(); !errors.Is(err, ErrCapabilityDenied) {
		t.Fatalf("ожидалась ErrCapabilityDenied, получено %v", err)
	}
	if w.State() != StateViewing {
		t.Errorf("состояние = %s, ожидалось viewing", w.State())
	}
	if _, ok := w.Draft(); ok {
		t.Error("черновик не должен создаваться")
	}
}

func TestBeginEdit_SeedsDraft(t *testing.T) {
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), &fakeSubmitter{}, nil, testLogger())

	if err := w.BeginEdit(); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	d, ok := w.Draft()
	if !ok {
		t.Fatal("ожидался черновик")
	}
	if d.ProposedScore != 75 || d.Justification != "" {
		t.Errorf("неверный черновик: %+v", d)
	}
	if w.State() != StateEditing {
		t.Errorf("состояние = %s", w.State())
	}
}

func TestSubmit_BlankJustificationNoNetwork(t *testing.T) {
	sub := &fakeSubmitter{}
	rec := &notify.Recorder{}
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), sub, rec, testLogger())
	_ = w.BeginEdit()

	for _, text := range []string{"", "   ", "\t\n "} {
		_ = w.SetJustification(text)
		if w.SubmitAffordance().Enabled {
			t.Errorf("кнопка должна быть неактивна при обосновании %q", text)
		}
		if got := w.Submit(context.Background()); got != OutcomeBlocked {
			t.Errorf("Submit() = %s, ожидалось blocked", got)
		}
	}

	if sub.calls() != 0 {
		t.Errorf("без обоснования не должно быть сетевых вызовов, было %d", sub.calls())
	}
	if w.State() != StateEditing {
		t.Errorf("состояние = %s, ожидалось editing", w.State())
	}
	if rec.Len() != 0 {
		t.Errorf("блокировка не должна порождать уведомлений, получено %d", rec.Len())
	}
}

func TestSubmit_Success(t *testing.T) {
	sub := &fakeSubmitter{}
	rec := &notify.Recorder{}
	var refreshed []model.Alert
	var transitions []State

	w := New(testAlert(), newProvider(rbac.RoleAnalyst), sub, rec, testLogger(),
		WithRefreshCallback(func(_ context.Context, a model.Alert) { refreshed = append(refreshed, a) }),
		WithTransitionHook(func(_, to State) { transitions = append(transitions, to) }),
	)

	if w.EffectiveScore() != 75 {
		t.Fatalf("эффективная оценка = %d, ожидалось 75", w.EffectiveScore())
	}

	_ = w.BeginEdit()
	_ = w.SetScore(40)
	_ = w.SetJustification("false positive")

	if got := w.Submit(context.Background()); got != OutcomeConfirmed {
		t.Fatalf("Submit() = %s, ожидалось confirmed", got)
	}

	if w.EffectiveScore() != 40 {
		t.Errorf("эффективная оценка = %d, ожидалось 40", w.EffectiveScore())
	}
	if w.State() != StateViewing {
		t.Errorf("состояние = %s, ожидалось viewing", w.State())
	}
	if _, ok := w.Draft(); ok {
		t.Error("черновик должен быть отброшен")
	}
	if len(refreshed) != 1 || refreshed[0].EffectiveRiskScore() != 40 {
		t.Errorf("обратный вызов обновления: %+v", refreshed)
	}

	req := sub.requests[0]
	if req.RiskScore != 40 || req.Justification != "false positive" || req.ActorID != "u-analyst" {
		t.Errorf("неверный запрос: %+v", req)
	}

	n, _ := rec.Last()
	if n.Kind != notify.KindSuccess || n.Title != notify.TitleOverrideApplied {
		t.Errorf("неверное уведомление: %+v", n)
	}

	want := []State{StateEditing, StateValidating, StateSubmitting, StateConfirmed, StateViewing}
	if len(transitions) != len(want) {
		t.Fatalf("переходы = %v, ожидалось %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("переход %d = %s, ожидалось %s", i, transitions[i], want[i])
		}
	}
}

func TestSubmit_ClampedScoreSent(t *testing.T) {
	sub := &fakeSubmitter{}
	w := New(testAlert(), newProvider(rbac.RoleAdmin), sub, nil, testLogger())
	_ = w.BeginEdit()
	_ = w.SetScore(150)
	_ = w.SetJustification("escalate")
	w.Submit(context.Background())

	_ = w.BeginEdit()
	_ = w.SetScore(-5)
	_ = w.SetJustification("noise")
	w.Submit(context.Background())

	if sub.requests[0].RiskScore != 100 {
		t.Errorf("150 должно приводиться к 100, отправлено %d", sub.requests[0].RiskScore)
	}
	if sub.requests[1].RiskScore != 0 {
		t.Errorf("-5 должно приводиться к 0, отправлено %d", sub.requests[1].RiskScore)
	}
}

func TestSubmit_PermissionDenied(t *testing.T) {
	sub := &fakeSubmitter{err: &dashclient.APIError{StatusCode: 403, Message: "Forbidden: role viewer cannot override risk scores"}}
	rec := &notify.Recorder{}
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), sub, rec, testLogger())

	_ = w.BeginEdit()
	_ = w.SetScore(10)
	_ = w.SetJustification("typed carefully")

	if got := w.Submit(context.Background()); got != OutcomePermissionDenied {
		t.Fatalf("Submit() = %s, ожидалось permission_denied", got)
	}

	n, _ := rec.Last()
	if n.Kind != notify.KindPermissionDenied || n.Title != notify.TitlePermissionDenied {
		t.Errorf("неверное уведомление: %+v", n)
	}
	if w.State() != StateEditing {
		t.Errorf("состояние = %s, ожидалось editing", w.State())
	}
	d, ok := w.Draft()
	if !ok || d.Justification != "typed carefully" || d.ProposedScore != 10 {
		t.Errorf("черновик должен сохраниться: %+v", d)
	}
	if w.EffectiveScore() != 75 {
		t.Errorf("алерт не должен меняться при ошибке, оценка %d", w.EffectiveScore())
	}
}

func TestSubmit_GenericFailure(t *testing.T) {
	sub := &fakeSubmitter{err: &dashclient.APIError{StatusCode: 500, Message: "database unavailable"}}
	rec := &notify.Recorder{}
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), sub, rec, testLogger())

	_ = w.BeginEdit()
	_ = w.SetJustification("x")

	if got := w.Submit(context.Background()); got != OutcomeFailed {
		t.Fatalf("Submit() = %s, ожидалось failed", got)
	}
	n, _ := rec.Last()
	if n.Kind != notify.KindError || n.Title != notify.TitleOverrideFailed || n.Message != "database unavailable" {
		t.Errorf("неверное уведомление: %+v", n)
	}
	if w.State() != StateEditing {
		t.Errorf("состояние = %s, ожидалось editing", w.State())
	}
}

// TestSubmit_TransportFailureIsGeneric — сетевой сбой по алерту 403 даёт
// обычную ошибку, а не отказ в доступе.
func TestSubmit_TransportFailureIsGeneric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()
	client := dashclient.NewWithHTTPClient(url, &http.Client{Timeout: 2 * time.Second}, dashclient.StaticToken("t"), testLogger())

	alert := testAlert()
	alert.ID = 403
	rec := &notify.Recorder{}
	w := New(alert, newProvider(rbac.RoleAnalyst), client, rec, testLogger())

	_ = w.BeginEdit()
	_ = w.SetJustification("x")

	if got := w.Submit(context.Background()); got != OutcomeFailed {
		t.Fatalf("Submit() = %s, ожидалось failed", got)
	}
	n, _ := rec.Last()
	if n.Kind != notify.KindError || n.Title != notify.TitleOverrideFailed || n.Message != "Failed to override risk score" {
		t.Errorf("неверное уведомление: %+v", n)
	}
	if w.State() != StateEditing {
		t.Errorf("состояние = %s, ожидалось editing", w.State())
	}
}

// TestSubmit_WrappedNetworkErrorIsGeneric — текст с "403" в пути запроса
// не превращает ошибку в отказ в доступе.
func TestSubmit_WrappedNetworkErrorIsGeneric(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("запрос PATCH /alert/403/override: %w", errors.New("dial tcp 127.0.0.1:8403: connection refused"))}
	rec := &notify.Recorder{}
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), sub, rec, testLogger())

	_ = w.BeginEdit()
	_ = w.SetJustification("x")

	if got := w.Submit(context.Background()); got != OutcomeFailed {
		t.Fatalf("Submit() = %s, ожидалось failed", got)
	}
	if n, _ := rec.Last(); n.Kind != notify.KindError {
		t.Errorf("ожидалось уведомление об ошибке: %+v", n)
	}
}

// TestSubmit_CapabilityRevokedStillSubmits — клиент не перепроверяет право при отправке.
func TestSubmit_CapabilityRevokedStillSubmits(t *testing.T) {
	provider := newProvider(rbac.RoleAnalyst)
	sub := &fakeSubmitter{err: &dashclient.APIError{StatusCode: 403}}
	w := New(testAlert(), provider, sub, nil, testLogger())

	_ = w.BeginEdit()
	_ = w.SetJustification("x")
	provider.Login(model.Identity{ID: "u-analyst", Role: rbac.RoleViewer, IsActive: true})

	if got := w.Submit(context.Background()); got != OutcomePermissionDenied {
		t.Errorf("Submit() = %s, ожидалось permission_denied", got)
	}
	if sub.calls() != 1 {
		t.Errorf("ожидался ровно один вызов сервера, было %d", sub.calls())
	}
}

// TestSubmit_SingleFlight — второй вызов во время отправки блокируется.
func TestSubmit_SingleFlight(t *testing.T) {
	sub := &fakeSubmitter{block: make(chan struct{}), started: make(chan struct{}, 1)}
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), sub, nil, testLogger())
	_ = w.BeginEdit()
	_ = w.SetJustification("x")

	done := make(chan Outcome, 1)
	go func() { done <- w.Submit(context.Background()) }()
	<-sub.started

	if a := w.SubmitAffordance(); a.Enabled || !a.Busy {
		t.Errorf("во время отправки кнопка должна быть неактивна и занята: %+v", a)
	}
	if got := w.Submit(context.Background()); got != OutcomeBlocked {
		t.Errorf("второй Submit() = %s, ожидалось blocked", got)
	}
	if err := w.Cancel(); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("Cancel во время отправки: %v", err)
	}

	close(sub.block)
	if got := <-done; got != OutcomeConfirmed {
		t.Errorf("первый Submit() = %s", got)
	}
	if sub.calls() != 1 {
		t.Errorf("ожидался один вызов, было %d", sub.calls())
	}
}

func TestCancel(t *testing.T) {
	w := New(testAlert(), newProvider(rbac.RoleAnalyst), &fakeSubmitter{}, nil, testLogger())

	if err := w.Cancel(); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Cancel из viewing: %v", err)
	}

	_ = w.BeginEdit()
	_ = w.SetScore(12)
	if err := w.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if w.State() != StateViewing {
		t.Errorf("состояние = %s", w.State())
	}
	if _, ok := w.Draft(); ok {
		t.Error("черновик должен быть отброшен")
	}
	if err := w.SetScore(1); !errors.Is(err, ErrNotEditing) {
		t.Errorf("SetScore вне редактирования: %v", err)
	}

	_ = w.BeginEdit()
	if d, _ := w.Draft(); d.ProposedScore != 75 {
		t.Errorf("новый черновик должен начинаться с 75, получено %d", d.ProposedScore)
	}
}
