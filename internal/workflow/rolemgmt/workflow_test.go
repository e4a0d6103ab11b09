package rolemgmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

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

// fakeDirectory — справочник в памяти.
type fakeDirectory struct {
	mu        sync.Mutex
	users     []model.Identity
	listErr   error
	updateErr error
	updates   []string
	listCalls int
	// started/block управляют UpdateUserRole в тестах на busy.
	started chan struct{}
	block   chan struct{}
}

func (f *fakeDirectory) ListUsers(context.Context) ([]model.Identity, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return append([]model.Identity(nil), f.users...), len(f.users), nil
}

func (f *fakeDirectory) UpdateUserRole(_ context.Context, userID string, role rbac.Role) (*model.Identity, error) {
	f.mu.Lock()
	f.updates = append(f.updates, userID+":"+string(role))
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.updateErr != nil {
		return nil, f.updateErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].ID == userID {
			f.users[i].Role = role
			u := f.users[i]
			return &u, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeDirectory) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

// countingRefresher считает вызовы Refresh.
type countingRefresher struct {
	mu    sync.Mutex
	calls int
}

func (c *countingRefresher) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingRefresher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func directoryFixture() *fakeDirectory {
	return &fakeDirectory{users: []model.Identity{
		{ID: "admin-1", Username: "admin", Role: rbac.RoleAdmin, IsActive: true},
		{ID: "analyst-1", Username: "analyst1", Role: rbac.RoleAnalyst, IsActive: true},
		{ID: "viewer-1", Username: "viewer1", Role: rbac.RoleViewer, IsActive: true},
	}}
}

func adminProvider() *session.Provider {
	p := session.NewProvider(nil, testLogger())
	p.Login(model.Identity{ID: "admin-1", Username: "admin", Role: rbac.RoleAdmin, IsActive: true})
	return p
}

func loadedWorkflow(t *testing.T, dir *fakeDirectory, rec *notify.Recorder, opts ...Option) *Workflow {
	t.Helper()
	w := New(adminProvider(), dir, rec, testLogger(), opts...)
	if err := w.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return w
}

func TestLoad_RequiresManageRoles(t *testing.T) {
	p := session.NewProvider(nil, testLogger())
	p.Login(model.Identity{ID: "a", Role: rbac.RoleAuditor, IsActive: true})
	dir := directoryFixture()
	w := New(p, dir, nil, testLogger())

	if err := w.Load(context.Background()); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("ожидалась ErrNotAdmin, получено %v", err)
	}
	if dir.listCalls != 0 {
		t.Error("без права не должно быть запроса к справочнику")
	}
}

func TestFilterAndCountLabel(t *testing.T) {
	dir := directoryFixture()
	w := loadedWorkflow(t, dir, &notify.Recorder{})

	if got := w.CountLabel(); got != "Showing 3 of 3 users" {
		t.Errorf("CountLabel() = %q", got)
	}

	w.SetFilter(rbac.RoleAnalyst)
	visible := w.Visible()
	if len(visible) != 1 || visible[0].Username != "analyst1" {
		t.Errorf("Visible() = %+v", visible)
	}
	if got := w.CountLabel(); got != "Showing 1 of 3 users" {
		t.Errorf("CountLabel() = %q, ожидалось Showing 1 of 3 users", got)
	}

	w.SetFilter(rbac.RoleAuditor)
	if got := w.CountLabel(); got != "Showing 0 of 3 users" {
		t.Errorf("CountLabel() = %q", got)
	}

	if dir.listCalls != 1 {
		t.Errorf("смена фильтра не должна перезагружать список, вызовов %d", dir.listCalls)
	}
}

func TestSelect_SelfChangeRejected(t *testing.T) {
	dir := directoryFixture()
	rec := &notify.Recorder{}
	w := loadedWorkflow(t, dir, rec)

	for _, role := range []rbac.Role{rbac.RoleViewer, rbac.RoleAnalyst, rbac.RoleAuditor} {
		err := w.Select(context.Background(), "admin-1", role)
		if !errors.Is(err, ErrSelfRoleChange) {
			t.Errorf("Select(self, %s): ожидалась ErrSelfRoleChange, получено %v", role, err)
		}
		if w.State() != StateListing {
			t.Errorf("состояние = %s, ожидалось listing", w.State())
		}
		if _, ok := w.ConfirmationPrompt(); ok {
			t.Error("подтверждение не должно появляться")
		}
	}

	if dir.updateCount() != 0 {
		t.Errorf("не должно быть сетевых вызовов, было %d", dir.updateCount())
	}
	if rec.Len() != 3 {
		t.Fatalf("ожидалось 3 уведомления, получено %d", rec.Len())
	}
	n, _ := rec.Last()
	if n.Message != SelfChangeMessage {
		t.Errorf("Message = %q", n.Message)
	}
}

func TestSelect_Validation(t *testing.T) {
	w := loadedWorkflow(t, directoryFixture(), &notify.Recorder{})
	ctx := context.Background()

	if err := w.Select(ctx, "viewer-1", "root"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("недопустимая роль: %v", err)
	}
	if err := w.Select(ctx, "ghost", rbac.RoleAnalyst); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("неизвестный пользователь: %v", err)
	}
	if err := w.Select(ctx, "viewer-1", rbac.RoleViewer); !errors.Is(err, ErrRoleUnchanged) {
		t.Errorf("та же роль: %v", err)
	}
	if w.State() != StateListing {
		t.Errorf("состояние = %s", w.State())
	}
}

func TestSelect_DiscardLeavesListUntouched(t *testing.T) {
	dir := directoryFixture()
	w := loadedWorkflow(t, dir, &notify.Recorder{})

	if err := w.Select(context.Background(), "viewer-1", rbac.RoleAnalyst); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if w.State() != StateConfirming {
		t.Fatalf("состояние = %s, ожидалось confirming", w.State())
	}
	prompt, ok := w.ConfirmationPrompt()
	if !ok || prompt != "Change role of viewer1 from viewer to analyst?" {
		t.Errorf("ConfirmationPrompt() = %q", prompt)
	}
	// До подтверждения список не меняется.
	if w.Users()[2].Role != rbac.RoleViewer {
		t.Error("роль не должна меняться до подтверждения")
	}

	if err := w.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if w.State() != StateListing || w.Users()[2].Role != rbac.RoleViewer {
		t.Error("Discard не должен менять список")
	}
	if dir.updateCount() != 0 {
		t.Error("Discard не должен вызывать сервер")
	}
	if got := w.Confirm(context.Background()); got != OutcomeBlocked {
		t.Errorf("Confirm без ожидающей смены = %s", got)
	}
}

func TestConfirm_Success(t *testing.T) {
	dir := directoryFixture()
	rec := &notify.Recorder{}
	audit := &countingRefresher{}
	sess := &countingRefresher{}
	w := loadedWorkflow(t, dir, rec, WithAuditRefresher(audit), WithSessionRefresher(sess))

	_ = w.Select(context.Background(), "viewer-1", rbac.RoleAnalyst)
	if got := w.Confirm(context.Background()); got != OutcomeApplied {
		t.Fatalf("Confirm() = %s, ожидалось applied", got)
	}

	if w.Users()[2].Role != rbac.RoleAnalyst {
		t.Errorf("роль в списке = %s, ожидалось analyst", w.Users()[2].Role)
	}
	if w.State() != StateListing {
		t.Errorf("состояние = %s", w.State())
	}
	if audit.count() != 1 {
		t.Errorf("журнал аудита должен обновиться один раз, было %d", audit.count())
	}
	if sess.count() != 1 {
		t.Errorf("сессия должна обновиться один раз, было %d", sess.count())
	}
	n, _ := rec.Last()
	if n.Kind != notify.KindSuccess || n.Message != "Changed role of viewer1 from viewer to analyst" {
		t.Errorf("неверное уведомление: %+v", n)
	}
}

func TestConfirm_FailureKeepsRole(t *testing.T) {
	dir := directoryFixture()
	dir.updateErr = &dashclient.APIError{StatusCode: 400, Message: "Invalid role transition"}
	rec := &notify.Recorder{}
	audit := &countingRefresher{}
	w := loadedWorkflow(t, dir, rec, WithAuditRefresher(audit))

	_ = w.Select(context.Background(), "viewer-1", rbac.RoleAnalyst)
	if got := w.Confirm(context.Background()); got != OutcomeFailed {
		t.Fatalf("Confirm() = %s, ожидалось failed", got)
	}

	if w.Users()[2].Role != rbac.RoleViewer {
		t.Error("при ошибке роль в списке не должна меняться")
	}
	n, _ := rec.Last()
	if n.Kind != notify.KindError || n.Message != "Invalid role transition" {
		t.Errorf("сообщение сервера должно показываться дословно: %+v", n)
	}
	if audit.count() != 0 {
		t.Error("при ошибке журнал не обновляется")
	}
}

func TestConfirm_GenericFailureMessage(t *testing.T) {
	dir := directoryFixture()
	dir.updateErr = errors.New("connection reset")
	rec := &notify.Recorder{}
	w := loadedWorkflow(t, dir, rec)

	_ = w.Select(context.Background(), "analyst-1", rbac.RoleAuditor)
	if got := w.Confirm(context.Background()); got != OutcomeFailed {
		t.Fatalf("Confirm() = %s", got)
	}
	n, _ := rec.Last()
	if n.Message != "Failed to change role of analyst1" {
		t.Errorf("Message = %q", n.Message)
	}
}

func TestConfirm_PermissionDenied(t *testing.T) {
	dir := directoryFixture()
	dir.updateErr = &dashclient.APIError{StatusCode: 403, Message: "Forbidden: role management requires admin"}
	rec := &notify.Recorder{}
	w := loadedWorkflow(t, dir, rec)

	_ = w.Select(context.Background(), "analyst-1", rbac.RoleViewer)
	if got := w.Confirm(context.Background()); got != OutcomePermissionDenied {
		t.Fatalf("Confirm() = %s", got)
	}
	n, _ := rec.Last()
	if n.Kind != notify.KindPermissionDenied {
		t.Errorf("Kind = %s", n.Kind)
	}
}

// TestConfirm_NetworkErrorWith403InPath — "403" в пути запроса не делает
// сетевой сбой отказом в доступе.
func TestConfirm_NetworkErrorWith403InPath(t *testing.T) {
	dir := directoryFixture()
	dir.users = append(dir.users, model.Identity{ID: "u-403", Username: "ops403", Role: rbac.RoleViewer, IsActive: true})
	dir.updateErr = fmt.Errorf("запрос PATCH /users/u-403/role: %w", errors.New("connection refused"))
	rec := &notify.Recorder{}
	w := loadedWorkflow(t, dir, rec)

	if err := w.Select(context.Background(), "u-403", rbac.RoleAnalyst); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := w.Confirm(context.Background()); got != OutcomeFailed {
		t.Fatalf("Confirm() = %s, ожидалось failed", got)
	}
	n, _ := rec.Last()
	if n.Kind != notify.KindError || n.Title != notify.TitleRoleUpdateFailed || n.Message != "Failed to change role of ops403" {
		t.Errorf("неверное уведомление: %+v", n)
	}
}

func TestLoad_FailureNotifies(t *testing.T) {
	dir := directoryFixture()
	dir.listErr = errors.New("connection refused")
	rec := &notify.Recorder{}
	w := New(adminProvider(), dir, rec, testLogger())

	err := w.Load(context.Background())
	if err == nil || !errors.Is(err, dir.listErr) {
		t.Fatalf("Load() = %v, ожидалась обёрнутая ошибка справочника", err)
	}
	n, ok := rec.Last()
	if !ok || n.Kind != notify.KindError || n.Title != notify.TitleDirectoryLoadFailed || n.Message != "Failed to load users" {
		t.Errorf("неверное уведомление: %+v", n)
	}
}

func TestLoad_PermissionDenied(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"сообщение сервера", &dashclient.APIError{StatusCode: 403, Message: "Forbidden: admin only"}, "Forbidden: admin only"},
		{"без сообщения", &dashclient.APIError{StatusCode: 403}, DeniedLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := directoryFixture()
			dir.listErr = tt.err
			rec := &notify.Recorder{}
			w := New(adminProvider(), dir, rec, testLogger())

			if err := w.Load(context.Background()); err == nil {
				t.Fatal("ожидалась ошибка")
			}
			n, _ := rec.Last()
			if n.Kind != notify.KindPermissionDenied || n.Title != notify.TitlePermissionDenied || n.Message != tt.message {
				t.Errorf("неверное уведомление: %+v", n)
			}
			if rec.Len() != 1 {
				t.Errorf("ожидалось одно уведомление, получено %d", rec.Len())
			}
		})
	}
}

func TestConfirm_RowBusyAndSingleFlight(t *testing.T) {
	dir := directoryFixture()
	dir.started = make(chan struct{}, 1)
	dir.block = make(chan struct{})
	w := loadedWorkflow(t, dir, &notify.Recorder{})

	_ = w.Select(context.Background(), "viewer-1", rbac.RoleAuditor)

	done := make(chan Outcome, 1)
	go func() { done <- w.Confirm(context.Background()) }()
	<-dir.started

	if !w.RowBusy("viewer-1") {
		t.Error("строка должна быть занята во время применения")
	}
	if w.RowBusy("analyst-1") {
		t.Error("другая строка не должна быть занята")
	}
	if got := w.Confirm(context.Background()); got != OutcomeBlocked {
		t.Errorf("второй Confirm() = %s, ожидалось blocked", got)
	}
	if err := w.Select(context.Background(), "analyst-1", rbac.RoleViewer); !errors.Is(err, ErrApplyInFlight) {
		t.Errorf("Select во время применения: %v", err)
	}
	if w.Users()[2].Role != rbac.RoleViewer {
		t.Error("до ответа сервера роль не должна меняться")
	}

	close(dir.block)
	if got := <-done; got != OutcomeApplied {
		t.Errorf("Confirm() = %s", got)
	}
	if w.RowBusy("viewer-1") {
		t.Error("после применения строка не должна быть занята")
	}
	if dir.updateCount() != 1 {
		t.Errorf("ожидался один вызов, было %d", dir.updateCount())
	}
}
