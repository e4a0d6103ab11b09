package auditfeed

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/session"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type auditReply struct {
	entries []model.AuditLogEntry
	err     error
}

// fakeSource отдаёт ответы по очереди.
type fakeSource struct {
	mu         sync.Mutex
	replies    []auditReply
	alertCalls []int64
	roleCalls  int
}

func (f *fakeSource) next() ([]model.AuditLogEntry, int, error) {
	if len(f.replies) == 0 {
		return nil, 0, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r.entries, len(r.entries), r.err
}

func (f *fakeSource) AlertAudit(_ context.Context, alertID int64, _ int) ([]model.AuditLogEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alertCalls = append(f.alertCalls, alertID)
	return f.next()
}

func (f *fakeSource) RoleAudit(context.Context, int) ([]model.AuditLogEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleCalls++
	return f.next()
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alertCalls) + f.roleCalls
}

// gatedSource удерживает каждый вызов до ответа в его собственный канал.
type gatedSource struct {
	calls chan chan auditReply
}

func (g *gatedSource) AlertAudit(context.Context, int64, int) ([]model.AuditLogEntry, int, error) {
	reply := make(chan auditReply)
	g.calls <- reply
	r := <-reply
	return r.entries, len(r.entries), r.err
}

func (g *gatedSource) RoleAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, int, error) {
	return g.AlertAudit(ctx, 0, limit)
}

func providerWithRole(role rbac.Role) *session.Provider {
	p := session.NewProvider(nil, testLogger())
	p.Login(model.Identity{ID: "u1", Username: "u1", Role: role, IsActive: true})
	return p
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id int64, minutes int, justification string) model.AuditLogEntry {
	return model.AuditLogEntry{
		ID:            id,
		SubjectID:     "7",
		ActorID:       "u1",
		Kind:          model.AuditKindRiskOverride,
		OriginalValue: "75",
		NewValue:      "40",
		Justification: justification,
		Timestamp:     base.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestFeed_HiddenWithoutCapability(t *testing.T) {
	src := &fakeSource{}
	f := New(providerWithRole(rbac.RoleViewer), src, testLogger())

	if f.Visible() {
		t.Error("viewer не должен видеть журнал")
	}
	if err := f.Load(context.Background(), ForAlert(7), 10); !errors.Is(err, ErrHidden) {
		t.Errorf("ожидалась ErrHidden, получено %v", err)
	}
	if src.calls() != 0 {
		t.Error("скрытый журнал не должен делать запросов")
	}
	if f.View().Visible {
		t.Error("View().Visible должен быть false")
	}
}

func TestFeed_VisibilityRecheckedOnEveryView(t *testing.T) {
	provider := providerWithRole(rbac.RoleAuditor)
	src := &fakeSource{replies: []auditReply{{entries: []model.AuditLogEntry{entry(1, 0, "x")}}}}
	f := New(provider, src, testLogger())

	if err := f.Load(context.Background(), ForAlert(7), 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !f.View().Visible {
		t.Fatal("auditor должен видеть журнал")
	}

	provider.Login(model.Identity{ID: "u1", Role: rbac.RoleViewer, IsActive: true})
	if v := f.View(); v.Visible || len(v.Entries) != 0 {
		t.Errorf("после понижения журнал должен скрыться: %+v", v)
	}
}

func TestFeed_SortsNewestFirst(t *testing.T) {
	src := &fakeSource{replies: []auditReply{{entries: []model.AuditLogEntry{
		entry(1, 0, "first"),
		entry(3, 10, "third"),
		entry(2, 5, "second"),
		entry(4, 10, "same time, higher id"),
	}}}}
	f := New(providerWithRole(rbac.RoleAdmin), src, testLogger())

	if err := f.Load(context.Background(), ForAlert(7), 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	v := f.View()
	if v.State != StateReady {
		t.Fatalf("State = %s", v.State)
	}
	want := []int64{4, 3, 2, 1}
	for i, id := range want {
		if v.Entries[i].ID != id {
			t.Errorf("позиция %d: ID = %d, ожидался %d", i, v.Entries[i].ID, id)
		}
	}
}

func TestFeed_RenderStates(t *testing.T) {
	src := &fakeSource{replies: []auditReply{
		{entries: nil},
		{err: errors.New("network down")},
	}}
	f := New(providerWithRole(rbac.RoleAuditor), src, testLogger())

	if v := f.View(); v.State != StateLoading {
		t.Errorf("начальное состояние = %s", v.State)
	}

	_ = f.Load(context.Background(), ForAlert(7), 10)
	if v := f.View(); v.State != StateEmpty || len(v.Entries) != 0 || v.ErrorMessage != "" {
		t.Errorf("ожидалось empty: %+v", v)
	}

	if err := f.Load(context.Background(), ForAlert(8), 10); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	v := f.View()
	if v.State != StateError || len(v.Entries) != 0 || v.ErrorMessage == "" {
		t.Errorf("ожидалось error: %+v", v)
	}
}

func TestFeed_RetryRecoversSameEntries(t *testing.T) {
	entries := []model.AuditLogEntry{entry(1, 0, "a"), entry(2, 1, "b")}
	src := &fakeSource{replies: []auditReply{
		{err: errors.New("timeout")},
		{entries: entries},
	}}
	f := New(providerWithRole(rbac.RoleAuditor), src, testLogger())

	if err := f.Retry(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Retry до загрузки: %v", err)
	}

	_ = f.Load(context.Background(), ForAlert(7), 25)
	if f.View().State != StateError {
		t.Fatal("ожидалось состояние error")
	}
	if err := f.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	v := f.View()
	if v.State != StateReady || len(v.Entries) != 2 || v.Entries[0].ID != 2 {
		t.Errorf("после Retry ожидались те же записи: %+v", v)
	}
	if len(src.alertCalls) != 2 || src.alertCalls[1] != 7 {
		t.Errorf("Retry должен повторять те же параметры: %v", src.alertCalls)
	}
}

// TestFeed_RefreshKeepsEntries — при повторной загрузке записи не пропадают до ответа.
func TestFeed_RefreshKeepsEntries(t *testing.T) {
	src := &gatedSource{calls: make(chan chan auditReply, 4)}
	f := New(providerWithRole(rbac.RoleAdmin), src, testLogger())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.Load(ctx, Directory(), 10) }()
	(<-src.calls) <- auditReply{entries: []model.AuditLogEntry{entry(1, 0, "a")}}
	<-done

	go func() { done <- f.Refresh(ctx) }()
	reply := <-src.calls

	v := f.View()
	if v.State != StateReady || len(v.Entries) != 1 || !v.Refreshing {
		t.Errorf("во время обновления прежние записи должны остаться: %+v", v)
	}

	reply <- auditReply{entries: []model.AuditLogEntry{entry(1, 0, "a"), entry(2, 1, "b")}}
	<-done
	if v := f.View(); len(v.Entries) != 2 || v.Refreshing {
		t.Errorf("после обновления: %+v", v)
	}
}

func TestFeed_StaleResponseDiscarded(t *testing.T) {
	src := &gatedSource{calls: make(chan chan auditReply, 4)}
	f := New(providerWithRole(rbac.RoleAdmin), src, testLogger())
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- f.Load(ctx, ForAlert(1), 10) }()
	firstReply := <-src.calls

	second := make(chan error, 1)
	go func() { second <- f.Load(ctx, ForAlert(2), 10) }()
	secondReply := <-src.calls

	secondReply <- auditReply{entries: []model.AuditLogEntry{entry(20, 0, "new")}}
	<-second
	firstReply <- auditReply{entries: []model.AuditLogEntry{entry(10, 0, "old")}}
	<-first

	v := f.View()
	if len(v.Entries) != 1 || v.Entries[0].ID != 20 {
		t.Errorf("должен остаться ответ последнего запроса: %+v", v.Entries)
	}
}

func TestFeed_RefreshWithoutLoadIsNoop(t *testing.T) {
	src := &fakeSource{}
	f := New(providerWithRole(rbac.RoleAdmin), src, testLogger())
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if src.calls() != 0 {
		t.Error("Refresh без загрузки не должен делать запросов")
	}
}

func TestFeed_Truncation(t *testing.T) {
	long := strings.Repeat("я", 150)
	src := &fakeSource{replies: []auditReply{{entries: []model.AuditLogEntry{entry(1, 0, long), entry(2, 1, "short")}}}}
	f := New(providerWithRole(rbac.RoleAuditor), src, testLogger())
	_ = f.Load(context.Background(), ForAlert(7), 10)

	v := f.View()
	byID := map[int64]Entry{}
	for _, e := range v.Entries {
		byID[e.ID] = e
	}

	e := byID[1]
	if !e.Truncated || e.Expanded {
		t.Errorf("длинное обоснование должно быть свёрнуто: %+v", e)
	}
	if got := len([]rune(e.DisplayJustification)); got != DefaultTruncateAt+1 {
		t.Errorf("длина отображения = %d рун", got)
	}
	if e.Justification != long {
		t.Error("исходное обоснование не должно меняться")
	}
	if byID[2].Truncated {
		t.Error("короткое обоснование не сворачивается")
	}

	if !f.ToggleExpanded(1) {
		t.Fatal("ToggleExpanded должен развернуть запись")
	}
	for _, e := range f.View().Entries {
		if e.ID == 1 && e.DisplayJustification != long {
			t.Error("развёрнутая запись показывает полный текст")
		}
	}
	if f.ToggleExpanded(1) {
		t.Error("повторный ToggleExpanded сворачивает запись")
	}
}
