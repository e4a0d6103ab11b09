package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memDB — in-memory хранилище для unit-тестов сервисов.
type memDB struct {
	mu         sync.Mutex
	identities map[string]model.Identity
	alerts     map[int64]model.Alert
	audit      []model.AuditLogEntry
	nextAlert  int64
	createErr  error
	appendErr  error
	creates    int
}

func newMemDB() *memDB {
	return &memDB{
		identities: map[string]model.Identity{},
		alerts:     map[int64]model.Alert{},
	}
}

// memStore — Store поверх memDB. InTx откатывает изменения при ошибке.
type memStore struct {
	db *memDB
}

func (s *memStore) Repos() repository.Repositories {
	return repository.Repositories{
		Identities: &memIdentities{db: s.db},
		Alerts:     &memAlerts{db: s.db},
		Audit:      &memAudit{db: s.db},
	}
}

func (s *memStore) InTx(_ context.Context, fn func(repository.Repositories) error) error {
	s.db.mu.Lock()
	identities := make(map[string]model.Identity, len(s.db.identities))
	for k, v := range s.db.identities {
		identities[k] = v
	}
	alerts := make(map[int64]model.Alert, len(s.db.alerts))
	for k, v := range s.db.alerts {
		alerts[k] = v
	}
	audit := slices.Clone(s.db.audit)
	s.db.mu.Unlock()

	if err := fn(s.Repos()); err != nil {
		s.db.mu.Lock()
		s.db.identities, s.db.alerts, s.db.audit = identities, alerts, audit
		s.db.mu.Unlock()
		return err
	}
	return nil
}

type memIdentities struct{ db *memDB }

func (r *memIdentities) Create(_ context.Context, identity *model.Identity) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.creates++
	if r.db.createErr != nil {
		return r.db.createErr
	}
	for _, existing := range r.db.identities {
		if existing.ID == identity.ID || existing.Username == identity.Username {
			return repository.ErrConflict
		}
	}
	identity.CreatedAt = time.Now()
	r.db.identities[identity.ID] = *identity
	return nil
}

func (r *memIdentities) GetByID(_ context.Context, id string) (*model.Identity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	identity, ok := r.db.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &identity, nil
}

func (r *memIdentities) GetByIDForUpdate(ctx context.Context, id string) (*model.Identity, error) {
	return r.GetByID(ctx, id)
}

func (r *memIdentities) List(_ context.Context, role *rbac.Role) ([]model.Identity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	result := make([]model.Identity, 0)
	for _, identity := range r.db.identities {
		if role == nil || identity.Role == *role {
			result = append(result, identity)
		}
	}
	slices.SortFunc(result, func(a, b model.Identity) int {
		if a.ID < b.ID {
			return -1
		}
		return 1
	})
	return result, nil
}

func (r *memIdentities) Count(ctx context.Context, role *rbac.Role) (int, error) {
	list, _ := r.List(ctx, role)
	return len(list), nil
}

func (r *memIdentities) UpdateRole(_ context.Context, id string, role rbac.Role) (*model.Identity, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	identity, ok := r.db.identities[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	identity.Role = role
	r.db.identities[id] = identity
	return &identity, nil
}

type memAlerts struct{ db *memDB }

func (r *memAlerts) Create(_ context.Context, alert *model.Alert) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.nextAlert++
	alert.ID = r.db.nextAlert
	alert.Timestamp = time.Now()
	r.db.alerts[alert.ID] = *alert
	return nil
}

func (r *memAlerts) GetByID(_ context.Context, id int64) (*model.Alert, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	alert, ok := r.db.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &alert, nil
}

func (r *memAlerts) GetByIDForUpdate(ctx context.Context, id int64) (*model.Alert, error) {
	return r.GetByID(ctx, id)
}

func (r *memAlerts) List(_ context.Context, limit, offset int) ([]model.Alert, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	result := make([]model.Alert, 0)
	for id := r.db.nextAlert; id > 0; id-- {
		if alert, ok := r.db.alerts[id]; ok {
			result = append(result, alert)
		}
	}
	if offset >= len(result) {
		return []model.Alert{}, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memAlerts) Count(context.Context) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.alerts), nil
}

func (r *memAlerts) SetOverride(_ context.Context, id int64, score int) (*model.Alert, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	alert, ok := r.db.alerts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	alert.OverriddenRiskScore = &score
	r.db.alerts[id] = alert
	return &alert, nil
}

type memAudit struct{ db *memDB }

func (r *memAudit) Append(_ context.Context, entry *model.AuditLogEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.appendErr != nil {
		return r.db.appendErr
	}
	entry.ID = int64(len(r.db.audit) + 1)
	entry.Timestamp = time.Now()
	r.db.audit = append(r.db.audit, *entry)
	return nil
}

func (r *memAudit) matching(filter repository.AuditFilter) []model.AuditLogEntry {
	result := make([]model.AuditLogEntry, 0)
	for i := len(r.db.audit) - 1; i >= 0; i-- {
		e := r.db.audit[i]
		if filter.Kind != nil && e.Kind != *filter.Kind {
			continue
		}
		if filter.AlertID != nil && (e.Kind != model.AuditKindRiskOverride || e.SubjectID != strconv.FormatInt(*filter.AlertID, 10)) {
			continue
		}
		if filter.TargetUserID != nil && (e.Kind != model.AuditKindRoleChange || e.SubjectID != *filter.TargetUserID) {
			continue
		}
		result = append(result, e)
	}
	return result
}

func (r *memAudit) List(_ context.Context, filter repository.AuditFilter, limit, offset int) ([]model.AuditLogEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	result := r.matching(filter)
	if offset >= len(result) {
		return []model.AuditLogEntry{}, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memAudit) Count(_ context.Context, filter repository.AuditFilter) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.matching(filter)), nil
}

var errBoom = errors.New("boom")

func intPtr(v int) *int { return &v }

func seedIdentity(db *memDB, id, username string, role rbac.Role) *model.Identity {
	identity := model.Identity{ID: id, Username: username, Role: role, IsActive: true, CreatedAt: time.Now()}
	db.identities[id] = identity
	return &identity
}

func seedAlert(db *memDB, name string, score *int) int64 {
	db.nextAlert++
	db.alerts[db.nextAlert] = model.Alert{ID: db.nextAlert, Name: name, RiskScore: score, Timestamp: time.Now()}
	return db.nextAlert
}
