// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Repositories — набор репозиториев, работающих через один DBTX.
type Repositories struct {
	Identities IdentityRepository
	Alerts     AlertRepository
	Audit      AuditRepository
}

// NewRepositories создаёт репозитории поверх пула или транзакции.
func NewRepositories(db DBTX) Repositories {
	return Repositories{
		Identities: NewIdentityRepository(db),
		Alerts:     NewAlertRepository(db),
		Audit:      NewAuditRepository(db),
	}
}

// Store — доступ к репозиториям вне и внутри транзакции.
type Store interface {
	// Repos возвращает репозитории, работающие напрямую через пул.
	Repos() Repositories
	// InTx выполняет fn с репозиториями, привязанными к одной транзакции.
	InTx(ctx context.Context, fn func(repos Repositories) error) error
}

// pgStore — реализация Store на pgxpool.
type pgStore struct {
	repos  Repositories
	runner *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		repos:  NewRepositories(pool),
		runner: NewTxRunner(pool),
	}
}

func (s *pgStore) Repos() Repositories {
	return s.repos
}

func (s *pgStore) InTx(ctx context.Context, fn func(repos Repositories) error) error {
	return s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}
