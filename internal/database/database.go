// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций схемы SentinelForge (golang-migrate) и проверка
// готовности: доступность БД, версия схемы и защита журнала аудита.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collinco2/sentinelforge-sub000/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SchemaVersion — версия схемы, которую ожидает этот бинарник.
// Совпадает с номером последней миграции в migrations/.
const SchemaVersion int64 = 1

const (
	// applicationName виден в pg_stat_activity.
	applicationName = "sentinelforge"
	// auditTrigger запрещает UPDATE и DELETE в audit_log.
	auditTrigger = "trg_audit_log_append_only"
)

var (
	// ErrDirtySchema — предыдущая миграция прервалась, нужна ручная правка.
	ErrDirtySchema = errors.New("схема БД в состоянии dirty")
	// ErrSchemaMismatch — версия схемы не совпадает с SchemaVersion.
	ErrSchemaMismatch = errors.New("версия схемы БД не совпадает с ожидаемой")
)

// Connect создаёт пул подключений к PostgreSQL.
// Выполняет ping для проверки доступности.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int64("schema_version", SchemaVersion),
	)

	return pool, nil
}

// migrationURL строит URL для драйвера pgx5 golang-migrate.
func migrationURL(cfg *config.Config) string {
	return (&url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     fmt.Sprintf("%s:%d", cfg.DBHost, cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.DBSSLMode),
	}).String()
}

// Migrate доводит схему до SchemaVersion.
// Схема в состоянии dirty не трогается: возвращается ErrDirtySchema.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrationURL(cfg))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("Схема SentinelForge не найдена, создаётся с нуля")
	case err != nil:
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, before)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	after, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	if err := checkSchema(int64(after), dirty); err != nil {
		return err
	}

	logger.Info("Миграции применены",
		slog.Uint64("from_version", uint64(before)),
		slog.Uint64("version", uint64(after)),
	)
	return nil
}

// checkSchema сверяет состояние schema_migrations с SchemaVersion.
func checkSchema(version int64, dirty bool) error {
	if dirty {
		return fmt.Errorf("%w: версия %d", ErrDirtySchema, version)
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: в БД %d, ожидается %d", ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}

// schemaQuerier — часть pgxpool.Pool, нужная проверке готовности.
type schemaQuerier interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ReadinessChecker — проверка готовности PostgreSQL для health endpoint.
// Кроме ping сверяет версию схемы и наличие триггера журнала аудита:
// без него переопределения нельзя принимать.
type ReadinessChecker struct {
	db      schemaQuerier
	timeout time.Duration
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{db: pool, timeout: 3 * time.Second}
}

// CheckReady возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}

	var (
		version int64
		dirty   bool
	)
	if err := c.db.QueryRow(ctx,
		`SELECT version, dirty FROM schema_migrations LIMIT 1`,
	).Scan(&version, &dirty); err != nil {
		return "fail", fmt.Sprintf("версия схемы недоступна: %v", err)
	}
	if err := checkSchema(version, dirty); err != nil {
		return "fail", err.Error()
	}

	var guarded bool
	if err := c.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = $1 AND tgenabled <> 'D')`,
		auditTrigger,
	).Scan(&guarded); err != nil {
		return "fail", fmt.Sprintf("ошибка проверки журнала аудита: %v", err)
	}
	if !guarded {
		return "fail", "журнал аудита не защищён от изменений"
	}

	return "ok", fmt.Sprintf("подключение активно, схема v%d", SchemaVersion)
}
