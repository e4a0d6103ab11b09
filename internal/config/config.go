// Пакет config — загрузка и валидация конфигурации SentinelForge
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит параметры конфигурации сервера SentinelForge.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// Ожидаемый issuer JWT (пустая строка — не проверяется)
	JWTIssuer string
	// URL JWKS endpoint
	JWTJWKSURL string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Путь к CA-сертификату для TLS к JWKS (опционально)
	CACertPath string

	// --- Идентичности ---

	// Размер LRU-кэша идентичностей
	IdentityCacheSize int
	// TTL записи кэша идентичностей
	IdentityCacheTTL time.Duration
	// Subject JWT, которому при первом входе выдаётся роль admin
	BootstrapAdminID string
	// Имя bootstrap-администратора
	BootstrapAdminUsername string

	// --- Зависимости ---

	// Группа сервиса в topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию сервера из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, cfg.LogFormat, err = loadLogging("info", "json")
	if err != nil {
		return nil, err
	}

	// --- PostgreSQL ---

	// SF_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("SF_DB_HOST")
	if err != nil {
		return nil, err
	}

	// SF_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("SF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SF_DB_PORT: %w", err)
	}

	// SF_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("SF_DB_NAME")
	if err != nil {
		return nil, err
	}

	// SF_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("SF_DB_USER")
	if err != nil {
		return nil, err
	}

	// SF_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("SF_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// SF_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("SF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT ---

	// SF_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("SF_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// SF_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = strings.TrimRight(getEnvDefault("SF_JWT_ISSUER", ""), "/")

	// SF_JWKS_CLIENT_TIMEOUT — таймаут JWKS-клиента (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("SF_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// SF_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 15s)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SF_JWKS_REFRESH_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SF_JWT_LEEWAY — допуск по времени (по умолчанию 5s)
	cfg.JWTLeeway, err = getEnvDuration("SF_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_JWT_LEEWAY: %w", err)
	}

	// SF_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("SF_CA_CERT_PATH", "")

	// --- Идентичности ---

	// SF_IDENTITY_CACHE_SIZE — размер кэша (по умолчанию 1024)
	cfg.IdentityCacheSize, err = getEnvInt("SF_IDENTITY_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("SF_IDENTITY_CACHE_SIZE: %w", err)
	}
	if cfg.IdentityCacheSize < 1 {
		return nil, fmt.Errorf("SF_IDENTITY_CACHE_SIZE: значение %d должно быть положительным", cfg.IdentityCacheSize)
	}

	// SF_IDENTITY_CACHE_TTL — TTL записи кэша (по умолчанию 30s)
	cfg.IdentityCacheTTL, err = getEnvDuration("SF_IDENTITY_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_IDENTITY_CACHE_TTL: %w", err)
	}

	// SF_BOOTSTRAP_ADMIN_ID / SF_BOOTSTRAP_ADMIN_USERNAME — первый администратор
	cfg.BootstrapAdminID = getEnvDefault("SF_BOOTSTRAP_ADMIN_ID", "")
	cfg.BootstrapAdminUsername = getEnvDefault("SF_BOOTSTRAP_ADMIN_USERNAME", "admin")

	// --- Зависимости ---

	// SF_DEPHEALTH_GROUP — группа сервиса (по умолчанию sentinelforge)
	cfg.DephealthGroup = getEnvDefault("SF_DEPHEALTH_GROUP", "sentinelforge")

	// SF_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// SF_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return (&url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}).String()
}

// CLIConfig — параметры reviewctl.
type CLIConfig struct {
	// Базовый URL API SentinelForge
	APIURL string
	// Токен сессии (Bearer)
	Token string
	// Путь к CA-сертификату API (опционально)
	CACertPath string
	// Таймаут HTTP-запросов
	HTTPTimeout time.Duration
	// Уровень логирования
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// LoadCLI загружает конфигурацию reviewctl из переменных окружения.
func LoadCLI() (*CLIConfig, error) {
	cfg := &CLIConfig{}
	var err error

	// SF_API_URL — обязательный
	cfg.APIURL, err = getEnvRequired("SF_API_URL")
	if err != nil {
		return nil, err
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	// SF_TOKEN — токен сессии (пустой — анонимные запросы)
	cfg.Token = getEnvDefault("SF_TOKEN", "")

	// SF_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("SF_CA_CERT_PATH", "")

	// SF_HTTP_TIMEOUT — таймаут запросов (по умолчанию 30s)
	cfg.HTTPTimeout, err = getEnvDuration("SF_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_HTTP_TIMEOUT: %w", err)
	}

	cfg.LogLevel, cfg.LogFormat, err = loadLogging("warn", "text")
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLogging читает SF_LOG_LEVEL и SF_LOG_FORMAT.
// Сервер по умолчанию пишет info, CLI — только warn и выше.
func loadLogging(defaultLevel, defaultFormat string) (slog.Level, string, error) {
	// SF_LOG_LEVEL — уровень логирования
	level, err := parseLogLevel(getEnvDefault("SF_LOG_LEVEL", defaultLevel))
	if err != nil {
		return slog.LevelInfo, "", fmt.Errorf("SF_LOG_LEVEL: %w", err)
	}

	// SF_LOG_FORMAT — формат логов
	format := getEnvDefault("SF_LOG_FORMAT", defaultFormat)
	if format != "json" && format != "text" {
		return slog.LevelInfo, "", fmt.Errorf("SF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", format)
	}
	return level, format, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации сервера.
func SetupLogger(cfg *Config) *slog.Logger {
	return newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
}

// SetupCLILogger настраивает логгер reviewctl. Логи пишутся в stderr,
// чтобы не смешиваться с выводом команд.
func SetupCLILogger(cfg *CLIConfig) *slog.Logger {
	return newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
}

func newLogger(out *os.File, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
