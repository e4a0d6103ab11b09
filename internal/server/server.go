// Пакет server — HTTP-сервер SentinelForge с graceful shutdown.
// Без TLS — TLS termination на ingress/gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/collinco2/sentinelforge-sub000/internal/api/handlers"
	"github.com/collinco2/sentinelforge-sub000/internal/api/middleware"
	"github.com/collinco2/sentinelforge-sub000/internal/config"
)

// Тексты отказов 403 для маршрутов с проверкой возможностей.
const (
	deniedOverride = "you do not have permission to override risk scores"
	deniedAudit    = "you do not have permission to view the audit trail"
	deniedRoles    = "you do not have permission to manage user roles"
)

// Server — HTTP-сервер SentinelForge.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// NewRouter создаёт chi-роутер со всеми маршрутами и middleware.
// Health и metrics доступны без токена; /session — с необязательным токеном.
func NewRouter(logger *slog.Logger, api *handlers.APIHandler, health *handlers.HealthHandler, auth *middleware.JWTAuth) chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)

	router.With(auth.Optional()).Get("/session", api.GetSession)

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Get("/alerts", api.ListAlerts)
		r.Get("/alert/{id}", api.GetAlert)
		r.With(middleware.RequireCapability(middleware.CanOverrideRiskScores, deniedOverride)).
			Patch("/alert/{id}/override", api.OverrideRiskScore)

		r.With(middleware.RequireCapability(middleware.CanManageRoles, deniedRoles)).
			Get("/users", api.ListUsers)
		r.With(middleware.RequireCapability(middleware.CanManageRoles, deniedRoles)).
			Patch("/user/{id}/role", api.UpdateUserRole)

		r.With(middleware.RequireCapability(middleware.CanViewAuditTrail, deniedAudit)).
			Get("/audit", api.GetAudit)
		r.With(middleware.RequireCapability(middleware.CanViewAuditTrail, deniedAudit)).
			Get("/role-audit", api.GetRoleAudit)
	})

	return router
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, health *handlers.HealthHandler, auth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, api, health, auth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
