// Пакет cmd — команды reviewctl (cobra).
// Команды только отображают состояние: проверки прав и переходы
// выполняют session, workflow и auditfeed.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/collinco2/sentinelforge-sub000/internal/config"
	"github.com/collinco2/sentinelforge-sub000/internal/dashclient"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
	"github.com/collinco2/sentinelforge-sub000/internal/notify"
	"github.com/collinco2/sentinelforge-sub000/internal/session"
)

// API — методы SentinelForge API, которые использует CLI.
// Реализуется *dashclient.Client.
type API interface {
	session.SessionSource
	ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int, error)
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	OverrideRiskScore(ctx context.Context, alertID int64, req model.OverrideRequest) (*model.Alert, error)
	ListUsers(ctx context.Context) ([]model.Identity, int, error)
	UpdateUserRole(ctx context.Context, userID string, role rbac.Role) (*model.Identity, error)
	AlertAudit(ctx context.Context, alertID int64, limit int) ([]model.AuditLogEntry, int, error)
	RoleAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, int, error)
}

// App — зависимости команд.
type App struct {
	API      API
	Session  *session.Provider
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// AppBuilder создаёт App. Вызывается один раз перед выполнением команды.
// errOut — поток для уведомлений.
type AppBuilder func(errOut io.Writer) (*App, error)

// NewRootCommand создаёт корневую команду reviewctl.
func NewRootCommand(build AppBuilder) *cobra.Command {
	var app *App

	root := &cobra.Command{
		Use:   "reviewctl",
		Short: "SentinelForge review console",
		Long: `reviewctl works with a running SentinelForge API.

It shows the current session and alerts, overrides risk scores,
manages user roles and reads the audit trail. Access is defined by
the role of the session token (SF_TOKEN).`,
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			var err error
			app, err = build(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			// Ошибка восстановления сессии не фатальна: команда работает анонимно.
			if err := app.Session.Initialize(cmd.Context()); err != nil {
				app.Logger.Warn("Сессия не восстановлена", slog.String("error", err.Error()))
			}
			return nil
		},
	}

	appFn := func() *App { return app }
	root.AddCommand(
		newWhoamiCommand(appFn),
		newAlertsCommand(appFn),
		newOverrideCommand(appFn),
		newAuditCommand(appFn),
		newUsersCommand(appFn),
		newSetRoleCommand(appFn),
		newRoleAuditCommand(appFn),
	)
	return root
}

// DefaultApp собирает App из переменных окружения SF_*.
func DefaultApp(errOut io.Writer) (*App, error) {
	cfg, err := config.LoadCLI()
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации: %w", err)
	}
	logger := config.SetupCLILogger(cfg)

	client, err := dashclient.New(cfg.APIURL, cfg.CACertPath, cfg.HTTPTimeout, dashclient.StaticToken(cfg.Token), logger)
	if err != nil {
		return nil, fmt.Errorf("создание клиента API: %w", err)
	}

	return &App{
		API:      client,
		Session:  session.NewProvider(client, logger),
		Notifier: notify.Multi(NewColorNotifier(errOut), notify.NewLogNotifier(logger)),
		Logger:   logger,
	}, nil
}

// Execute выполняет reviewctl с окружением процесса.
func Execute() error {
	root := NewRootCommand(DefaultApp)
	err := root.Execute()
	if err != nil && !errors.Is(err, errReported) {
		fmt.Fprintln(root.ErrOrStderr(), errorStyle.Sprint("Error:"), err)
	}
	return err
}
