// Пакет dashclient — HTTP-клиент к API SentinelForge.
// Используется ядром review-процессов: сессия, алерты, переопределения,
// справочник пользователей, журнал аудита.
// Токен сессии непрозрачен и добавляется через TokenProvider.
package dashclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
)

// TokenProvider — функция, возвращающая токен сессии для заголовка Authorization.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken возвращает TokenProvider с фиксированным токеном.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Client — HTTP-клиент к API SentinelForge.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// New создаёт клиент.
// baseURL — базовый URL API (например, http://sentinelforge:8080).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут HTTP-запросов.
// tokenProvider — источник токена (может быть nil для анонимных запросов).
func New(baseURL, caCertPath string, timeout time.Duration, tokenProvider TokenProvider, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата API: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Debug("CA-сертификат API добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return NewWithHTTPClient(baseURL, httpClient, tokenProvider, logger), nil
}

// NewWithHTTPClient создаёт клиент с готовым *http.Client.
// Используется в тестах с httptest.Server.
func NewWithHTTPClient(baseURL string, httpClient *http.Client, tokenProvider TokenProvider, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "dash_client")),
	}
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// --- HTTP helpers ---

// do выполняет запрос к API с токеном сессии и JSON-телом.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx)
		if err != nil {
			return nil, fmt.Errorf("получение токена сессии: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	return resp, nil
}

// decodeResponse декодирует JSON-ответ в target.
// Не-2xx статус превращается в *APIError.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, body)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа API: %w", err)
		}
	}
	return nil
}

// --- Session ---

// CurrentSession возвращает текущего пользователя по токену сессии.
// GET /session. Возвращает nil, nil если сессия не аутентифицирована.
func (c *Client) CurrentSession(ctx context.Context) (*model.Identity, error) {
	resp, err := c.do(ctx, http.MethodGet, "/session", nil)
	if err != nil {
		return nil, err
	}

	var session SessionResponse
	if err := decodeResponse(resp, &session); err != nil {
		return nil, fmt.Errorf("CurrentSession: %w", err)
	}

	if !session.Authenticated || session.User == nil {
		return nil, nil
	}
	return session.User, nil
}

// --- Alerts ---

// ListAlerts возвращает страницу алертов.
// GET /alerts?limit=N&offset=M.
func (c *Client) ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int, error) {
	path := fmt.Sprintf("/alerts?limit=%d&offset=%d", limit, offset)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	var list AlertListResponse
	if err := decodeResponse(resp, &list); err != nil {
		return nil, 0, fmt.Errorf("ListAlerts: %w", err)
	}
	return list.Alerts, list.Total, nil
}

// GetAlert возвращает алерт по ID.
// GET /alert/{id}.
func (c *Client) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	resp, err := c.do(ctx, http.MethodGet, "/alert/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return nil, err
	}

	var alert model.Alert
	if err := decodeResponse(resp, &alert); err != nil {
		return nil, fmt.Errorf("GetAlert: %w", err)
	}
	return &alert, nil
}

// OverrideRiskScore переопределяет risk score алерта.
// PATCH /alert/{id}/override, тело {risk_score, justification, user_id}.
func (c *Client) OverrideRiskScore(ctx context.Context, alertID int64, req model.OverrideRequest) (*model.Alert, error) {
	path := "/alert/" + strconv.FormatInt(alertID, 10) + "/override"

	resp, err := c.do(ctx, http.MethodPatch, path, req)
	if err != nil {
		return nil, err
	}

	var alert model.Alert
	if err := decodeResponse(resp, &alert); err != nil {
		return nil, fmt.Errorf("OverrideRiskScore: %w", err)
	}

	c.logger.Debug("Risk score переопределён",
		slog.Int64("alert_id", alertID),
		slog.Int("risk_score", req.RiskScore),
	)
	return &alert, nil
}

// --- Users ---

// ListUsers возвращает всех пользователей справочника.
// GET /users.
func (c *Client) ListUsers(ctx context.Context) ([]model.Identity, int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, 0, err
	}

	var list UserListResponse
	if err := decodeResponse(resp, &list); err != nil {
		return nil, 0, fmt.Errorf("ListUsers: %w", err)
	}
	return list.Users, list.Total, nil
}

// UpdateUserRole меняет роль пользователя.
// PATCH /user/{id}/role, тело {role}.
func (c *Client) UpdateUserRole(ctx context.Context, userID string, role rbac.Role) (*model.Identity, error) {
	path := "/user/" + url.PathEscape(userID) + "/role"

	resp, err := c.do(ctx, http.MethodPatch, path, roleUpdateRequest{Role: string(role)})
	if err != nil {
		return nil, err
	}

	var identity model.Identity
	if err := decodeResponse(resp, &identity); err != nil {
		return nil, fmt.Errorf("UpdateUserRole: %w", err)
	}
	return &identity, nil
}

// --- Audit ---

// AlertAudit возвращает журнал переопределений алерта.
// GET /audit?alert_id={id}&limit={n}.
func (c *Client) AlertAudit(ctx context.Context, alertID int64, limit int) ([]model.AuditLogEntry, int, error) {
	path := fmt.Sprintf("/audit?alert_id=%d&limit=%d", alertID, limit)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	var list AuditListResponse
	if err := decodeResponse(resp, &list); err != nil {
		return nil, 0, fmt.Errorf("AlertAudit: %w", err)
	}

	entries := make([]model.AuditLogEntry, 0, len(list.AuditLogs))
	for _, l := range list.AuditLogs {
		entries = append(entries, l.ToEntry())
	}
	return entries, list.Total, nil
}

// RoleAudit возвращает журнал смены ролей.
// GET /role-audit?limit={n}.
func (c *Client) RoleAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, int, error) {
	path := fmt.Sprintf("/role-audit?limit=%d", limit)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	var list RoleAuditListResponse
	if err := decodeResponse(resp, &list); err != nil {
		return nil, 0, fmt.Errorf("RoleAudit: %w", err)
	}

	entries := make([]model.AuditLogEntry, 0, len(list.AuditLogs))
	for _, l := range list.AuditLogs {
		entries = append(entries, l.ToEntry())
	}
	return entries, list.Total, nil
}
