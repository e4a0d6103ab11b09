// auth.go — JWT middleware для аутентификации и авторизации SentinelForge.
// Валидирует Bearer token через JWKS, разрешает subject в пользователя
// и проверяет возможности его роли.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/collinco2/sentinelforge-sub000/internal/api/errors"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/model"
	"github.com/collinco2/sentinelforge-sub000/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyIdentity — пользователь текущего запроса.
	ContextKeyIdentity contextKey = "identity"
)

// IdentityResolver — разрешение subject токена в пользователя.
// Реализуется service.IdentityService.
type IdentityResolver interface {
	Resolve(ctx context.Context, subject, preferredUsername string) (*model.Identity, error)
}

// tokenClaims — claims JWT, используемые сервером.
type tokenClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя для первичного создания.
	PreferredUsername string `json:"preferred_username"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	resolver  IdentityResolver
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS провайдера токенов.
// jwksURL — URL к JWKS endpoint.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (пустой — не проверяется).
// jwksClientTimeout — таймаут HTTP-клиента JWKS (SF_JWKS_CLIENT_TIMEOUT).
// jwksRefreshInterval — интервал обновления ключей (SF_JWKS_REFRESH_INTERVAL).
// jwtLeeway — допустимое отклонение времени (SF_JWT_LEEWAY).
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	resolver IdentityResolver,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если провайдер токенов ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, issuer, resolver, logger)
	auth.jwtLeeway = jwtLeeway
	return auth, nil
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	resolver IdentityResolver,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:     kf,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "jwt_auth")),
		issuer:   issuer,
	}
}

// authFailure — причина отказа в аутентификации.
type authFailure struct {
	status  int
	message string
}

// authenticate извлекает и валидирует токен, разрешает пользователя.
func (j *JWTAuth) authenticate(r *http.Request) (*model.Identity, *authFailure) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, &authFailure{http.StatusUnauthorized, "Отсутствует заголовок Authorization"}
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, &authFailure{http.StatusUnauthorized, "Неверный формат Authorization: ожидается Bearer <token>"}
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return nil, &authFailure{http.StatusUnauthorized, "Пустой Bearer token"}
	}

	claims := &tokenClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil {
		j.logger.Debug("JWT валидация не пройдена",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return nil, &authFailure{http.StatusUnauthorized, "Невалидный или просроченный токен"}
	}
	if !token.Valid {
		return nil, &authFailure{http.StatusUnauthorized, "Невалидный токен"}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, &authFailure{http.StatusUnauthorized, "Отсутствует sub в токене"}
	}

	identity, err := j.resolver.Resolve(r.Context(), subject, claims.PreferredUsername)
	if err != nil {
		j.logger.Error("Ошибка разрешения пользователя",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return nil, &authFailure{http.StatusInternalServerError, "Ошибка получения пользователя"}
	}
	if !identity.IsActive {
		return nil, &authFailure{http.StatusForbidden, "account is disabled"}
	}

	return identity, nil
}

// Middleware возвращает HTTP middleware, требующий валидный токен
// и активного пользователя. Пользователь помещается в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := j.authenticate(r)
			if failure != nil {
				switch failure.status {
				case http.StatusForbidden:
					apierrors.Forbidden(w, failure.message)
				case http.StatusInternalServerError:
					apierrors.InternalError(w, failure.message)
				default:
					apierrors.Unauthorized(w, failure.message)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Optional возвращает middleware, который помещает пользователя в контекст,
// если токен валиден, и пропускает запрос без пользователя в остальных случаях.
func (j *JWTAuth) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, failure := j.authenticate(r)
			if failure != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// --- RBAC middleware helpers ---

// CapabilityCheck — проверка одной возможности роли.
type CapabilityCheck func(rbac.Capabilities) bool

// Проверки возможностей для RequireCapability.
var (
	CanOverrideRiskScores CapabilityCheck = func(c rbac.Capabilities) bool { return c.CanOverrideRiskScores }
	CanViewAuditTrail     CapabilityCheck = func(c rbac.Capabilities) bool { return c.CanViewAuditTrail }
	CanManageRoles        CapabilityCheck = func(c rbac.Capabilities) bool { return c.CanManageRoles }
)

// RequireCapability возвращает middleware, требующий возможность роли.
// message — текст ошибки 403 (префикс "Forbidden: " добавляется автоматически).
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireCapability(check CapabilityCheck, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
				return
			}
			if !check(identity.Capabilities()) {
				apierrors.Forbidden(w, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithIdentity помещает пользователя в контекст.
func WithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	if identity != nil {
		noteUser(ctx, identity.Username)
	}
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// IdentityFromContext извлекает пользователя из контекста запроса.
// Возвращает nil, если пользователь не найден.
func IdentityFromContext(ctx context.Context) *model.Identity {
	identity, _ := ctx.Value(ContextKeyIdentity).(*model.Identity)
	return identity
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &JWKSReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint и наличие ключей.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return statusFail, fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
