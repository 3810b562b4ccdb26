package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/api"
	"github.com/charlesng35/accounts/internal/app"
	iauth "github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/cache"
	sharedtestutil "github.com/charlesng35/accounts/internal/database/testutil"
	"github.com/charlesng35/accounts/internal/middleware"
	"github.com/charlesng35/accounts/internal/models"
	"github.com/charlesng35/accounts/internal/monitoring"
	"github.com/charlesng35/accounts/internal/monitoring/checks"
	"github.com/charlesng35/accounts/internal/services"
	"github.com/charlesng35/accounts/pkg/crypto"
	"github.com/charlesng35/accounts/pkg/response"
)

// CookieName is the session cookie name used by test environments.
const CookieName = "session"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	Config     *app.Config
	Users      *services.UserService
	Sessions   *iauth.SessionManager
	Monitoring *monitoring.Module
}

// EnvOption customises the configuration before the router is built.
type EnvOption func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{
			CookieSecret:   "test-suite-super-secret-key-32-bytes!!",
			AllowedOrigins: []string{"http://localhost:3000"},
			RequestTimeout: 5 * time.Second,
			RateLimit:      app.RateLimitConfig{Burst: 1000, Period: time.Second},
			LoginThrottle:  app.ThrottleConfig{Requests: 100, Window: time.Minute},
		},
		Database: app.DatabaseConfig{Driver: "sqlite"},
		Auth: app.AuthConfig{
			Session:  app.SessionSettings{TTL: time.Hour},
			Token:    app.TokenSettings{Issuer: "test-suite"},
			Cookie:   app.CookieSettings{Name: CookieName, Path: "/", SameSite: "lax"},
			Password: app.PasswordSettings{Algorithm: crypto.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	require.NoError(t, cfg.Validate())

	hasher, err := cfg.Auth.PasswordHasher()
	require.NoError(t, err)
	users, err := services.NewUserService(db, hasher, nil)
	require.NoError(t, err)

	store, err := iauth.NewGormSessionStore(db)
	require.NoError(t, err)
	codec, err := iauth.NewTokenCodec(cfg.TokenConfig())
	require.NoError(t, err)
	sessions, err := iauth.NewSessionManager(store, users, codec, cfg.Auth.SessionManagerConfig())
	require.NoError(t, err)
	users.SetSessionRevoker(sessions)

	mon, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)
	mon.Health().RegisterReadiness(checks.GormDatabase(db, time.Second))

	router, err := api.NewRouter(cfg, api.Dependencies{
		Sessions:   sessions,
		Users:      users,
		RateStore:  middleware.NewCacheRateStore(cache.NewDatabaseStore(db)),
		Monitoring: mon,
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		Config:     cfg,
		Users:      users,
		Sessions:   sessions,
		Monitoring: mon,
	}
}

// CreateUser registers an active user directly through the service layer.
func (e *Env) CreateUser(username, password string, admin bool) *models.User {
	e.T.Helper()

	user, err := e.Users.Create(e.T.Context(), services.CreateUserInput{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		IsAdmin:  admin,
	})
	require.NoError(e.T, err)
	return user
}

// UserPayload captures the subset of user fields returned from the API.
type UserPayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsAdmin   bool   `json:"is_admin"`
	IsActive  bool   `json:"is_active"`
}

// SessionToken mirrors the login and refresh response payloads.
type SessionToken struct {
	Token     string       `json:"token"`
	SessionID string       `json:"session_id"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *UserPayload `json:"user"`
}

// LoginResult bundles the JSON response from POST /auth/login with the cookie it set.
type LoginResult struct {
	SessionToken
	Cookie *http.Cookie
}

// Login authenticates and returns the issued session.
func (e *Env) Login(identifier, password string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	w := e.Request(http.MethodPost, "/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result.SessionToken)
	require.NotEmpty(e.T, result.Token)
	require.NotEmpty(e.T, result.SessionID)
	require.NotNil(e.T, result.User)

	result.Cookie = SessionCookie(w)
	require.NotNil(e.T, result.Cookie, "login must set the session cookie")
	require.Equal(e.T, result.Token, result.Cookie.Value)

	return result
}

// SessionCookie returns the session cookie written by a response, if any.
func SessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	return nil
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// ErrorCode returns the error code carried by a failed response.
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success, w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return resp.Error.Code
}

// Request executes an HTTP request against the test router, applying JSON
// encoding and a bearer token when given.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Do(e.NewRequest(method, path, body, token))
}

// RequestWithCookie executes a request authenticated by the session cookie.
func (e *Env) RequestWithCookie(method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()
	req := e.NewRequest(method, path, body, "")
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	return e.Do(req)
}

// NewRequest builds a request for the test router.
func (e *Env) NewRequest(method, path string, body any, token string) *http.Request {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// Do serves req on the test router.
func (e *Env) Do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
