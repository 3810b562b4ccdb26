package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accounts/internal/app"
	iauth "github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/handlers"
	"github.com/charlesng35/accounts/internal/middleware"
	"github.com/charlesng35/accounts/internal/monitoring"
	"github.com/charlesng35/accounts/internal/services"
)

// Dependencies carries the services the HTTP surface is built over.
type Dependencies struct {
	Sessions   *iauth.SessionManager
	Users      *services.UserService
	RateStore  middleware.RateStore
	Monitoring *monitoring.Module
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager must be provided")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user service must be provided")
	}

	cookie := cfg.Auth.SessionCookie()

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(metricsEndpoint(cfg.Monitoring.Prometheus)))
	r.Use(middleware.SecurityHeaders(cookie.Secure))
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(middleware.RateLimit(cfg.Server.RateLimit.Burst, cfg.Server.RateLimit.Period))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	var health *monitoring.HealthManager
	if deps.Monitoring != nil {
		health = deps.Monitoring.Health()
	}
	registerHealthRoutes(r, health)
	registerMetricsRoutes(r, cfg.Monitoring.Prometheus, deps.Monitoring)

	throttle := func(scope string) gin.HandlerFunc {
		return middleware.Throttle(deps.RateStore, scope, cfg.Server.LoginThrottle.Requests, cfg.Server.LoginThrottle.Window)
	}
	requireAuth := middleware.Auth(deps.Sessions, cookie)

	registerAuthRoutes(r, authRouteDeps{
		Handler:  handlers.NewAuthHandler(deps.Sessions, cookie),
		Throttle: throttle("login"),
	})
	registerSessionRoutes(r, sessionRouteDeps{
		Handler:     handlers.NewSessionHandler(deps.Sessions, cookie),
		RequireAuth: requireAuth,
	})
	registerUserRoutes(r, userRouteDeps{
		Handler:     handlers.NewUserHandler(deps.Users, cookie),
		RequireAuth: requireAuth,
		Throttle:    throttle("register"),
	})

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}

func registerHealthRoutes(r *gin.Engine, health *monitoring.HealthManager) {
	r.GET("/", handlers.Health())
	r.GET("/health/ready", handlers.Readiness(health))
}

func registerMetricsRoutes(r *gin.Engine, cfg app.PrometheusConfig, mon *monitoring.Module) {
	if !cfg.Enabled || mon == nil {
		return
	}
	r.GET(metricsEndpoint(cfg), gin.WrapH(mon.Handler()))
}

func metricsEndpoint(cfg app.PrometheusConfig) string {
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		return endpoint
	}
	return "/metrics"
}
