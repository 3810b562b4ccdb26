package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/accounts/internal/api"
	"github.com/charlesng35/accounts/internal/app"
	"github.com/charlesng35/accounts/internal/app/maintenance"
	iauth "github.com/charlesng35/accounts/internal/auth"
	"github.com/charlesng35/accounts/internal/cache"
	"github.com/charlesng35/accounts/internal/database"
	"github.com/charlesng35/accounts/internal/middleware"
	"github.com/charlesng35/accounts/internal/monitoring"
	"github.com/charlesng35/accounts/internal/monitoring/checks"
	"github.com/charlesng35/accounts/internal/services"
	"github.com/charlesng35/accounts/pkg/logger"
)

const probeTimeout = 2 * time.Second

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *redis.Client
	RedisStore *cache.RedisStore
	Cache      cache.Store
	Users      *services.UserService
	Sessions   *iauth.SessionManager
	Monitoring *monitoring.Module
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			if shutdownErr := stack.Shutdown(context.Background()); shutdownErr != nil {
				log.Warn("partial startup cleanup failed", zap.Error(shutdownErr))
			}
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore

	if cfg.Cache.Redis.Enabled {
		redisCfg, err := cfg.Cache.RedisClientConfig()
		if err != nil {
			return nil, err
		}
		if stack.Redis, err = cache.NewRedisClient(ctx, redisCfg); err != nil {
			log.Warn("redis unavailable; falling back to database-backed throttling", zap.Error(err))
		} else {
			stack.RedisStore = cache.NewRedisStore(stack.Redis)
			stack.Cache = stack.RedisStore
			log.Info("redis connected", zap.String("addr", redisCfg.Address))
		}
	}

	hasher, err := cfg.Auth.PasswordHasher()
	if err != nil {
		return nil, fmt.Errorf("initialise password hasher: %w", err)
	}

	stack.Users, err = services.NewUserService(stack.DB, hasher, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	sessionStore, err := iauth.NewGormSessionStore(stack.DB,
		iauth.WithOperationTimeout(cfg.Database.Pool.AcquireTimeout))
	if err != nil {
		return nil, fmt.Errorf("initialise session store: %w", err)
	}

	codec, err := iauth.NewTokenCodec(cfg.TokenConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise token codec: %w", err)
	}

	stack.Sessions, err = iauth.NewSessionManager(sessionStore, stack.Users, codec, cfg.Auth.SessionManagerConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session manager: %w", err)
	}
	stack.Users.SetSessionRevoker(stack.Sessions)

	if err := seedAdmin(ctx, cfg.Bootstrap, stack.Users, log); err != nil {
		return nil, err
	}

	stack.Monitoring, err = monitoring.NewModule(monitoring.Options{})
	if err != nil {
		return nil, fmt.Errorf("initialise monitoring: %w", err)
	}
	registerProbes(stack, cfg)

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Sessions, dbStore,
			maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
			maintenance.WithSessionRetention(cfg.Maintenance.SessionRetention),
			maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		Sessions:   stack.Sessions,
		Users:      stack.Users,
		RateStore:  middleware.NewCacheRateStore(stack.Cache),
		Monitoring: stack.Monitoring,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// registerProbes wires readiness over the database and, when configured, Redis.
// An enabled Redis that failed to connect reports down.
func registerProbes(stack *runtimeStack, cfg *app.Config) {
	health := stack.Monitoring.Health()
	health.RegisterReadiness(checks.GormDatabase(stack.DB, probeTimeout))
	if !cfg.Cache.Redis.Enabled {
		return
	}
	if stack.RedisStore == nil {
		health.RegisterReadiness(checks.Redis(nil, probeTimeout))
		return
	}
	health.RegisterReadiness(checks.Redis(stack.RedisStore, probeTimeout))
}

func seedAdmin(ctx context.Context, cfg app.BootstrapConfig, users *services.UserService, log *zap.Logger) error {
	if !cfg.Enabled() {
		return nil
	}

	username := strings.TrimSpace(cfg.AdminUsername)
	email := strings.TrimSpace(cfg.AdminEmail)
	if email == "" {
		email = username + "@localhost"
	}

	user, created, err := users.EnsureAdmin(ctx, username, email, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("seed bootstrap admin: %w", err)
	}
	if created {
		log.Info("bootstrap admin created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	}
	return nil
}

// Shutdown stops background jobs, runs a final cleanup pass and releases
// connections.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		errs = multierr.Append(errs, s.Cleaner.RunOnce(ctx))
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}

	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}

	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}
