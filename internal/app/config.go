package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/charlesng35/accounts/pkg/crypto"
)

// MinCookieSecretLength is the shortest accepted token signing secret.
const MinCookieSecretLength = 32

// Config represents the runtime configuration for the accounts service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Bootstrap   BootstrapConfig   `mapstructure:"bootstrap"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string          `mapstructure:"host"`
	Port           int             `mapstructure:"port"`
	LogLevel       string          `mapstructure:"log_level"`
	CookieSecret   string          `mapstructure:"cookie_secret"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	LoginThrottle  ThrottleConfig  `mapstructure:"login_throttle"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", strings.TrimSpace(s.Host), s.Port)
}

// RateLimitConfig sizes the global token bucket.
type RateLimitConfig struct {
	Burst  int           `mapstructure:"burst"`
	Period time.Duration `mapstructure:"period"`
}

// ThrottleConfig bounds login and registration attempts per client address.
type ThrottleConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string     `mapstructure:"driver"`
	Host     string     `mapstructure:"host"`
	Port     int        `mapstructure:"port"`
	Name     string     `mapstructure:"name"`
	Username string     `mapstructure:"username"`
	Password string     `mapstructure:"password"`
	SSLMode  string     `mapstructure:"ssl_mode"`
	Path     string     `mapstructure:"path"`
	DSN      string     `mapstructure:"dsn"`
	Pool     PoolConfig `mapstructure:"pool"`
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxConnections int           `mapstructure:"max_connections"`
	MinConnections int           `mapstructure:"min_connections"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	Session  SessionSettings  `mapstructure:"session"`
	Token    TokenSettings    `mapstructure:"token"`
	Cookie   CookieSettings   `mapstructure:"cookie"`
	Password PasswordSettings `mapstructure:"password"`
}

// SessionSettings configures session lifetimes.
type SessionSettings struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// TokenSettings configures the signed session tokens.
type TokenSettings struct {
	Issuer string `mapstructure:"issuer"`
}

// CookieSettings configures the session cookie.
type CookieSettings struct {
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"`
	Domain   string `mapstructure:"domain"`
	Secure   bool   `mapstructure:"secure"`
	SameSite string `mapstructure:"same_site"`
}

// PasswordSettings selects the password hashing scheme.
type PasswordSettings struct {
	Algorithm  string `mapstructure:"algorithm"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	SessionSchedule  string        `mapstructure:"session_schedule"`
	SessionRetention time.Duration `mapstructure:"session_retention"`
	CacheSchedule    string        `mapstructure:"cache_schedule"`
}

// BootstrapConfig optionally seeds an administrator on startup.
type BootstrapConfig struct {
	AdminUsername string `mapstructure:"admin_username"`
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// Enabled reports whether an administrator should be seeded.
func (b BootstrapConfig) Enabled() bool {
	return strings.TrimSpace(b.AdminUsername) != "" && b.AdminPassword != ""
}

// legacyEnv maps keys onto the unprefixed variable names older deployments
// export.
var legacyEnv = map[string]string{
	"database.host":     "DATABASE_HOST",
	"database.port":     "DATABASE_PORT",
	"database.name":     "DATABASE_NAME",
	"database.username": "DATABASE_USERNAME",
	"database.password": "DATABASE_PASSWORD",
	"database.ssl_mode": "DATABASE_SSL_MODE",
}

const envPrefix = "ACCOUNTS"

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cookie_secret", "")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.rate_limit.burst", 100)
	v.SetDefault("server.rate_limit.period", "1s")
	v.SetDefault("server.login_throttle.requests", 10)
	v.SetDefault("server.login_throttle.window", "1m")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "accounts")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "./data/accounts.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.pool.max_connections", 10)
	v.SetDefault("database.pool.min_connections", 2)
	v.SetDefault("database.pool.acquire_timeout", "5s")
	v.SetDefault("database.pool.max_lifetime", "30m")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.session.ttl", "168h") // 7 days
	v.SetDefault("auth.token.issuer", "accounts")
	v.SetDefault("auth.cookie.name", "session")
	v.SetDefault("auth.cookie.path", "/")
	v.SetDefault("auth.cookie.domain", "")
	v.SetDefault("auth.cookie.secure", true)
	v.SetDefault("auth.cookie.same_site", "lax")
	v.SetDefault("auth.password.algorithm", crypto.AlgorithmBcrypt)
	v.SetDefault("auth.password.bcrypt_cost", 12)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.session_retention", "720h")
	v.SetDefault("maintenance.cache_schedule", "@every 15m")

	v.SetDefault("bootstrap.admin_username", "")
	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if len(strings.TrimSpace(c.Server.CookieSecret)) < MinCookieSecretLength {
		return fmt.Errorf("server.cookie_secret must be at least %d bytes", MinCookieSecretLength)
	}
	if c.Server.RateLimit.Burst <= 0 || c.Server.RateLimit.Period <= 0 {
		return errors.New("server.rate_limit burst and period must be positive")
	}
	if c.Server.LoginThrottle.Requests <= 0 || c.Server.LoginThrottle.Window <= 0 {
		return errors.New("server.login_throttle requests and window must be positive")
	}
	if c.Auth.Session.TTL <= 0 {
		return errors.New("auth.session.ttl must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "postgresql", "mysql", "mariadb", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(c.Auth.Password.Algorithm)) {
	case crypto.AlgorithmBcrypt, crypto.AlgorithmArgon2id:
	default:
		return fmt.Errorf("auth.password.algorithm %q is not supported", c.Auth.Password.Algorithm)
	}

	return nil
}
