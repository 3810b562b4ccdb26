package app

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/charlesng35/accounts/internal/cache"
)

// RedisClientConfig converts the cache settings into the cache package
// representation. The address may also be a redis:// or rediss:// URL, in
// which case credentials, database and TLS come from the URL unless set
// explicitly.
func (c CacheConfig) RedisClientConfig() (cache.RedisConfig, error) {
	cfg := cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
	if !strings.Contains(cfg.Address, "://") {
		return cfg, nil
	}

	opts, err := redis.ParseURL(cfg.Address)
	if err != nil {
		return cache.RedisConfig{}, fmt.Errorf("cache.redis.address: %w", err)
	}
	cfg.Address = opts.Addr
	if cfg.Username == "" {
		cfg.Username = opts.Username
	}
	if cfg.Password == "" {
		cfg.Password = opts.Password
	}
	if cfg.DB == 0 {
		cfg.DB = opts.DB
	}
	cfg.TLS = cfg.TLS || opts.TLSConfig != nil
	return cfg, nil
}
