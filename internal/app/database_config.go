package app

import (
	"strings"

	"github.com/charlesng35/accounts/internal/database"
)

// ConnectionConfig converts DatabaseConfig into the database package representation.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "postgresql" {
		driver = "postgres"
	}

	return database.Config{
		Driver:   driver,
		Path:     strings.TrimSpace(c.Path),
		DSN:      strings.TrimSpace(c.DSN),
		Host:     strings.TrimSpace(c.Host),
		Port:     c.Port,
		Name:     strings.TrimSpace(c.Name),
		User:     strings.TrimSpace(c.Username),
		Password: c.Password,
		SSLMode:  strings.TrimSpace(c.SSLMode),
		Pool: database.PoolConfig{
			MaxOpenConns:    c.Pool.MaxConnections,
			MaxIdleConns:    c.Pool.MinConnections,
			ConnMaxLifetime: c.Pool.MaxLifetime,
			AcquireTimeout:  c.Pool.AcquireTimeout,
		},
	}
}
