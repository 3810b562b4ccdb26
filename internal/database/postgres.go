package database

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newGormLogger()})
}

func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	params := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", quoteValue(cfg.User)),
		fmt.Sprintf("dbname=%s", quoteValue(cfg.Name)),
	}

	if cfg.Password != "" {
		params = append(params, fmt.Sprintf("password=%s", quoteValue(cfg.Password)))
	}

	options := map[string]string{}
	for key, value := range cfg.Options {
		options[key] = value
	}

	if cfg.SSLMode != "" {
		options["sslmode"] = cfg.SSLMode
	}
	if _, ok := options["sslmode"]; !ok {
		options["sslmode"] = "disable"
	}

	keys := make([]string, 0, len(options))
	for key := range options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		params = append(params, fmt.Sprintf("%s=%s", key, quoteValue(options[key])))
	}

	return strings.Join(params, " "), nil
}

// quoteValue escapes libpq keyword/value strings containing spaces or quotes.
func quoteValue(value string) string {
	if value == "" || strings.ContainsAny(value, ` '\`) {
		escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
		return "'" + escaped + "'"
	}
	return value
}
