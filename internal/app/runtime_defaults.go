package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/accounts/pkg/crypto"
)

const cookieSecretBytes = 48

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
// A generated secret does not survive a restart, so every issued session is invalidated on the next boot.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Server.CookieSecret) == "" {
		secret, err := crypto.GenerateToken(cookieSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
		cfg.Server.CookieSecret = secret
		generated["server.cookie_secret"] = true
	}

	return generated, nil
}
