package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/accessd/pkg/crypto"
)

const (
	jwtSecretBytes = 48
	defaultAppName = "accessd"
)

// runtimeDefault fills one setting that has no static default. It reports whether it
// changed the config.
type runtimeDefault struct {
	key   string
	apply func(*Config) (bool, error)
}

var runtimeDefaults = []runtimeDefault{
	{key: "auth.jwt.secret", apply: func(cfg *Config) (bool, error) {
		if strings.TrimSpace(cfg.Auth.JWT.Secret) != "" {
			return false, nil
		}
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return false, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		return true, nil
	}},
	{key: "notifications.app_name", apply: func(cfg *Config) (bool, error) {
		if strings.TrimSpace(cfg.Notifications.AppName) != "" {
			return false, nil
		}
		cfg.Notifications.AppName = defaultAppName
		return true, nil
	}},
	{key: "auth.jwt.issuer", apply: func(cfg *Config) (bool, error) {
		if strings.TrimSpace(cfg.Auth.JWT.Issuer) != "" {
			return false, nil
		}
		cfg.Auth.JWT.Issuer = strings.ToLower(strings.Join(strings.Fields(cfg.Notifications.AppName), "-"))
		return true, nil
	}},
}

// ApplyRuntimeDefaults fills settings that cannot have a static default and returns the
// keys it set, so callers can log them without exposing values. A generated JWT secret
// lives only as long as the process; sessions do not survive a restart.
func ApplyRuntimeDefaults(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	var generated []string
	for _, d := range runtimeDefaults {
		changed, err := d.apply(cfg)
		if err != nil {
			return nil, err
		}
		if changed {
			generated = append(generated, d.key)
		}
	}
	return generated, nil
}
