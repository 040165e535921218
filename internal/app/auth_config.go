package app

import (
	"strings"

	"github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/pkg/crypto"
)

const (
	defaultSweepSchedule          = "@every 15m"
	defaultRateLimitSweepSchedule = "@every 5m"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}

	return auth.JWTConfig{
		Secret:     c.JWT.Secret,
		Issuer:     c.JWT.Issuer,
		SessionTTL: ttl,
	}
}

// ResetOptions converts AuthConfig into ResetRegistry options.
func (c AuthConfig) ResetOptions() []auth.ResetOption {
	ttl := c.Reset.TTL
	if ttl <= 0 {
		ttl = auth.DefaultResetTTL
	}
	return []auth.ResetOption{auth.WithResetTTL(ttl)}
}

// PasswordHasher builds the bcrypt hasher. Costs below the minimum are raised.
func (c AuthConfig) PasswordHasher() *crypto.PasswordHasher {
	return crypto.NewPasswordHasher(c.Password.BcryptCost)
}

// SweepSchedule returns the cron spec for the reset token sweeper.
func (c AuthConfig) SweepSchedule() string {
	if spec := strings.TrimSpace(c.Reset.SweepSchedule); spec != "" {
		return spec
	}
	return defaultSweepSchedule
}

// RateLimitSweepSchedule returns the cron spec for sweeping closed rate limit windows.
func (c ServerConfig) RateLimitSweepSchedule() string {
	if spec := strings.TrimSpace(c.RateLimit.SweepSchedule); spec != "" {
		return spec
	}
	return defaultRateLimitSweepSchedule
}
