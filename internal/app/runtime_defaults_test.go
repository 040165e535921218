package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsFillsMissingSettings(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	require.Equal(t, []string{"auth.jwt.secret", "notifications.app_name", "auth.jwt.issuer"}, generated)
	require.GreaterOrEqual(t, len(cfg.Auth.JWT.Secret), 64)
	require.Equal(t, "accessd", cfg.Notifications.AppName)
	require.Equal(t, "accessd", cfg.Auth.JWT.Issuer)

	other := &Config{}
	_, err = ApplyRuntimeDefaults(other)
	require.NoError(t, err)
	require.NotEqual(t, cfg.Auth.JWT.Secret, other.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsIssuerFollowsAppName(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = "configured"
	cfg.Notifications.AppName = "Kisan Mitra"

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Equal(t, []string{"auth.jwt.issuer"}, generated)
	require.Equal(t, "kisan-mitra", cfg.Auth.JWT.Issuer)
}

func TestApplyRuntimeDefaultsKeepsConfiguredValues(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = "configured"
	cfg.Auth.JWT.Issuer = "kisan"
	cfg.Notifications.AppName = "Kisan"

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, "configured", cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.EqualError(t, err, "config is nil")
}
