package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/accessd/internal/app"
	"github.com/charlesng35/accessd/internal/middleware"
	"github.com/charlesng35/accessd/internal/store/memory"
	"github.com/charlesng35/accessd/internal/store/sqlstore"
)

func testConfig(driver string) *app.Config {
	return &app.Config{
		Server:   app.ServerConfig{Port: 8000},
		Database: app.DatabaseConfig{Driver: driver},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: "bootstrap-secret", Issuer: "test"},
		},
		Notifications: app.NotificationConfig{Enabled: true, Timeout: time.Second, AppName: "Kisan"},
	}
}

func TestBootstrapRuntimeInMemory(t *testing.T) {
	stack, err := bootstrapRuntime(testConfig("memory"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.IsType(t, &memory.Store{}, stack.Store)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBootstrapRuntimeSQLite(t *testing.T) {
	cfg := testConfig("sqlite")
	cfg.Database.Path = filepath.Join(t.TempDir(), "accessd.sqlite")

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.IsType(t, &sqlstore.Store{}, stack.Store)

	body := strings.NewReader(`{"name":"Asha","email":"asha@test.io","password":"Passw0rd1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	count, err := stack.Store.CountUsers(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestBootstrapRuntimeDatabaseRateLimit(t *testing.T) {
	cfg := testConfig("sqlite")
	cfg.Database.Path = filepath.Join(t.TempDir(), "accessd.sqlite")
	cfg.Server.RateLimit = app.RateLimitConfig{Enabled: true, Backend: "database", Requests: 1, Window: time.Minute}

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })

	require.IsType(t, &middleware.DatabaseRateStore{}, stack.RateStore)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"nobody@test.io","password":"Passw0rd1"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		stack.Router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusNotFound, http.StatusTooManyRequests}, codes)
}

func TestBootstrapRuntimeRejectsDatabaseRateLimitInMemory(t *testing.T) {
	cfg := testConfig("memory")
	cfg.Server.RateLimit.Backend = "database"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.ErrorContains(t, err, "rate limit backend")
}

func TestBootstrapRuntimeRejectsBadSMSGateway(t *testing.T) {
	cfg := testConfig("memory")
	cfg.SMS = app.SMSConfig{Enabled: true, URL: "::not a url"}

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.ErrorContains(t, err, "sms gateway")
}

func TestBootstrapRuntimeRejectsBadSweepSchedule(t *testing.T) {
	cfg := testConfig("memory")
	cfg.Auth.Reset.SweepSchedule = "every now and then"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.ErrorContains(t, err, "maintenance")
}

func TestBootstrapRuntimeRejectsBadRateLimitSweepSchedule(t *testing.T) {
	cfg := testConfig("memory")
	cfg.Server.RateLimit.SweepSchedule = "whenever"

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.ErrorContains(t, err, "rate limit sweep")
}

func TestLoadApplicationConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	cfg, err := loadApplicationConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)

	cfg, err = loadApplicationConfig(dir)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)

	_, err = loadApplicationConfig(filepath.Join(dir, "missing"))
	require.ErrorContains(t, err, "does not exist")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database:\n  driver: oracle\n"), 0o600))

	err := run(context.Background(), []string{"-config", dir})
	require.ErrorContains(t, err, "database.driver")
}

func TestRunCheckValidatesWithoutServing(t *testing.T) {
	dir := t.TempDir()
	yaml := "database:\n  driver: memory\nserver:\n  rate_limit:\n    requests: 3\n    window: 10s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	var out bytes.Buffer
	err := runWithOutput(context.Background(), []string{"-config", dir, "-check"}, &out)
	require.NoError(t, err)
	require.Equal(t, "configuration ok (database=memory, rate_limit=3/10s via memory)\n", out.String())
}

func TestRunCheckReportsRateLimitBackendMismatch(t *testing.T) {
	dir := t.TempDir()
	yaml := "database:\n  driver: memory\nserver:\n  rate_limit:\n    backend: database\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	var out bytes.Buffer
	err := runWithOutput(context.Background(), []string{"-config", dir, "-check"}, &out)
	require.ErrorContains(t, err, "requires a sql database.driver")
	require.Empty(t, out.String())
}

func TestRateLimitSummary(t *testing.T) {
	require.Equal(t, "off", rateLimitSummary(app.RateLimitConfig{}))
	require.Equal(t, "20/1m0s via database", rateLimitSummary(app.RateLimitConfig{
		Enabled: true, Backend: "database", Requests: 20, Window: time.Minute,
	}))
}
