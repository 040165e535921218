package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the accessd backend.
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Email         EmailConfig        `mapstructure:"email"`
	SMS           SMSConfig          `mapstructure:"sms"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	LogLevel        string          `mapstructure:"log_level"`
	Development     bool            `mapstructure:"development"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	HSTS            bool            `mapstructure:"hsts"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig bounds credential endpoints per client IP. Backend "database" shares
// counters through the SQL store so replicas enforce one limit.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	// SweepSchedule is the cron expression for dropping closed windows.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// DatabaseConfig selects the credential store. Driver "memory" keeps everything in
// process; sqlite, postgres and mysql use gorm.
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"`
	Path         string        `mapstructure:"path"`
	DSN          string        `mapstructure:"dsn"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	SlowQuery    time.Duration `mapstructure:"slow_query"`
	// Options are driver parameters such as sslmode or tls.
	Options map[string]string `mapstructure:"options"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT         JWTSettings      `mapstructure:"jwt"`
	Password    PasswordSettings `mapstructure:"password"`
	Reset       ResetSettings    `mapstructure:"reset"`
	LoginAlerts bool             `mapstructure:"login_alerts"`
}

// JWTSettings configures session tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"session_ttl"`
}

// PasswordSettings tunes password hashing.
type PasswordSettings struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

// ResetSettings configures password reset tokens.
type ResetSettings struct {
	TTL           time.Duration `mapstructure:"ttl"`
	BaseURL       string        `mapstructure:"base_url"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig points at an HTTP SMS gateway.
type SMSConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationConfig tunes the dispatcher.
type NotificationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	AppName string        `mapstructure:"app_name"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("ACCESSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "memory", "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if c.SMS.Enabled && strings.TrimSpace(c.SMS.URL) == "" {
		return errors.New("config: sms.url is required when sms is enabled")
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.Requests <= 0 {
		return errors.New("config: server.rate_limit.requests must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.RateLimit.Backend)) {
	case "", "memory":
	case "database":
		if c.Database.InMemory() {
			return errors.New("config: server.rate_limit.backend database requires a sql database.driver")
		}
	default:
		return fmt.Errorf("config: unsupported server.rate_limit.backend %q", c.Server.RateLimit.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.development", false)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.hsts", false)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.backend", "memory")
	v.SetDefault("server.rate_limit.requests", 20)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.rate_limit.sweep_schedule", defaultRateLimitSweepSchedule)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/accessd.sqlite")
	v.SetDefault("database.slow_query", "200ms")

	v.SetDefault("auth.jwt.issuer", "accessd")
	v.SetDefault("auth.jwt.session_ttl", "168h")
	v.SetDefault("auth.password.bcrypt_cost", 12)
	v.SetDefault("auth.reset.ttl", "1h")
	v.SetDefault("auth.reset.base_url", "")
	v.SetDefault("auth.reset.sweep_schedule", "@every 15m")
	v.SetDefault("auth.login_alerts", true)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("sms.enabled", false)
	v.SetDefault("sms.timeout", "10s")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.app_name", "accessd")
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
