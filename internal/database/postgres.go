package database

import (
	"errors"
	"net"
	"net/url"
	"strconv"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := postgresURL(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.New(postgres.Config{DSN: dsn}), gormConfig(cfg))
}

// postgresURL renders a postgres:// connection URL. Credentials are escaped, so
// passwords may contain spaces or reserved characters.
func postgresURL(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres: user and database name are required")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(orDefault(cfg.Host, "localhost"), strconv.Itoa(portOrDefault(cfg.Port, 5432))),
		Path:   "/" + cfg.Name,
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}

	query := url.Values{}
	for key, value := range withDefaults(cfg.Options, map[string]string{"sslmode": "disable"}) {
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func portOrDefault(port, fallback int) int {
	if port <= 0 {
		return fallback
	}
	return port
}

// withDefaults overlays options on a copy of defaults.
func withDefaults(options, defaults map[string]string) map[string]string {
	merged := make(map[string]string, len(options)+len(defaults))
	for key, value := range defaults {
		merged[key] = value
	}
	for key, value := range options {
		merged[key] = value
	}
	return merged
}
