package app

import (
	"strings"

	"github.com/charlesng35/accessd/internal/database"
)

// InMemory reports whether the credential store lives in process.
func (c DatabaseConfig) InMemory() bool {
	return strings.EqualFold(strings.TrimSpace(c.Driver), "memory")
}

// Settings converts DatabaseConfig to the gorm connection options.
func (c DatabaseConfig) Settings() database.Config {
	return database.Config{
		Driver:        c.Driver,
		Path:          c.Path,
		DSN:           c.DSN,
		Host:          c.Host,
		Port:          c.Port,
		Name:          c.Name,
		User:          c.User,
		Password:      c.Password,
		Options:       c.Options,
		MaxOpenConns:  c.MaxOpenConns,
		SlowThreshold: c.SlowQuery,
	}
}
