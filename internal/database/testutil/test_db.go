package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/accessd/internal/database"
)

// TestDBOption adjusts a database opened by MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	migrate bool
	seed    []any
}

// WithAutoMigrate creates the accessd schema.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.migrate = true
	}
}

// WithSeed inserts rows, in order, after migrating the schema.
func WithSeed(rows ...any) TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.migrate = true
		cfg.seed = append(cfg.seed, rows...)
	}
}

// MustOpenTestDB returns a private in-memory SQLite database closed on test cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	var cfg testDBConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	// a unique name keeps shared-cache databases from leaking rows between tests
	db, err := database.Open(database.Config{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1&_busy_timeout=5000",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	if cfg.migrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	for _, row := range cfg.seed {
		require.NoError(t, db.Create(row).Error, "seed %T", row)
	}
	return db
}
