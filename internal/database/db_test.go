package database

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/accessd/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
	if err := Ping(db); err != nil {
		t.Fatalf("expected ping to succeed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)

	if err := AutoMigrateAndSeed(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	for _, model := range []any{&models.User{}, &models.PasswordResetToken{}, &models.RateCounter{}} {
		if !db.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}
}

func TestUserEmailIsUnique(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	first := &models.User{Name: "Asha", Email: "asha@test.io", PasswordHash: "x", IsActive: true, Provider: models.ProviderLocal}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	second := &models.User{Name: "Asha", Email: "asha@test.io", PasswordHash: "y", IsActive: true, Provider: models.ProviderLocal}
	if err := db.Create(second).Error; err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestAutoMigrateNilHandle(t *testing.T) {
	if err := AutoMigrateAndSeed(nil); err == nil {
		t.Fatal("expected error for nil handle")
	}
}

func TestStatementVerb(t *testing.T) {
	if got := statementVerb("  select * from users where email = 'a'"); got != "SELECT" {
		t.Fatalf("unexpected verb %q", got)
	}
	if got := statementVerb("COMMIT"); got != "COMMIT" {
		t.Fatalf("unexpected verb %q", got)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", DSN: "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	t.Cleanup(func() {
		_ = Close(db)
	})

	return db
}
