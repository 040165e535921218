// Package sqlstore implements store.Store on top of gorm. Any dialect opened through
// internal/database works; token consumption relies on a conditional UPDATE inside a
// transaction so concurrent consumers race on the row rather than on process memory.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/accessd/internal/database"
	"github.com/charlesng35/accessd/internal/models"
	"github.com/charlesng35/accessd/internal/store"
)

// Store persists users and reset tokens in a relational database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises the Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps an open, migrated database handle.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: db handle is required")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ store.Store = (*Store)(nil)

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return translate("ping", err)
	}
	return translate("ping", sqlDB.PingContext(ctx))
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return database.Close(s.db)
}

// InsertUser creates the user row. Emails are normalised before insert.
func (s *Store) InsertUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("sqlstore: nil user")
	}

	now := s.now().UTC()
	user.Email = models.NormalizeEmail(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return store.ErrDuplicateEmail
		}
		return translate("insert user", err)
	}
	return nil
}

// FindUserByEmail looks a user up by normalised email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ?", models.NormalizeEmail(email)).
		First(&user).Error
	if err != nil {
		return nil, translate("find user by email", err)
	}
	return &user, nil
}

// FindUserByID looks a user up by ID.
func (s *Store) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate("find user by id", err)
	}
	return &user, nil
}

// UpdateUser applies update to the user row and returns the stored result.
func (s *Store) UpdateUser(ctx context.Context, id string, update store.UserUpdate) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			return err
		}
		update.Apply(&user, s.now().UTC())
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, translate("update user", err)
	}
	return &user, nil
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, translate("count users", err)
	}
	return count, nil
}

// SaveResetToken inserts the token row.
func (s *Store) SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	if token == nil || token.TokenHash == "" {
		return fmt.Errorf("sqlstore: reset token hash is required")
	}

	token.Email = models.NormalizeEmail(token.Email)
	token.ExpiresAt = token.ExpiresAt.UTC()
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return translate("save reset token", err)
	}
	return nil
}

// FindResetToken returns the token stored under tokenHash.
func (s *Store) FindResetToken(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken
	if err := s.db.WithContext(ctx).First(&token, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, translate("find reset token", err)
	}
	return &token, nil
}

// DeleteResetToken removes the token stored under tokenHash. Missing tokens are ignored.
func (s *Store) DeleteResetToken(ctx context.Context, tokenHash string) error {
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Delete(&models.PasswordResetToken{}).Error
	return translate("delete reset token", err)
}

// ConsumeResetToken implements store.ResetTokenStore. The token row is claimed with a
// conditional UPDATE so only one transaction can move it from unused to used.
func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error) {
	now = now.UTC()

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := tx.Model(&models.PasswordResetToken{}).
			Where("token_hash = ? AND used_at IS NULL AND expires_at >= ?", tokenHash, now).
			Updates(map[string]interface{}{"used_at": now, "updated_at": now})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected != 1 {
			return store.ErrTokenInvalid
		}

		var token models.PasswordResetToken
		if err := tx.First(&token, "token_hash = ?", tokenHash).Error; err != nil {
			return err
		}

		res := tx.Model(&models.User{}).
			Where("email = ?", token.Email).
			Updates(map[string]interface{}{"password_hash": passwordHash, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrTokenInvalid
		}

		return tx.First(&user, "email = ?", token.Email).Error
	})
	if err == nil {
		return &user, nil
	}

	if errors.Is(err, store.ErrTokenInvalid) {
		// Evict the row if it was rejected for being stale.
		_ = s.db.WithContext(ctx).
			Where("token_hash = ? AND expires_at < ?", tokenHash, now).
			Delete(&models.PasswordResetToken{}).Error
	}
	return nil, translate("consume reset token", err)
}

// DeleteExpiredResetTokens removes tokens past expiry and tokens already consumed.
func (s *Store) DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ? OR used_at IS NOT NULL", now.UTC()).
		Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, translate("delete expired reset tokens", res.Error)
	}
	return res.RowsAffected, nil
}
