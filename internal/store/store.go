// Package store defines the persistence contract for accounts and password reset
// tokens. Implementations live in the memory and sqlstore subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/charlesng35/accessd/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEmail is returned when inserting a user whose normalised email exists.
	ErrDuplicateEmail = errors.New("store: duplicate email")
	// ErrTokenInvalid is returned when a reset token is absent, used or expired.
	ErrTokenInvalid = errors.New("store: reset token invalid")
	// ErrUnavailable wraps backend failures that are not domain outcomes.
	ErrUnavailable = errors.New("store: unavailable")
)

// UserUpdate lists the mutable user fields. Nil fields are left unchanged.
type UserUpdate struct {
	Name         *string
	Phone        *string
	PasswordHash *string
	LastLoginAt  *time.Time
	IsActive     *bool
}

// Apply merges the update into user and stamps UpdatedAt.
func (u UserUpdate) Apply(user *models.User, now time.Time) {
	if u.Name != nil {
		user.Name = *u.Name
	}
	if u.Phone != nil {
		user.Phone = *u.Phone
	}
	if u.PasswordHash != nil {
		user.PasswordHash = *u.PasswordHash
	}
	if u.LastLoginAt != nil {
		login := *u.LastLoginAt
		user.LastLoginAt = &login
	}
	if u.IsActive != nil {
		user.IsActive = *u.IsActive
	}
	user.UpdatedAt = now
}

// UserStore is the credential store.
type UserStore interface {
	InsertUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, update UserUpdate) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

// ResetTokenStore persists password reset tokens keyed by their digest.
type ResetTokenStore interface {
	SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error
	FindResetToken(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	DeleteResetToken(ctx context.Context, tokenHash string) error
	// ConsumeResetToken atomically verifies the token is unused and unexpired at now,
	// marks it used and stores passwordHash on the owning user. Concurrent callers
	// for the same token see exactly one success; the rest get ErrTokenInvalid.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error)
	// DeleteExpiredResetTokens removes tokens that expired before now or were consumed.
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

// Store bundles everything the account services persist.
type Store interface {
	UserStore
	ResetTokenStore
	Ping(ctx context.Context) error
	Close() error
}
