package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PasswordResetToken is a single-use credential for the password reset flow. Only the
// SHA-256 digest of the token handed to the user is stored.
type PasswordResetToken struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	Email     string     `gorm:"not null;index" json:"email"`
	TokenHash string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none is set.
func (t *PasswordResetToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Used reports whether the token has been consumed.
func (t *PasswordResetToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether now is past the expiry instant.
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Usable reports whether the token may still be validated or consumed.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return !t.Used() && !t.Expired(now)
}

// Clone returns a copy that shares no pointers with t.
func (t *PasswordResetToken) Clone() *PasswordResetToken {
	if t == nil {
		return nil
	}
	cpy := *t
	if t.UsedAt != nil {
		used := *t.UsedAt
		cpy.UsedAt = &used
	}
	return &cpy
}
