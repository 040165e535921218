package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProviderLocal marks accounts that authenticate with a stored password.
const ProviderLocal = "local"

// User is an account holder. Records are deactivated rather than deleted.
type User struct {
	ID           string     `gorm:"primaryKey;type:uuid" json:"id"`
	Name         string     `gorm:"not null" json:"name"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	Phone        string     `json:"phone,omitempty"`
	PasswordHash string     `gorm:"not null" json:"-"`
	IsActive     bool       `gorm:"not null" json:"is_active"`
	Provider     string     `gorm:"not null;size:32" json:"provider"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Clone returns a copy that shares no pointers with u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cpy := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		cpy.LastLoginAt = &t
	}
	return &cpy
}

// NormalizeEmail lower-cases and trims an address so lookups and uniqueness agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
