// Package memory provides a concurrency-safe in-memory store. It is the reference
// implementation and backs tests and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/charlesng35/accessd/internal/models"
	"github.com/charlesng35/accessd/internal/store"
)

// Store keeps users and reset tokens behind one mutex so cross-map operations such
// as token consumption are indivisible.
type Store struct {
	mu sync.Mutex

	users       map[string]*models.User
	emailIndex  map[string]string
	resetTokens map[string]*models.PasswordResetToken

	now    func() time.Time
	closed bool
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

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		users:       make(map[string]*models.User),
		emailIndex:  make(map[string]string),
		resetTokens: make(map[string]*models.PasswordResetToken),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// Ping reports whether the store is open.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed: %w", store.ErrUnavailable)
	}
	return nil
}

// Close marks the store as closed. Subsequent calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// InsertUser stores a copy of user, assigning an ID and timestamps when missing.
func (s *Store) InsertUser(_ context.Context, user *models.User) error {
	if user == nil {
		return fmt.Errorf("memory store: nil user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	email := models.NormalizeEmail(user.Email)
	if _, exists := s.emailIndex[email]; exists {
		return store.ErrDuplicateEmail
	}

	now := s.now()
	user.Email = email
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	s.users[user.ID] = user.Clone()
	s.emailIndex[email] = user.ID
	return nil
}

// FindUserByEmail looks a user up by normalised email.
func (s *Store) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	id, ok := s.emailIndex[models.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.users[id].Clone(), nil
}

// FindUserByID looks a user up by ID.
func (s *Store) FindUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user.Clone(), nil
}

// UpdateUser merges update into the stored user.
func (s *Store) UpdateUser(_ context.Context, id string, update store.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	update.Apply(user, s.now())
	return user.Clone(), nil
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return int64(len(s.users)), nil
}

// SaveResetToken stores a copy of token keyed by its hash.
func (s *Store) SaveResetToken(_ context.Context, token *models.PasswordResetToken) error {
	if token == nil || token.TokenHash == "" {
		return fmt.Errorf("memory store: reset token hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	now := s.now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now
	token.Email = models.NormalizeEmail(token.Email)

	s.resetTokens[token.TokenHash] = token.Clone()
	return nil
}

// FindResetToken returns the token stored under tokenHash.
func (s *Store) FindResetToken(_ context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	token, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	return token.Clone(), nil
}

// DeleteResetToken removes the token stored under tokenHash. Missing tokens are ignored.
func (s *Store) DeleteResetToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	delete(s.resetTokens, tokenHash)
	return nil
}

// ConsumeResetToken implements store.ResetTokenStore.
func (s *Store) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	token, ok := s.resetTokens[tokenHash]
	if !ok {
		return nil, store.ErrTokenInvalid
	}
	if token.Expired(now) {
		delete(s.resetTokens, tokenHash)
		return nil, store.ErrTokenInvalid
	}
	if token.Used() {
		return nil, store.ErrTokenInvalid
	}

	id, ok := s.emailIndex[token.Email]
	if !ok {
		return nil, store.ErrTokenInvalid
	}
	user := s.users[id]

	store.UserUpdate{PasswordHash: &passwordHash}.Apply(user, now)
	usedAt := now
	token.UsedAt = &usedAt
	token.UpdatedAt = now

	return user.Clone(), nil
}

// DeleteExpiredResetTokens removes tokens past expiry and tokens already consumed.
func (s *Store) DeleteExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var removed int64
	for hash, token := range s.resetTokens {
		if token.Expired(now) || token.Used() {
			delete(s.resetTokens, hash)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("memory store closed: %w", store.ErrUnavailable)
	}
	return nil
}
