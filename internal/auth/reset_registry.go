package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/accessd/internal/models"
	"github.com/charlesng35/accessd/internal/store"
	"github.com/charlesng35/accessd/pkg/crypto"
	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/metrics"
)

const (
	// DefaultResetTTL is how long a password reset token stays usable.
	DefaultResetTTL = time.Hour
	// resetTokenBytes gives 256 bits of entropy per token.
	resetTokenBytes = 32
)

// ErrInvalidResetToken covers absent, consumed and expired reset tokens alike.
var ErrInvalidResetToken = errors.New("auth: invalid or expired reset token")

// ResetOption customises the ResetRegistry.
type ResetOption func(*ResetRegistry)

// WithResetTTL overrides the token lifetime.
func WithResetTTL(ttl time.Duration) ResetOption {
	return func(r *ResetRegistry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(now func() time.Time) ResetOption {
	return func(r *ResetRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// ResetRegistry issues single-use password reset tokens. The plaintext token only
// ever leaves through Issue; the store keeps its SHA-256 digest.
type ResetRegistry struct {
	tokens store.ResetTokenStore
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewResetRegistry constructs a registry backed by tokens.
func NewResetRegistry(tokens store.ResetTokenStore, opts ...ResetOption) (*ResetRegistry, error) {
	if tokens == nil {
		return nil, errors.New("reset registry: token store is required")
	}

	r := &ResetRegistry{
		tokens: tokens,
		ttl:    DefaultResetTTL,
		now:    time.Now,
		log:    logger.WithModule("reset_registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TTL reports the lifetime given to new tokens.
func (r *ResetRegistry) TTL() time.Duration {
	return r.ttl
}

// Issue creates a token for email and returns its plaintext form.
func (r *ResetRegistry) Issue(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return "", errors.New("reset registry: email is required")
	}

	token, err := crypto.GenerateToken(resetTokenBytes)
	if err != nil {
		return "", fmt.Errorf("reset registry: generate token: %w", err)
	}

	now := r.now()
	record := &models.PasswordResetToken{
		Email:     email,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: now.Add(r.ttl),
	}
	record.CreatedAt = now
	if err := r.tokens.SaveResetToken(ctx, record); err != nil {
		return "", fmt.Errorf("reset registry: save token: %w", err)
	}

	metrics.ResetTokens.WithLabelValues("issued").Inc()
	return token, nil
}

// Validate returns the email the token was issued for. Expired tokens are evicted.
func (r *ResetRegistry) Validate(ctx context.Context, token string) (string, error) {
	hash, ok := digest(token)
	if !ok {
		return "", ErrInvalidResetToken
	}

	record, err := r.tokens.FindResetToken(ctx, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", r.reject()
	case err != nil:
		return "", fmt.Errorf("reset registry: find token: %w", err)
	}

	now := r.now()
	if record.Expired(now) {
		if err := r.tokens.DeleteResetToken(ctx, hash); err != nil {
			r.log.Warn("failed to evict expired reset token", zap.Error(err))
		}
		return "", r.reject()
	}
	if record.Used() {
		return "", r.reject()
	}
	return record.Email, nil
}

// Consume marks the token used and stores passwordHash on its account in one step.
// Of several concurrent calls with the same token exactly one succeeds.
func (r *ResetRegistry) Consume(ctx context.Context, token, passwordHash string) (*models.User, error) {
	hash, ok := digest(token)
	if !ok {
		return nil, ErrInvalidResetToken
	}

	user, err := r.tokens.ConsumeResetToken(ctx, hash, r.now(), passwordHash)
	switch {
	case errors.Is(err, store.ErrTokenInvalid):
		return nil, r.reject()
	case err != nil:
		return nil, fmt.Errorf("reset registry: consume token: %w", err)
	}

	metrics.ResetTokens.WithLabelValues("consumed").Inc()
	return user, nil
}

// Sweep deletes expired and consumed tokens, returning how many were removed.
func (r *ResetRegistry) Sweep(ctx context.Context) (int64, error) {
	removed, err := r.tokens.DeleteExpiredResetTokens(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("reset registry: sweep: %w", err)
	}
	if removed > 0 {
		metrics.ResetTokens.WithLabelValues("swept").Add(float64(removed))
		r.log.Debug("swept reset tokens", zap.Int64("removed", removed))
	}
	return removed, nil
}

func (r *ResetRegistry) reject() error {
	metrics.ResetTokens.WithLabelValues("rejected").Inc()
	return ErrInvalidResetToken
}

func digest(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return crypto.HashToken(token), true
}
