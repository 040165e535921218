package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accessd/internal/models"
	"github.com/charlesng35/accessd/internal/store/memory"
	"github.com/charlesng35/accessd/pkg/crypto"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T) (*ResetRegistry, *memory.Store, *clock) {
	t.Helper()

	clk := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := memory.New(memory.WithClock(clk.Now))
	require.NoError(t, st.InsertUser(context.Background(), &models.User{
		Name:         "Asha",
		Email:        "asha@test.io",
		PasswordHash: "old-hash",
		IsActive:     true,
		Provider:     models.ProviderLocal,
	}))

	registry, err := NewResetRegistry(st, WithResetClock(clk.Now))
	require.NoError(t, err)
	return registry, st, clk
}

func TestNewResetRegistryRequiresStore(t *testing.T) {
	_, err := NewResetRegistry(nil)
	require.Error(t, err)
}

func TestResetRegistryIssueStoresDigestOnly(t *testing.T) {
	registry, st, clk := newTestRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, " ASHA@test.io ")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = st.FindResetToken(ctx, token)
	require.Error(t, err, "plaintext token must not be a lookup key")

	record, err := st.FindResetToken(ctx, crypto.HashToken(token))
	require.NoError(t, err)
	require.Equal(t, "asha@test.io", record.Email)
	require.False(t, record.Used())
	require.True(t, record.ExpiresAt.Equal(clk.Now().Add(time.Hour)))

	second, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)
	require.NotEqual(t, token, second)
}

func TestResetRegistryValidate(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)

	email, err := registry.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "asha@test.io", email)

	_, err = registry.Validate(ctx, "unknown")
	require.ErrorIs(t, err, ErrInvalidResetToken)
	_, err = registry.Validate(ctx, "  ")
	require.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestResetRegistryExpiry(t *testing.T) {
	registry, st, clk := newTestRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	_, err = registry.Validate(ctx, token)
	require.NoError(t, err, "token is still valid at exactly expiresAt")

	clk.Advance(time.Second)
	_, err = registry.Validate(ctx, token)
	require.ErrorIs(t, err, ErrInvalidResetToken)

	_, err = st.FindResetToken(ctx, crypto.HashToken(token))
	require.Error(t, err, "expired token should be evicted on touch")

	_, err = registry.Consume(ctx, token, "new-hash")
	require.ErrorIs(t, err, ErrInvalidResetToken)

	user, err := st.FindUserByEmail(ctx, "asha@test.io")
	require.NoError(t, err)
	require.Equal(t, "old-hash", user.PasswordHash)
}

func TestResetRegistryConsumeOnce(t *testing.T) {
	registry, st, _ := newTestRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)

	user, err := registry.Consume(ctx, token, "new-hash")
	require.NoError(t, err)
	require.Equal(t, "new-hash", user.PasswordHash)

	_, err = registry.Consume(ctx, token, "newer-hash")
	require.ErrorIs(t, err, ErrInvalidResetToken)

	_, err = registry.Validate(ctx, token)
	require.ErrorIs(t, err, ErrInvalidResetToken)

	stored, err := st.FindUserByEmail(ctx, "asha@test.io")
	require.NoError(t, err)
	require.Equal(t, "new-hash", stored.PasswordHash)
}

func TestResetRegistryConcurrentConsume(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	token, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)

	const attempts = 16
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Consume(ctx, token, "new-hash")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidResetToken)
	}
	require.Equal(t, 1, successes)
}

func TestResetRegistrySweep(t *testing.T) {
	registry, st, clk := newTestRegistry(t)
	ctx := context.Background()

	stale, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	fresh, err := registry.Issue(ctx, "asha@test.io")
	require.NoError(t, err)
	clk.Advance(45 * time.Minute)

	removed, err := registry.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = st.FindResetToken(ctx, crypto.HashToken(stale))
	require.Error(t, err)
	_, err = registry.Validate(ctx, fresh)
	require.NoError(t, err)
}

func TestWithResetTTL(t *testing.T) {
	registry, err := NewResetRegistry(memory.New(), WithResetTTL(10*time.Minute), WithResetTTL(0))
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, registry.TTL())
}
