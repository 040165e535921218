// Package storetest holds behaviour checks shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accessd/internal/models"
	"github.com/charlesng35/accessd/internal/store"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the full store contract against the implementation built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, newStore(t)) })
	t.Run("DuplicateEmail", func(t *testing.T) { testDuplicateEmail(t, newStore(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("UpdateUser", func(t *testing.T) { testUpdateUser(t, newStore(t)) })
	t.Run("ConsumeOnce", func(t *testing.T) { testConsumeOnce(t, newStore(t)) })
	t.Run("ConsumeExpired", func(t *testing.T) { testConsumeExpired(t, newStore(t)) })
	t.Run("ConcurrentConsume", func(t *testing.T) { testConcurrentConsume(t, newStore(t)) })
	t.Run("DeleteExpired", func(t *testing.T) { testDeleteExpired(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newUser(email string) *models.User {
	return &models.User{
		Name:         "Asha",
		Email:        email,
		Phone:        "+911234567890",
		PasswordHash: "hash-1",
		IsActive:     true,
		Provider:     models.ProviderLocal,
	}
}

func saveToken(t *testing.T, s store.Store, hash, email string, expires time.Time) {
	t.Helper()
	require.NoError(t, s.SaveResetToken(context.Background(), &models.PasswordResetToken{
		Email:     email,
		TokenHash: hash,
		ExpiresAt: expires,
	}))
}

func testInsertAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser("  Asha@Test.io ")
	require.NoError(t, s.InsertUser(ctx, user))
	require.NotEmpty(t, user.ID)
	require.Equal(t, "asha@test.io", user.Email)

	found, err := s.FindUserByEmail(ctx, "ASHA@TEST.IO")
	require.NoError(t, err)
	require.Equal(t, user.ID, found.ID)
	require.Equal(t, "Asha", found.Name)
	require.True(t, found.IsActive)

	byID, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "asha@test.io", byID.Email)

	_, err = s.FindUserByEmail(ctx, "nope@test.io")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func testDuplicateEmail(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, newUser("asha@test.io")))

	err := s.InsertUser(ctx, newUser("ASHA@TEST.IO "))
	require.ErrorIs(t, err, store.ErrDuplicateEmail)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func testConcurrentInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	variants := []string{
		"asha@test.io", "ASHA@test.io", " asha@test.io", "asha@TEST.IO ",
		"Asha@Test.Io", "\tasha@test.io", "ASHA@TEST.IO", "asha@test.io\n",
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	start := make(chan struct{})
	for _, email := range variants {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			<-start
			err := s.InsertUser(ctx, newUser(email))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrDuplicateEmail):
				duplicates++
			default:
				t.Errorf("unexpected insert error for %q: %v", email, err)
			}
		}(email)
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, len(variants)-1, duplicates)

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func testUpdateUser(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := newUser("asha@test.io")
	require.NoError(t, s.InsertUser(ctx, user))

	name := "Asha K"
	inactive := false
	login := base.Add(time.Minute)
	updated, err := s.UpdateUser(ctx, user.ID, store.UserUpdate{Name: &name, IsActive: &inactive, LastLoginAt: &login})
	require.NoError(t, err)
	require.Equal(t, "Asha K", updated.Name)
	require.False(t, updated.IsActive)
	require.NotNil(t, updated.LastLoginAt)
	require.True(t, login.Equal(*updated.LastLoginAt))
	require.Equal(t, "hash-1", updated.PasswordHash)

	stored, err := s.FindUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "Asha K", stored.Name)
	require.False(t, stored.IsActive)

	_, err = s.UpdateUser(ctx, "missing", store.UserUpdate{Name: &name})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConsumeOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, newUser("asha@test.io")))
	saveToken(t, s, "digest-1", "asha@test.io", base.Add(time.Hour))

	user, err := s.ConsumeResetToken(ctx, "digest-1", base.Add(time.Minute), "hash-2")
	require.NoError(t, err)
	require.Equal(t, "hash-2", user.PasswordHash)

	stored, err := s.FindUserByEmail(ctx, "asha@test.io")
	require.NoError(t, err)
	require.Equal(t, "hash-2", stored.PasswordHash)

	token, err := s.FindResetToken(ctx, "digest-1")
	require.NoError(t, err)
	require.True(t, token.Used())

	_, err = s.ConsumeResetToken(ctx, "digest-1", base.Add(2*time.Minute), "hash-3")
	require.ErrorIs(t, err, store.ErrTokenInvalid)

	_, err = s.ConsumeResetToken(ctx, "unknown", base, "hash-3")
	require.ErrorIs(t, err, store.ErrTokenInvalid)

	stored, err = s.FindUserByEmail(ctx, "asha@test.io")
	require.NoError(t, err)
	require.Equal(t, "hash-2", stored.PasswordHash)
}

func testConsumeExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, newUser("asha@test.io")))
	saveToken(t, s, "digest-1", "asha@test.io", base.Add(time.Hour))

	_, err := s.ConsumeResetToken(ctx, "digest-1", base.Add(time.Hour+time.Second), "hash-2")
	require.ErrorIs(t, err, store.ErrTokenInvalid)

	_, err = s.FindResetToken(ctx, "digest-1")
	require.ErrorIs(t, err, store.ErrNotFound, "stale token should be evicted on touch")

	stored, err := s.FindUserByEmail(ctx, "asha@test.io")
	require.NoError(t, err)
	require.Equal(t, "hash-1", stored.PasswordHash)
}

func testConcurrentConsume(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, newUser("asha@test.io")))
	saveToken(t, s, "digest-1", "asha@test.io", base.Add(time.Hour))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		invalid   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ConsumeResetToken(ctx, "digest-1", base.Add(time.Minute), "hash-2")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrTokenInvalid):
				invalid++
			default:
				t.Errorf("unexpected consume error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, workers-1, invalid)
}

func testDeleteExpired(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertUser(ctx, newUser("asha@test.io")))
	saveToken(t, s, "live", "asha@test.io", base.Add(time.Hour))
	saveToken(t, s, "stale", "asha@test.io", base.Add(-time.Minute))
	saveToken(t, s, "spent", "asha@test.io", base.Add(time.Hour))

	_, err := s.ConsumeResetToken(ctx, "spent", base, "hash-2")
	require.NoError(t, err)

	removed, err := s.DeleteExpiredResetTokens(ctx, base)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	_, err = s.FindResetToken(ctx, "live")
	require.NoError(t, err)
	_, err = s.FindResetToken(ctx, "stale")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteResetToken(ctx, "live"))
	_, err = s.FindResetToken(ctx, "live")
	require.ErrorIs(t, err, store.ErrNotFound)
}
