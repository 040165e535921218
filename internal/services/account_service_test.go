package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/internal/notify"
	"github.com/charlesng35/accessd/internal/store"
	"github.com/charlesng35/accessd/internal/store/memory"
	"github.com/charlesng35/accessd/pkg/crypto"
	apperrors "github.com/charlesng35/accessd/pkg/errors"
)

type recordingNotifier struct {
	mu     sync.Mutex
	jobs   []notify.Job
	sent   []notify.Request
	result notify.Result
}

func (n *recordingNotifier) Send(_ context.Context, req notify.Request) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
	return n.result
}

func (n *recordingNotifier) Dispatch(jobs ...notify.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, jobs...)
}

func (n *recordingNotifier) jobsOfType(typ notify.Type) []notify.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Job
	for _, job := range n.jobs {
		if job.Type == typ {
			out = append(out, job)
		}
	}
	return out
}

type countingHasher struct {
	PasswordHasher
	hashes atomic.Int32
}

func (h *countingHasher) Hash(password string) (string, error) {
	h.hashes.Add(1)
	return h.PasswordHasher.Hash(password)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type accountFixture struct {
	svc      *AccountService
	store    *memory.Store
	notifier *recordingNotifier
	clock    *testClock
}

func newAccountFixture(t *testing.T, notifier Notifier) *accountFixture {
	t.Helper()

	clk := &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	st := memory.New(memory.WithClock(clk.Now))

	resets, err := auth.NewResetRegistry(st, auth.WithResetClock(clk.Now))
	require.NoError(t, err)
	tokens, err := auth.NewJWTService(auth.JWTConfig{Secret: "test-secret", Issuer: "accessd", Clock: clk.Now})
	require.NoError(t, err)

	recorder, _ := notifier.(*recordingNotifier)
	if notifier == nil {
		recorder = &recordingNotifier{}
		notifier = recorder
	}

	svc, err := NewAccountService(st, resets, tokens, notifier,
		WithAccountClock(clk.Now),
		WithResetBaseURL("https://kisan.example/reset"),
	)
	require.NoError(t, err)

	return &accountFixture{svc: svc, store: st, notifier: recorder, clock: clk}
}

func (f *accountFixture) signupAsha(t *testing.T) *AuthResult {
	t.Helper()
	result, err := f.svc.Signup(context.Background(), SignupInput{
		Name:     "Asha",
		Email:    "asha@test.io",
		Phone:    "+911234567890",
		Password: "Passw0rd1",
	})
	require.NoError(t, err)
	return result
}

func (f *accountFixture) requestReset(t *testing.T) string {
	t.Helper()
	_, err := f.svc.ForgotPassword(context.Background(), ForgotPasswordInput{Email: "asha@test.io"})
	require.NoError(t, err)

	jobs := f.notifier.jobsOfType(notify.TypePasswordReset)
	require.NotEmpty(t, jobs)
	link, err := url.Parse(jobs[len(jobs)-1].Data["reset_url"].(string))
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestNewAccountServiceRequiresDependencies(t *testing.T) {
	_, err := NewAccountService(nil, nil, nil, nil)
	require.Error(t, err)
}

func TestSignupAndDuplicateEmail(t *testing.T) {
	f := newAccountFixture(t, nil)

	result := f.signupAsha(t)
	require.Equal(t, "asha@test.io", result.User.Email)
	require.NotEmpty(t, result.Token)
	require.NotEqual(t, "Passw0rd1", result.User.PasswordHash)
	require.True(t, result.User.IsActive)
	require.True(t, result.ExpiresAt.Equal(f.clock.Now().Add(auth.DefaultSessionTTL)))

	welcome := f.notifier.jobsOfType(notify.TypeWelcome)
	require.Len(t, welcome, 2)
	require.Equal(t, notify.ChannelEmail, welcome[0].Channel)
	require.Equal(t, "asha@test.io", welcome[0].To)
	require.Equal(t, notify.ChannelSMS, welcome[1].Channel)
	require.Equal(t, "+911234567890", welcome[1].To)

	_, err := f.svc.Signup(context.Background(), SignupInput{
		Name:     "Asha",
		Email:    "ASHA@TEST.IO ",
		Password: "Passw0rd1",
	})
	require.ErrorIs(t, err, apperrors.ErrDuplicateEmail)

	count, err := f.store.CountUsers(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSignupWithoutPhoneSendsEmailOnly(t *testing.T) {
	f := newAccountFixture(t, nil)

	_, err := f.svc.Signup(context.Background(), SignupInput{Name: "Ravi", Email: "ravi@test.io", Password: "Passw0rd1"})
	require.NoError(t, err)

	welcome := f.notifier.jobsOfType(notify.TypeWelcome)
	require.Len(t, welcome, 1)
	require.Equal(t, notify.ChannelEmail, welcome[0].Channel)
}

func TestSignupValidation(t *testing.T) {
	f := newAccountFixture(t, nil)

	_, err := f.svc.Signup(context.Background(), SignupInput{
		Name:     "A",
		Email:    "not-an-email",
		Phone:    "call me",
		Password: "weak",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	require.Contains(t, appErr.Fields, "name")
	require.Contains(t, appErr.Fields, "email")
	require.Contains(t, appErr.Fields, "phone")
	require.Contains(t, appErr.Fields, "password")
	require.Empty(t, f.notifier.jobs)
}

func TestLoginOutcomes(t *testing.T) {
	f := newAccountFixture(t, nil)
	signup := f.signupAsha(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginInput{Email: "asha@test.io", Password: "WrongPass1"})
	require.ErrorIs(t, err, apperrors.ErrInvalidPassword)

	_, err = f.svc.Login(ctx, LoginInput{Email: "nobody@test.io", Password: "Passw0rd1"})
	require.ErrorIs(t, err, apperrors.ErrNoSuchAccount)

	_, err = f.svc.Login(ctx, LoginInput{Email: "bad", Password: "Passw0rd1"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	f.clock.Advance(time.Minute)
	result, err := f.svc.Login(ctx, LoginInput{Email: " Asha@Test.io", Password: "Passw0rd1", ClientIP: "10.0.0.7"})
	require.NoError(t, err)
	require.Equal(t, signup.User.ID, result.User.ID)
	require.NotEmpty(t, result.Token)
	require.NotNil(t, result.User.LastLoginAt)
	require.True(t, result.User.LastLoginAt.Equal(f.clock.Now()))

	alerts := f.notifier.jobsOfType(notify.TypeLoginAlert)
	require.Len(t, alerts, 1)
	require.Equal(t, "10.0.0.7", alerts[0].Data["ip"])
}

func TestLoginDeactivatedAccount(t *testing.T) {
	f := newAccountFixture(t, nil)
	signup := f.signupAsha(t)

	inactive := false
	_, err := f.store.UpdateUser(context.Background(), signup.User.ID, store.UserUpdate{IsActive: &inactive})
	require.NoError(t, err)

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "asha@test.io", Password: "Passw0rd1"})
	require.ErrorIs(t, err, apperrors.ErrAccountDeactivated)
}

func TestForgotPasswordSameResponseShape(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)
	ctx := context.Background()

	exists, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "asha@test.io"})
	require.NoError(t, err)
	missing, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "nope@x.com"})
	require.NoError(t, err)

	require.Equal(t, exists, missing)
	require.True(t, exists.Success)
	require.Equal(t, ForgotPasswordMessage, exists.Message)

	resets := f.notifier.jobsOfType(notify.TypePasswordReset)
	require.Len(t, resets, 1)
	require.Equal(t, "asha@test.io", resets[0].To)
	require.Equal(t, "1 hour", resets[0].Data["expires_in"])

	_, err = f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "not-an-email"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestResetPasswordFlow(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)
	ctx := context.Background()

	token := f.requestReset(t)
	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, Password: "NewPass1x"}))

	_, err := f.svc.Login(ctx, LoginInput{Email: "asha@test.io", Password: "NewPass1x"})
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, LoginInput{Email: "asha@test.io", Password: "Passw0rd1"})
	require.ErrorIs(t, err, apperrors.ErrInvalidPassword)

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, Password: "Another1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)

	token := f.requestReset(t)
	f.clock.Advance(time.Hour + time.Second)

	err := f.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: token, Password: "NewPass1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestResetPasswordRejectsBadInput(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)
	ctx := context.Background()

	token := f.requestReset(t)
	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, Password: "weak"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "  ", Password: "NewPass1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "made-up", Password: "NewPass1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)

	// The weak attempt must not have burnt the token.
	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, Password: "NewPass1x"}))
}

func TestResetPasswordSkipsHashingForDeadTokens(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)
	ctx := context.Background()

	hasher := &countingHasher{PasswordHasher: crypto.NewPasswordHasher(crypto.MinPasswordCost)}
	WithPasswordHasher(hasher)(f.svc)

	err := f.svc.ResetPassword(ctx, ResetPasswordInput{Token: "made-up", Password: "NewPass1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
	require.Zero(t, hasher.hashes.Load())

	token := f.requestReset(t)
	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, Password: "NewPass1x"}))
	require.EqualValues(t, 1, hasher.hashes.Load())

	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: token, Password: "Another1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
	require.EqualValues(t, 1, hasher.hashes.Load(), "used token")

	stale := f.requestReset(t)
	f.clock.Advance(2 * time.Hour)
	err = f.svc.ResetPassword(ctx, ResetPasswordInput{Token: stale, Password: "Another1x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
	require.EqualValues(t, 1, hasher.hashes.Load(), "expired token")
}

func TestResetPasswordConcurrentConsumers(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)
	token := f.requestReset(t)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.ResetPassword(context.Background(), ResetPasswordInput{Token: token, Password: "NewPass1x"})
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
	}
	require.Equal(t, 1, successes)
}

func TestVerifyToken(t *testing.T) {
	f := newAccountFixture(t, nil)
	signup := f.signupAsha(t)

	identity, err := f.svc.VerifyToken(signup.Token)
	require.NoError(t, err)
	require.Equal(t, signup.User.ID, identity.UserID)
	require.Equal(t, "asha@test.io", identity.Email)
	require.Equal(t, "Asha", identity.Name)

	_, err = f.svc.VerifyToken("garbage")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, http.StatusUnauthorized, appErr.StatusCode)

	f.clock.Advance(auth.DefaultSessionTTL + time.Second)
	_, err = f.svc.VerifyToken(signup.Token)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestNotify(t *testing.T) {
	notifier := &recordingNotifier{result: notify.Result{Success: true, MessageID: "m-1"}}
	f := newAccountFixture(t, notifier)
	ctx := context.Background()

	result, err := f.svc.Notify(ctx, NotifyInput{
		Channel: "sms",
		To:      " +911234567890 ",
		Name:    "Asha",
		Type:    "weather_alert",
		Data:    map[string]any{"location": "Nashik", "condition": "Hail"},
	})
	require.NoError(t, err)
	require.Equal(t, "m-1", result.MessageID)
	require.Len(t, notifier.sent, 1)
	require.Equal(t, "+911234567890", notifier.sent[0].To)
	require.Equal(t, notify.TypeWeatherAlert, notifier.sent[0].Type)

	_, err = f.svc.Notify(ctx, NotifyInput{Channel: "fax", To: "x", Type: "welcome"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = f.svc.Notify(ctx, NotifyInput{Channel: "email", To: "asha@test.io", Type: "harvest_party"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	notifier.result = notify.Result{Success: false, Error: "gateway down"}
	result, err = f.svc.Notify(ctx, NotifyInput{Channel: "email", To: "asha@test.io", Type: "welcome"})
	require.ErrorIs(t, err, apperrors.ErrNotificationFailed)
	require.Equal(t, "gateway down", result.Error)
}

type failingSender struct{}

func (failingSender) SendEmail(context.Context, notify.EmailMessage) (notify.Receipt, error) {
	return notify.Receipt{}, errors.New("smtp unreachable")
}

func (failingSender) SendSMS(context.Context, string, string) (notify.Receipt, error) {
	return notify.Receipt{}, errors.New("sms gateway unreachable")
}

func TestSignupSucceedsWhenNotificationsFail(t *testing.T) {
	var (
		mu      sync.Mutex
		results []notify.Result
	)
	dispatcher, err := notify.NewDispatcher(
		notify.WithEmailSender(failingSender{}),
		notify.WithSMSSender(failingSender{}),
		notify.OnResult(func(_ notify.Job, r notify.Result) {
			mu.Lock()
			defer mu.Unlock()
			results = append(results, r)
		}),
	)
	require.NoError(t, err)

	f := newAccountFixture(t, dispatcher)
	result := f.signupAsha(t)
	require.NotEmpty(t, result.Token)

	_, err = f.svc.Login(context.Background(), LoginInput{Email: "asha@test.io", Password: "Passw0rd1"})
	require.NoError(t, err)

	require.NoError(t, dispatcher.Wait(context.Background()))
	require.Len(t, results, 3)
	for _, r := range results {
		require.False(t, r.Success)
		require.NotEmpty(t, r.Error)
	}
}

func TestStorageUnavailable(t *testing.T) {
	f := newAccountFixture(t, nil)
	f.signupAsha(t)
	require.NoError(t, f.store.Close())
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, SignupInput{Name: "Ravi", Email: "ravi@test.io", Password: "Passw0rd1"})
	require.ErrorIs(t, err, apperrors.ErrStorageUnavailable)

	_, err = f.svc.Login(ctx, LoginInput{Email: "asha@test.io", Password: "Passw0rd1"})
	require.ErrorIs(t, err, apperrors.ErrStorageUnavailable)

	forgot, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "asha@test.io"})
	require.NoError(t, err)
	require.Equal(t, ForgotPasswordMessage, forgot.Message)
}

func TestCurrentUser(t *testing.T) {
	f := newAccountFixture(t, nil)
	signup := f.signupAsha(t)
	ctx := context.Background()

	user, err := f.svc.CurrentUser(ctx, signup.User.ID)
	require.NoError(t, err)
	require.Equal(t, "asha@test.io", user.Email)

	_, err = f.svc.CurrentUser(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)

	inactive := false
	_, err = f.store.UpdateUser(ctx, signup.User.ID, store.UserUpdate{IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.svc.CurrentUser(ctx, signup.User.ID)
	require.ErrorIs(t, err, apperrors.ErrAccountDeactivated)
}
