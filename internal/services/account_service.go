package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/internal/models"
	"github.com/charlesng35/accessd/internal/notify"
	"github.com/charlesng35/accessd/internal/store"
	"github.com/charlesng35/accessd/pkg/crypto"
	apperrors "github.com/charlesng35/accessd/pkg/errors"
	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/metrics"
)

// ForgotPasswordMessage is returned for every forgot-password request.
const ForgotPasswordMessage = "If an account exists for this email, a password reset link has been sent."

// Notifier is the part of notify.Dispatcher the account flows rely on.
type Notifier interface {
	Send(ctx context.Context, req notify.Request) notify.Result
	Dispatch(jobs ...notify.Job)
}

// AccountOption customises the AccountService.
type AccountOption func(*AccountService)

// WithResetBaseURL sets the page reset links point at. The token is appended as a
// query parameter.
func WithResetBaseURL(url string) AccountOption {
	return func(s *AccountService) {
		s.resetBaseURL = strings.TrimSpace(url)
	}
}

// PasswordHasher hashes and checks plaintext passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hashedPassword string) bool
}

// WithPasswordHasher overrides the bcrypt hasher.
func WithPasswordHasher(hasher PasswordHasher) AccountOption {
	return func(s *AccountService) {
		if hasher != nil {
			s.hasher = hasher
		}
	}
}

// WithAccountClock injects a custom time source.
func WithAccountClock(now func() time.Time) AccountOption {
	return func(s *AccountService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoginAlerts toggles the login_alert email sent after each successful login.
func WithLoginAlerts(enabled bool) AccountOption {
	return func(s *AccountService) {
		s.loginAlerts = enabled
	}
}

// AccountService implements signup, login, password reset and token verification on
// top of the credential store, reset registry, session tokens and notifier.
type AccountService struct {
	users    store.UserStore
	resets   *auth.ResetRegistry
	tokens   *auth.JWTService
	notifier Notifier
	hasher   PasswordHasher

	resetBaseURL string
	loginAlerts  bool
	now          func() time.Time
	log          *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAccountService wires the account flows.
func NewAccountService(users store.UserStore, resets *auth.ResetRegistry, tokens *auth.JWTService, notifier Notifier, opts ...AccountOption) (*AccountService, error) {
	switch {
	case users == nil:
		return nil, errors.New("account service: user store is required")
	case resets == nil:
		return nil, errors.New("account service: reset registry is required")
	case tokens == nil:
		return nil, errors.New("account service: token service is required")
	case notifier == nil:
		return nil, errors.New("account service: notifier is required")
	}

	svc := &AccountService{
		users:       users,
		resets:      resets,
		tokens:      tokens,
		notifier:    notifier,
		hasher:      crypto.NewPasswordHasher(crypto.MinPasswordCost),
		loginAlerts: true,
		now:         time.Now,
		log:         logger.WithModule("accounts"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SignupInput carries a registration request.
type SignupInput struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,phone_loose"`
	Password string `json:"password" validate:"required,max=72,password_strength"`
}

// LoginInput carries a login request. ClientIP is filled in by the transport.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	ClientIP string `json:"-"`
}

// ForgotPasswordInput carries a reset link request.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordInput carries a new password and the reset token authorising it.
type ResetPasswordInput struct {
	Token    string `json:"token"`
	Password string `json:"password" validate:"required,max=72,password_strength"`
}

// NotifyInput is a direct notification request.
type NotifyInput struct {
	Channel string         `json:"channel" validate:"required,oneof=email sms"`
	To      string         `json:"to" validate:"required,max=254"`
	Name    string         `json:"name" validate:"max=100"`
	Type    string         `json:"type" validate:"required"`
	Data    map[string]any `json:"data"`
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// ForgotPasswordResult has the same shape whether or not the account exists.
type ForgotPasswordResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Signup registers a local account, issues a session token and queues the welcome
// notifications.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = models.NormalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	if err := validate(in); err != nil {
		metrics.AuthAttempts.WithLabelValues("signup", "invalid").Inc()
		return nil, err
	}

	if _, err := s.users.FindUserByEmail(ctx, in.Email); err == nil {
		metrics.AuthAttempts.WithLabelValues("signup", "duplicate").Inc()
		return nil, apperrors.ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storageError(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("hash password: %w", err))
	}

	user := &models.User{
		Name:         in.Name,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		IsActive:     true,
		Provider:     models.ProviderLocal,
	}
	if err := s.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			metrics.AuthAttempts.WithLabelValues("signup", "duplicate").Inc()
			return nil, apperrors.ErrDuplicateEmail
		}
		return nil, storageError(err)
	}

	result, err := s.authResult(user)
	if err != nil {
		return nil, err
	}

	jobs := []notify.Job{{Channel: notify.ChannelEmail, To: user.Email, Name: user.Name, Type: notify.TypeWelcome}}
	if user.Phone != "" {
		jobs = append(jobs, notify.Job{Channel: notify.ChannelSMS, To: user.Phone, Name: user.Name, Type: notify.TypeWelcome})
	}
	s.notifier.Dispatch(jobs...)

	metrics.AuthAttempts.WithLabelValues("signup", "success").Inc()
	s.log.Info("account created", zap.String("user_id", user.ID))
	return result, nil
}

// Login authenticates an email and password pair.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = models.NormalizeEmail(in.Email)
	if err := validate(in); err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "invalid").Inc()
		return nil, err
	}

	user, err := s.users.FindUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same bcrypt work as a real comparison.
			s.hasher.Verify(in.Password, s.dummy())
			metrics.AuthAttempts.WithLabelValues("login", "unknown_account").Inc()
			return nil, apperrors.ErrNoSuchAccount
		}
		return nil, storageError(err)
	}

	if !user.IsActive {
		metrics.AuthAttempts.WithLabelValues("login", "deactivated").Inc()
		return nil, apperrors.ErrAccountDeactivated
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		metrics.AuthAttempts.WithLabelValues("login", "invalid_password").Inc()
		return nil, apperrors.ErrInvalidPassword
	}

	now := s.now()
	if updated, err := s.users.UpdateUser(ctx, user.ID, store.UserUpdate{LastLoginAt: &now}); err != nil {
		s.log.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user = updated
	}

	result, err := s.authResult(user)
	if err != nil {
		return nil, err
	}

	if s.loginAlerts {
		data := map[string]any{"time": now.UTC().Format("02 Jan 2006 15:04 MST")}
		if in.ClientIP != "" {
			data["ip"] = in.ClientIP
		}
		s.notifier.Dispatch(notify.Job{
			Channel: notify.ChannelEmail,
			To:      user.Email,
			Name:    user.Name,
			Type:    notify.TypeLoginAlert,
			Data:    data,
		})
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	return result, nil
}

// ForgotPassword issues a reset token when the account exists. The response never
// reveals whether it did.
func (s *AccountService) ForgotPassword(ctx context.Context, in ForgotPasswordInput) (*ForgotPasswordResult, error) {
	in.Email = models.NormalizeEmail(in.Email)
	if err := validate(in); err != nil {
		return nil, err
	}

	result := &ForgotPasswordResult{Success: true, Message: ForgotPasswordMessage}

	user, err := s.users.FindUserByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return result, nil
	case err != nil:
		s.log.Warn("forgot password lookup failed", zap.Error(err))
		return result, nil
	case !user.IsActive:
		return result, nil
	}

	token, err := s.resets.Issue(ctx, user.Email)
	if err != nil {
		s.log.Error("failed to issue reset token", zap.String("user_id", user.ID), zap.Error(err))
		return result, nil
	}

	s.notifier.Dispatch(notify.Job{
		Channel: notify.ChannelEmail,
		To:      user.Email,
		Name:    user.Name,
		Type:    notify.TypePasswordReset,
		Data: map[string]any{
			"reset_url":  s.resetLink(token),
			"expires_in": humanDuration(s.resets.TTL()),
		},
	})
	return result, nil
}

// ResetPassword consumes token and sets the new password on its account.
func (s *AccountService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	in.Token = strings.TrimSpace(in.Token)
	if err := validate(in); err != nil {
		metrics.AuthAttempts.WithLabelValues("reset", "invalid").Inc()
		return err
	}
	if in.Token == "" {
		metrics.AuthAttempts.WithLabelValues("reset", "invalid_token").Inc()
		return apperrors.ErrInvalidOrExpiredToken
	}

	// Fail unknown, used or expired tokens before paying for bcrypt. Consume still
	// decides, since the token may be spent between the two calls.
	if _, err := s.resets.Validate(ctx, in.Token); err != nil {
		if errors.Is(err, auth.ErrInvalidResetToken) {
			metrics.AuthAttempts.WithLabelValues("reset", "invalid_token").Inc()
			return apperrors.ErrInvalidOrExpiredToken
		}
		return storageError(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("hash password: %w", err))
	}

	user, err := s.resets.Consume(ctx, in.Token, hash)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidResetToken) {
			metrics.AuthAttempts.WithLabelValues("reset", "invalid_token").Inc()
			return apperrors.ErrInvalidOrExpiredToken
		}
		return storageError(err)
	}

	metrics.AuthAttempts.WithLabelValues("reset", "success").Inc()
	s.log.Info("password reset", zap.String("user_id", user.ID))
	return nil
}

// VerifyToken decodes a session token.
func (s *AccountService) VerifyToken(token string) (*auth.Identity, error) {
	identity, err := s.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return nil, apperrors.ErrInvalidSession
	}
	return identity, nil
}

// CurrentUser loads the account behind an authenticated session.
func (s *AccountService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrInvalidSession
		}
		return nil, storageError(err)
	}
	if !user.IsActive {
		return nil, apperrors.ErrAccountDeactivated
	}
	return user, nil
}

// Notify delivers one notification synchronously and reports its outcome.
func (s *AccountService) Notify(ctx context.Context, in NotifyInput) (notify.Result, error) {
	in.To = strings.TrimSpace(in.To)
	if err := validate(in); err != nil {
		return notify.Result{}, err
	}
	typ := notify.Type(in.Type)
	if !typ.Valid() {
		return notify.Result{}, apperrors.NewValidation("type is not a known notification type", map[string]string{"type": "type is not a known notification type"})
	}

	result := s.notifier.Send(ctx, notify.Request{
		Channel: notify.Channel(in.Channel),
		To:      in.To,
		Name:    strings.TrimSpace(in.Name),
		Type:    typ,
		Data:    in.Data,
	})
	if !result.Success {
		return result, apperrors.ErrNotificationFailed.WithInternal(errors.New(result.Error))
	}
	return result, nil
}

func (s *AccountService) authResult(user *models.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return &AuthResult{
		User:      user,
		Token:     token,
		ExpiresAt: s.now().Add(s.tokens.TTL()),
	}, nil
}

func (s *AccountService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("accessd-timing-equaliser-0")
		if err != nil {
			s.log.Warn("failed to prepare timing hash", zap.Error(err))
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func (s *AccountService) resetLink(token string) string {
	if s.resetBaseURL == "" {
		return token
	}
	sep := "?"
	if strings.Contains(s.resetBaseURL, "?") {
		sep = "&"
	}
	return s.resetBaseURL + sep + "token=" + token
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
