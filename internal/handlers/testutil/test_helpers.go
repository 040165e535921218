package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/accessd/internal/api"
	"github.com/charlesng35/accessd/internal/app"
	iauth "github.com/charlesng35/accessd/internal/auth"
	"github.com/charlesng35/accessd/internal/middleware"
	"github.com/charlesng35/accessd/internal/notify"
	"github.com/charlesng35/accessd/internal/services"
	"github.com/charlesng35/accessd/internal/store/memory"
	"github.com/charlesng35/accessd/pkg/response"
)

// ResetBaseURL is the page reset links point at in test environments.
const ResetBaseURL = "https://app.kisan.test/reset"

var resetTokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_\-]+)`)

// Env encapsulates a fully-wired API instance backed by the in-memory store for handler tests.
type Env struct {
	T          *testing.T
	Store      *memory.Store
	Router     *gin.Engine
	JWT        *iauth.JWTService
	Accounts   *services.AccountService
	Dispatcher *notify.Dispatcher
	Outbox     *Outbox
	Config     *app.Config
}

// NewEnv provisions a fresh handler test environment. Options adjust the config before wiring.
func NewEnv(t *testing.T, opts ...func(*app.Config)) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	cfg := &app.Config{
		Server: app.ServerConfig{Port: 8000},
		Database: app.DatabaseConfig{
			Driver: "memory",
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Reset: app.ResetSettings{
				TTL:     time.Hour,
				BaseURL: ResetBaseURL,
			},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st := memory.New()

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	resets, err := iauth.NewResetRegistry(st, cfg.Auth.ResetOptions()...)
	require.NoError(t, err)

	outbox := &Outbox{}
	dispatcher, err := notify.NewDispatcher(
		notify.WithEmailSender(outbox),
		notify.WithSMSSender(outbox),
		notify.WithTimeout(time.Second),
	)
	require.NoError(t, err)

	accounts, err := services.NewAccountService(st, resets, jwtSvc, dispatcher,
		services.WithResetBaseURL(cfg.Auth.Reset.BaseURL),
		services.WithLoginAlerts(cfg.Auth.LoginAlerts),
	)
	require.NoError(t, err)

	router, err := api.NewRouter(accounts, jwtSvc, st, cfg, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Wait(ctx)
	})

	return &Env{
		T:          t,
		Store:      st,
		Router:     router,
		JWT:        jwtSvc,
		Accounts:   accounts,
		Dispatcher: dispatcher,
		Outbox:     outbox,
		Config:     cfg,
	}
}

// OutboxMessage is one delivery captured by the Outbox.
type OutboxMessage struct {
	Channel notify.Channel
	To      string
	Subject string
	Body    string
}

// Outbox records every email and SMS instead of delivering them.
type Outbox struct {
	mu       sync.Mutex
	messages []OutboxMessage
	fail     bool
}

// Fail makes every subsequent delivery return an error.
func (o *Outbox) Fail(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = enabled
}

// SendEmail implements notify.EmailSender.
func (o *Outbox) SendEmail(_ context.Context, msg notify.EmailMessage) (notify.Receipt, error) {
	return o.record(OutboxMessage{Channel: notify.ChannelEmail, To: msg.To, Subject: msg.Subject, Body: msg.Text})
}

// SendSMS implements notify.SMSSender.
func (o *Outbox) SendSMS(_ context.Context, to, body string) (notify.Receipt, error) {
	return o.record(OutboxMessage{Channel: notify.ChannelSMS, To: to, Body: body})
}

func (o *Outbox) record(msg OutboxMessage) (notify.Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return notify.Receipt{}, errors.New("outbox: provider rejected message")
	}
	o.messages = append(o.messages, msg)
	return notify.Receipt{MessageID: "test-" + uuid.NewString()}, nil
}

// Messages returns a snapshot of captured deliveries.
func (o *Outbox) Messages() []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]OutboxMessage, len(o.messages))
	copy(out, o.messages)
	return out
}

// Flush waits for background notifications to finish.
func (e *Env) Flush() {
	e.T.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(e.T, e.Dispatcher.Wait(ctx))
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	IsActive bool   `json:"is_active"`
}

// AuthPayload mirrors the signup and login response payload.
type AuthPayload struct {
	User      UserPayload `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Signup registers an account through the API and returns the issued session.
func (e *Env) Signup(name, email, phone, password string) AuthPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/signup", map[string]string{
		"name":     name,
		"email":    email,
		"phone":    phone,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result AuthPayload
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// ResetToken requests a reset link for email and extracts the token from the captured email.
func (e *Env) ResetToken(email string) string {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": email}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	e.Flush()

	messages := e.Outbox.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Channel != notify.ChannelEmail || msg.To != email {
			continue
		}
		if match := resetTokenPattern.FindStringSubmatch(msg.Body); match != nil {
			return match[1]
		}
	}
	e.T.Fatalf("no reset link delivered to %s", email)
	return ""
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	switch v := body.(type) {
	case nil:
		buf = bytes.NewBuffer(nil)
	case string:
		buf = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, buf)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
