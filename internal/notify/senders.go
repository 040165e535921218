package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/accessd/pkg/logger"
	"github.com/charlesng35/accessd/pkg/mail"
)

// Receipt identifies a message accepted by a provider.
type Receipt struct {
	MessageID string
}

// EmailMessage is a rendered email for one recipient.
type EmailMessage struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailSender delivers rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error)
}

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (Receipt, error)
}

// SMTPEmailSender delivers email through a pkg/mail Mailer.
type SMTPEmailSender struct {
	mailer mail.Mailer
}

// NewSMTPEmailSender wraps mailer.
func NewSMTPEmailSender(mailer mail.Mailer) (*SMTPEmailSender, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}
	return &SMTPEmailSender{mailer: mailer}, nil
}

// SendEmail implements EmailSender.
func (s *SMTPEmailSender) SendEmail(ctx context.Context, msg EmailMessage) (Receipt, error) {
	id, err := s.mailer.Send(ctx, mail.Message{
		To:       []string{msg.To},
		Subject:  msg.Subject,
		Body:     msg.Text,
		HTMLBody: msg.HTML,
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{MessageID: id}, nil
}

// HTTPSMSConfig configures an HTTP SMS gateway.
type HTTPSMSConfig struct {
	URL      string
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// HTTPSMSSender posts messages to a form-encoded HTTP SMS gateway.
type HTTPSMSSender struct {
	cfg    HTTPSMSConfig
	client *http.Client
}

// NewHTTPSMSSender validates cfg and builds a sender. A nil client gets one with
// cfg.Timeout applied.
func NewHTTPSMSSender(cfg HTTPSMSConfig, client *http.Client) (*HTTPSMSSender, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("sms: gateway url is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("sms: invalid gateway url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSMSSender{cfg: cfg, client: client}, nil
}

type gatewayResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

// SendSMS implements SMSSender.
func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) (Receipt, error) {
	form := url.Values{}
	form.Set("to", strings.TrimSpace(to))
	form.Set("body", body)
	if s.cfg.From != "" {
		form.Set("from", s.cfg.From)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return Receipt{}, fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("sms: request: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, fmt.Errorf("sms: gateway returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded gatewayResponse
	if err := json.Unmarshal(payload, &decoded); err == nil {
		if decoded.MessageID != "" {
			return Receipt{MessageID: decoded.MessageID}, nil
		}
		if decoded.ID != "" {
			return Receipt{MessageID: decoded.ID}, nil
		}
	}
	return Receipt{MessageID: uuid.NewString()}, nil
}

// LogSender writes notifications to the log instead of delivering them. It stands in
// for channels that are not configured.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender returns a LogSender logging under the notify module.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.WithModule("notify")}
}

// SendEmail implements EmailSender.
func (s *LogSender) SendEmail(_ context.Context, msg EmailMessage) (Receipt, error) {
	id := "log-" + uuid.NewString()
	s.log.Info("email delivery skipped, channel not configured",
		zap.String("message_id", id),
		zap.String("to", maskRecipient(msg.To)),
		zap.String("subject", msg.Subject),
	)
	return Receipt{MessageID: id}, nil
}

// SendSMS implements SMSSender.
func (s *LogSender) SendSMS(_ context.Context, to, body string) (Receipt, error) {
	id := "log-" + uuid.NewString()
	s.log.Info("sms delivery skipped, channel not configured",
		zap.String("message_id", id),
		zap.String("to", maskRecipient(to)),
		zap.Int("length", len(body)),
	)
	return Receipt{MessageID: id}, nil
}
