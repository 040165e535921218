// Package notify renders typed notifications and delivers them over email or SMS.
// Delivery failures are reported as values, never as errors that abort the caller.
package notify

import (
	"fmt"
	"strings"
)

// Channel selects the transport a notification is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Type identifies which template a notification is rendered from.
type Type string

const (
	TypeWelcome            Type = "welcome"
	TypeLoginAlert         Type = "login_alert"
	TypeWeatherAlert       Type = "weather_alert"
	TypeDiseaseAlert       Type = "disease_alert"
	TypeSchemeNotification Type = "scheme_notification"
	TypeActivitySummary    Type = "activity_summary"
	TypePasswordReset      Type = "password_reset"
)

// Types lists every notification type in a stable order.
func Types() []Type {
	return []Type{
		TypeWelcome,
		TypeLoginAlert,
		TypeWeatherAlert,
		TypeDiseaseAlert,
		TypeSchemeNotification,
		TypeActivitySummary,
		TypePasswordReset,
	}
}

// Valid reports whether t has a registered template.
func (t Type) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// Request describes one notification to one recipient.
type Request struct {
	Channel Channel        `json:"channel"`
	To      string         `json:"to"`
	Name    string         `json:"name"`
	Type    Type           `json:"type"`
	Data    map[string]any `json:"data,omitempty"`
}

// Job is a Request handed to the dispatcher for background delivery.
type Job = Request

func (r Request) validate() error {
	if !r.Channel.Valid() {
		return fmt.Errorf("notify: unsupported channel %q", r.Channel)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("notify: unknown notification type %q", r.Type)
	}
	if strings.TrimSpace(r.To) == "" {
		return fmt.Errorf("notify: recipient is required")
	}
	return nil
}

// Result is the observable outcome of a delivery attempt.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

// maskRecipient keeps enough of an address to correlate log lines without storing it.
func maskRecipient(to string) string {
	to = strings.TrimSpace(to)
	if at := strings.LastIndex(to, "@"); at > 0 {
		return to[:1] + "***" + to[at:]
	}
	if len(to) > 4 {
		return "***" + to[len(to)-4:]
	}
	return "***"
}
