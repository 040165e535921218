package app

import (
	"github.com/charlesng35/accessd/internal/notify"
	"github.com/charlesng35/accessd/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// GatewayConfig converts SMSConfig to the HTTP SMS sender representation.
func (c SMSConfig) GatewayConfig() notify.HTTPSMSConfig {
	return notify.HTTPSMSConfig{
		URL:      c.URL,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		Timeout:  c.Timeout,
	}
}
