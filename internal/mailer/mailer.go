// Package mailer sends plain-text operator notifications over SMTP.
package mailer

import "context"

type Service interface {
	Send(ctx context.Context, m Message) error
}

type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	Headers map[string]string
}

// Config is the SMTP relay used for alerts. TLSMode is "", "starttls" or "tls".
type Config struct {
	Host          string
	Port          string
	User          string
	Pass          string
	TLSMode       string
	SkipVerifyTLS bool
}

// Enabled reports whether a relay host is configured.
func (c Config) Enabled() bool { return c.Host != "" }
