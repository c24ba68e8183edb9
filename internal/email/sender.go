package email

import (
	"context"
	"fmt"

	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/sanitize"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	// Text is the plain alternative. It is derived from HTML when empty.
	Text string
	// Tag labels the message for the provider's reporting, e.g.
	// "outreach" or "invoice_overdue".
	Tag string
}

func (m Message) plain() string {
	if m.Text != "" {
		return m.Text
	}
	return sanitize.StripHTML(m.HTML)
}

func (m Message) validate() error {
	if m.To == "" {
		return fmt.Errorf("email: recipient required")
	}
	if m.Subject == "" {
		return fmt.Errorf("email: subject required")
	}
	return nil
}

// Sender delivers one email. Implementations do not retry; the workflow
// runtime owns resends.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type NoopSender struct{}

func (NoopSender) Send(context.Context, Message) error { return nil }

// NewSender picks SMTP when a host is configured, Brevo otherwise, and a
// no-op sender when email is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}
	from := Address{Name: cfg.GetEmailFromName(), Email: cfg.GetEmailFromAddress()}
	if from.Email == "" {
		return nil, fmt.Errorf("email enabled but EMAIL_FROM_ADDRESS is empty")
	}
	if cfg.GetSMTPHost() != "" {
		return NewSMTPSender(SMTPSettings{
			Host:     cfg.GetSMTPHost(),
			Port:     cfg.GetSMTPPort(),
			Username: cfg.GetSMTPUsername(),
			Password: cfg.GetSMTPPassword(),
		}, from), nil
	}
	if cfg.GetBrevoAPIKey() == "" {
		return nil, fmt.Errorf("email enabled but neither SMTP_HOST nor BREVO_API_KEY is set")
	}
	return NewBrevoSender(cfg.GetBrevoAPIKey(), from), nil
}

// Address is a display name plus mailbox.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}
