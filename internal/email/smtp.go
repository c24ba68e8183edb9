package email

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
)

const tagHeader gomail.Header = "X-Pipeline-Tag"

// SMTPSettings locate and authenticate the relay.
type SMTPSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPSender delivers through an SMTP relay with go-mail. Each message opens
// its own connection.
type SMTPSender struct {
	settings SMTPSettings
	from     Address
}

func NewSMTPSender(settings SMTPSettings, from Address) *SMTPSender {
	if settings.Port == 0 {
		settings.Port = 587
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 15 * time.Second
	}
	return &SMTPSender{settings: settings, from: from}
}

// build assembles the multipart message: plain text first, HTML as the
// preferred alternative.
func (s *SMTPSender) build(msg Message) (*gomail.Msg, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	m := gomail.NewMsg()
	if err := m.FromFormat(s.from.Name, s.from.Email); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.plain())
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	if msg.Tag != "" {
		m.SetGenHeader(tagHeader, msg.Tag)
	}
	return m, nil
}

func (s *SMTPSender) client() (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(s.settings.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(s.settings.Timeout),
	}
	if s.settings.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.settings.Username),
			gomail.WithPassword(s.settings.Password),
		)
	}
	return gomail.NewClient(s.settings.Host, opts...)
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	client, err := s.client()
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
