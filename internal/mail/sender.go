package mail

import (
	"context"
	"fmt"
	"strings"

	gomail "github.com/wneessen/go-mail"

	"account-api/internal/observability"
)

// Sender delivers a rendered html email to a single recipient.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

type Email struct {
	Subject string
	Body    string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	AuthType string
	SSL      bool
}

type SMTPSender struct {
	client *gomail.Client
	from   string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	var options []gomail.Option

	if cfg.Port != 0 {
		options = append(options, gomail.WithPort(cfg.Port))
	}
	if cfg.AuthType != "" {
		options = append(options, gomail.WithSMTPAuth(gomail.SMTPAuthType(strings.ToUpper(cfg.AuthType))))
	}
	if cfg.SSL {
		options = append(options, gomail.WithSSLPort(true))
	} else {
		options = append(options, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	options = append(options, gomail.WithUsername(cfg.Username))
	options = append(options, gomail.WithPassword(cfg.Password))

	client, err := gomail.NewClient(cfg.Host, options...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPSender{client: client, from: cfg.From}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, html string) error {
	msg, err := s.message(to, subject, html)
	if err != nil {
		return err
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) message(to, subject, html string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", s.from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, html)
	return msg, nil
}

// LogSender writes emails to the log instead of delivering them. It is used
// when no SMTP host is configured.
type LogSender struct {
	logger *observability.Logger
}

func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, html string) error {
	s.logger.Info("email_not_delivered", map[string]any{
		"to":      to,
		"subject": subject,
		"body":    html,
	})
	return nil
}
