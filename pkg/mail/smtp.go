package mail

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"
)

// SMTPConfig carries the connection settings for an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPSender delivers messages through an SMTP relay using go-mail. A fresh
// client is dialed per send; campaign volumes are low enough that connection
// pooling is not worth the state.
type SMTPSender struct {
	config SMTPConfig
	logger *slog.Logger
}

func NewSMTPSender(config SMTPConfig, logger *slog.Logger) *SMTPSender {
	return &SMTPSender{
		config: config,
		logger: logger.With("module", "smtp_sender"),
	}
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	m := gomail.NewMsg()

	err := m.FromFormat(msg.FromName, msg.FromEmail)
	if err != nil {
		return "", fmt.Errorf("invalid from address %q: %w", msg.FromEmail, err)
	}

	err = m.To(msg.To)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}

	if msg.ReplyTo != "" {
		err = m.ReplyTo(msg.ReplyTo)
		if err != nil {
			return "", fmt.Errorf("invalid reply-to address %q: %w", msg.ReplyTo, err)
		}
	}

	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTMLBody)
	m.SetMessageID()

	messageID := m.GetMessageID()

	opts := []gomail.Option{
		gomail.WithPort(s.config.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.config.Username),
		gomail.WithPassword(s.config.Password),
	}

	client, err := gomail.NewClient(s.config.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create smtp client: %w", err)
	}

	err = client.DialAndSendWithContext(ctx, m)
	if err != nil {
		return "", fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	s.logger.InfoContext(ctx, "Email delivered", "to", msg.To, "message_id", messageID)

	return messageID, nil
}
