package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// SMTPConfig holds the relay settings for Email.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sender delivers fully built messages.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Email mails the error summary to a fixed recipient list.
type Email struct {
	from       string
	recipients []string
	client     sender
	logger     *zap.Logger
}

// NewEmail builds an SMTP notifier. Credentials are optional; when present
// PLAIN auth is used and TLS is required.
func NewEmail(cfg SMTPConfig, recipients []string, logger *zap.Logger) (*Email, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []mail.Option{mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
			mail.WithTLSPolicy(mail.TLSMandatory),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &Email{
		from:       cfg.From,
		recipients: append([]string(nil), recipients...),
		client:     client,
		logger:     logger,
	}, nil
}

// Notify sends one message to all recipients. With no recipients it does
// nothing.
func (e *Email) Notify(ctx context.Context, summary crawler.PassSummary) error {
	if len(e.recipients) == 0 {
		return nil
	}
	msg, err := e.message(summary)
	if err != nil {
		observe("email", err)
		return err
	}
	err = e.client.DialAndSendWithContext(ctx, msg)
	observe("email", err)
	if err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	e.logger.Info("notification email sent",
		zap.String("pass_id", summary.ID),
		zap.Strings("to", e.recipients),
	)
	return nil
}

func (e *Email) message(summary crawler.PassSummary) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.from); err != nil {
		return nil, fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(e.recipients...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(Subject(summary))
	msg.SetBodyString(mail.TypeTextPlain, Body(summary))
	return msg, nil
}
