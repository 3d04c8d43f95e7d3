package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/warp/renewal-engine/renewal"
)

// Dialer is the part of *gomail.Dialer the sender uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPSender struct {
	dialer Dialer
	from   string
	domain string
	logger *zap.Logger
}

func NewSMTPSender(host string, port int, username, password, from string, logger *zap.Logger) *SMTPSender {
	if from == "" {
		from = username
	}
	return NewSMTPSenderWithDialer(gomail.NewDialer(host, port, username, password), from, host, logger)
}

func NewSMTPSenderWithDialer(d Dialer, from, domain string, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if domain == "" {
		domain = "localhost"
	}
	return &SMTPSender{dialer: d, from: from, domain: domain, logger: logger}
}

// Send renders and delivers one reminder. gomail has no context support, so
// only a context that is already done stops the send; the caller bounds the
// rest with its own timeout.
func (s *SMTPSender) Send(ctx context.Context, kind renewal.TemplateKind, to renewal.Recipient, payload renewal.ReminderPayload) (renewal.SendReceipt, error) {
	if err := ctx.Err(); err != nil {
		return renewal.SendReceipt{}, err
	}
	if to.Email == "" {
		return renewal.SendReceipt{}, renewal.ErrNoContact
	}

	msg, err := Render(kind, payload)
	if err != nil {
		return renewal.SendReceipt{}, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetAddressHeader("To", to.Email, to.Name)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		return renewal.SendReceipt{}, fmt.Errorf("smtp send to %s: %w", to.Email, err)
	}

	s.logger.Debug("reminder email sent",
		zap.String("to", to.Email),
		zap.String("template", string(kind)),
		zap.String("message_id", messageID))
	return renewal.SendReceipt{MessageID: messageID}, nil
}
