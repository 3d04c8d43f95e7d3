package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/renewal"
)

// LogSender writes reminders to the log instead of sending them. Used when no
// SMTP host is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, kind renewal.TemplateKind, to renewal.Recipient, payload renewal.ReminderPayload) (renewal.SendReceipt, error) {
	if err := ctx.Err(); err != nil {
		return renewal.SendReceipt{}, err
	}
	msg, err := Render(kind, payload)
	if err != nil {
		return renewal.SendReceipt{}, err
	}

	id := uuid.NewString()
	s.logger.Info("reminder (not sent)",
		zap.String("message_id", id),
		zap.String("template", string(kind)),
		zap.String("to", to.Email),
		zap.String("subject", msg.Subject),
		zap.String("policy_type", string(payload.PolicyType)),
		zap.Int64("policy_id", payload.PolicyID),
		zap.Int("days_remaining", payload.DaysRemaining))
	return renewal.SendReceipt{MessageID: id}, nil
}
