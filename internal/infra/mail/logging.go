package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/infra/logger"
)

// LoggingNotifier records outbound mail instead of delivering it. It is used when
// no SMTP relay is configured; the OTP is only logged outside production.
type LoggingNotifier struct {
	logger      *zap.Logger
	exposeCodes bool
}

// NewLoggingNotifier builds a notifier writing to log. exposeCodes includes the
// verification code in the entry, which is useful in development.
func NewLoggingNotifier(log *zap.Logger, exposeCodes bool) *LoggingNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingNotifier{logger: log, exposeCodes: exposeCodes}
}

func (n *LoggingNotifier) SendOTP(_ context.Context, msg port.OTPMessage) error {
	fields := []zap.Field{
		zap.String("email", logger.MaskEmail(msg.Email)),
		zap.Bool("resend", msg.Resend),
		zap.Time("expires_at", msg.ExpiresAt),
	}
	if n.exposeCodes {
		fields = append(fields, zap.String("dev_code", msg.Code))
	}
	n.logger.Info("dispatch registration otp", fields...)
	return nil
}

func (n *LoggingNotifier) SendWelcome(_ context.Context, msg port.WelcomeMessage) error {
	n.logger.Info("dispatch welcome email", zap.String("email", logger.MaskEmail(msg.Email)))
	return nil
}

func (n *LoggingNotifier) SendOperatorNotice(_ context.Context, msg port.OperatorMessage) error {
	if msg.To == "" {
		return nil
	}
	n.logger.Info("dispatch operator notice",
		zap.String("to", logger.MaskEmail(msg.To)),
		zap.String("user_email", logger.MaskEmail(msg.UserEmail)),
		zap.Time("registered_at", msg.RegisteredAt),
	)
	return nil
}

var _ port.Notifier = (*LoggingNotifier)(nil)
