package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(log *zap.Logger) *StubPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubPublisher{logger: log}
}

// PublishUserRegistered logs user.registered events.
func (p *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	at := event.RegisteredAt
	if at.IsZero() {
		at = time.Now()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", EventUserRegistered),
		zap.String("event_id", event.EventID),
		zap.String("user_id", event.UserID),
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.String("registration_method", event.RegistrationMethod),
		zap.Time("timestamp", at.UTC()),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
