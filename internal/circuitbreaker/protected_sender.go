package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/notify"
)

// ProtectedSender wraps a channel sender with a CircuitBreaker.
// A recipient-level rejection (expired push subscription) is returned to
// the caller but does not count against the channel.
type ProtectedSender struct {
	sender  notify.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

var _ notify.Sender = (*ProtectedSender)(nil)

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender notify.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send delivers through the breaker. When the circuit is open it returns
// ErrCircuitOpen without calling the provider.
func (p *ProtectedSender) Send(ctx context.Context, to notify.Recipient, msg notify.Message) (string, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery",
			zap.String("breaker", p.breaker.Name()),
			zap.String("reminder_id", msg.ReminderID),
			zap.String("recipient", to.String()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return "", fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	id, err := p.sender.Send(ctx, to, msg)
	if err != nil {
		if notify.IsGone(err) {
			p.breaker.RecordSuccess()
			return "", err
		}
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.Name()),
			zap.Error(err),
		)
		return "", err
	}

	p.breaker.RecordSuccess()
	return id, nil
}

// SupportsChannel delegates to the underlying sender.
func (p *ProtectedSender) SupportsChannel(channel notify.Channel) bool {
	return p.sender.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
