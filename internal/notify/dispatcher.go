package notify

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/medreminder/internal/metrics"
	"github.com/lalithlochan/medreminder/internal/store"
)

// maxConcurrentDeliveries bounds the per-message fan-out.
const maxConcurrentDeliveries = 4

// DeliveryResult is the outcome for one recipient.
type DeliveryResult struct {
	Recipient Recipient
	MessageID string
	Err       error
}

// OK reports whether the delivery succeeded.
func (r DeliveryResult) OK() bool { return r.Err == nil }

// AnySucceeded reports whether at least one recipient received the message.
func AnySucceeded(results []DeliveryResult) bool {
	for _, r := range results {
		if r.OK() {
			return true
		}
	}
	return false
}

// SubscriptionSource lists push subscriptions registered from the dashboard.
type SubscriptionSource interface {
	ListSubscriptions(ctx context.Context) ([]store.PushSubscription, error)
}

// Dispatcher fans a message out to every recipient.
type Dispatcher struct {
	sender     Sender
	recipients []Recipient
	subs       SubscriptionSource
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher. subs may be nil.
func NewDispatcher(sender Sender, recipients []Recipient, subs SubscriptionSource, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		recipients: recipients,
		subs:       subs,
		logger:     logger,
	}
}

// Recipients returns the static recipients plus current push subscriptions.
func (d *Dispatcher) Recipients(ctx context.Context) []Recipient {
	out := make([]Recipient, 0, len(d.recipients))
	out = append(out, d.recipients...)
	if d.subs == nil {
		return out
	}

	subs, err := d.subs.ListSubscriptions(ctx)
	if err != nil {
		d.logger.Warn("failed to list push subscriptions, skipping push delivery", zap.Error(err))
		return out
	}
	for _, s := range subs {
		out = append(out, Recipient{
			Channel: ChannelWebPush,
			Address: s.Endpoint,
			Push:    &PushKeys{P256dh: s.P256dh, Auth: s.Auth},
		})
	}
	return out
}

// Dispatch delivers msg to every recipient concurrently and returns one
// result per recipient in recipient order. It never fails as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []DeliveryResult {
	recipients := d.Recipients(ctx)
	results := make([]DeliveryResult, len(recipients))

	var g errgroup.Group
	g.SetLimit(maxConcurrentDeliveries)

	for i, to := range recipients {
		i, to := i, to
		g.Go(func() error {
			start := time.Now()
			id, err := d.sender.Send(ctx, to, msg)
			results[i] = DeliveryResult{Recipient: to, MessageID: id, Err: err}

			status := "delivered"
			if err != nil {
				status = "failed"
				d.logger.Warn("delivery failed",
					zap.String("recipient", to.String()),
					zap.String("reminder_id", msg.ReminderID),
					zap.Error(err),
				)
			}
			metrics.RecordDelivery(string(to.Channel), status, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// HTTPError is a non-2xx response from a provider API.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return e.Provider + " returned " + http.StatusText(e.StatusCode) + ": " + e.Body
}

// IsGone reports whether err is a provider response saying the address no
// longer exists.
func IsGone(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusGone || httpErr.StatusCode == http.StatusNotFound
	}
	return false
}
