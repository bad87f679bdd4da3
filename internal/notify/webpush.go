package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

// VAPIDConfig holds the server's push identity.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Subject is a mailto: or https: contact for the push service.
	Subject string
	TTL     int
}

// pusher sends one encrypted push message.
type pusher interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type webpushClient struct{}

func (webpushClient) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// SubscriptionRemover drops subscriptions the push service reports gone.
type SubscriptionRemover interface {
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// WebPushSender delivers reminders to dashboard browsers.
type WebPushSender struct {
	pusher  pusher
	options *webpush.Options
	remover SubscriptionRemover
	logger  *zap.Logger
}

// NewWebPushSender creates a push sender. remover may be nil.
func NewWebPushSender(cfg VAPIDConfig, remover SubscriptionRemover, logger *zap.Logger) *WebPushSender {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 3600
	}
	return &WebPushSender{
		pusher: webpushClient{},
		options: &webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.PublicKey,
			VAPIDPrivateKey: cfg.PrivateKey,
			TTL:             ttl,
		},
		remover: remover,
		logger:  logger,
	}
}

type pushPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	ReminderID string `json:"reminder_id,omitempty"`
}

// Send pushes one reminder to a subscription. A 404 or 410 from the push
// service removes the subscription.
func (s *WebPushSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	if to.Channel != ChannelWebPush {
		return "", fmt.Errorf("webpush sender only supports webpush, got: %s", to.Channel)
	}
	if to.Push == nil {
		return "", fmt.Errorf("webpush recipient missing subscription keys")
	}

	title := msg.Subject
	if title == "" {
		title = "Medication reminder"
	}
	payload, err := json.Marshal(pushPayload{Title: title, Body: msg.Body, ReminderID: msg.ReminderID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal push payload: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: to.Address,
		Keys: webpush.Keys{
			P256dh: to.Push.P256dh,
			Auth:   to.Push.Auth,
		},
	}

	resp, err := s.pusher.Send(ctx, payload, sub, s.options)
	if err != nil {
		return "", fmt.Errorf("webpush send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		httpErr := &HTTPError{Provider: "webpush", StatusCode: resp.StatusCode, Body: string(body)}
		if IsGone(httpErr) && s.remover != nil {
			s.logger.Info("push subscription expired, removing", zap.String("recipient", to.String()))
			if err := s.remover.DeleteSubscription(ctx, to.Address); err != nil {
				s.logger.Warn("failed to remove expired push subscription", zap.Error(err))
			}
		}
		return "", httpErr
	}

	id := resp.Header.Get("Location")
	s.logger.Debug("push notification sent",
		zap.String("reminder_id", msg.ReminderID),
		zap.String("recipient", to.String()),
	)
	return id, nil
}

// SupportsChannel checks if this sender supports the webpush channel.
func (s *WebPushSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelWebPush
}
