package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const messengerBaseURL = "https://graph.facebook.com/v19.0"

// MessengerConfig holds Facebook page credentials.
type MessengerConfig struct {
	PageToken string
	BaseURL   string
	Timeout   time.Duration
}

// MessengerSender sends page messages through the Send API.
type MessengerSender struct {
	cfg     MessengerConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewMessengerSender creates a Messenger sender.
func NewMessengerSender(cfg MessengerConfig, logger *zap.Logger) *MessengerSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = messengerBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &MessengerSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
		logger:  logger,
	}
}

type messengerRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	MessagingType string `json:"messaging_type"`
	Tag           string `json:"tag,omitempty"`
	Message       struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Send posts one text message to a page-scoped user id.
func (s *MessengerSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	if to.Channel != ChannelMessenger {
		return "", fmt.Errorf("messenger sender only supports messenger, got: %s", to.Channel)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("messenger rate limiter: %w", err)
	}

	var payload messengerRequest
	payload.Recipient.ID = to.Address
	payload.MessagingType = "MESSAGE_TAG"
	payload.Tag = "ACCOUNT_UPDATE"
	payload.Message.Text = msg.Body

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal messenger payload: %w", err)
	}

	endpoint := s.cfg.BaseURL + "/me/messages?access_token=" + url.QueryEscape(s.cfg.PageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create messenger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("messenger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Provider: "messenger", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("invalid messenger response: %w", err)
	}

	s.logger.Info("messenger message sent",
		zap.String("reminder_id", msg.ReminderID),
		zap.String("recipient", to.String()),
		zap.String("message_id", out.MessageID),
	)
	return out.MessageID, nil
}

// SupportsChannel checks if this sender supports the messenger channel.
func (s *MessengerSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelMessenger
}
