package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds WhatsApp-over-Twilio credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the sending WhatsApp number in E.164 form.
	From    string
	BaseURL string
	Timeout time.Duration
	// RatePerSecond throttles outbound calls; zero means 1/s.
	RatePerSecond float64
}

// TwilioSender sends WhatsApp messages through the Twilio Messages API.
type TwilioSender struct {
	cfg     TwilioConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTwilioSender creates a Twilio WhatsApp sender.
func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	return &TwilioSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 3),
		logger:  logger,
	}
}

func whatsappAddress(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

// Send posts one WhatsApp message.
func (s *TwilioSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	if to.Channel != ChannelWhatsApp {
		return "", fmt.Errorf("twilio sender only supports whatsapp, got: %s", to.Channel)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("twilio rate limiter: %w", err)
	}

	form := url.Values{}
	form.Set("From", whatsappAddress(s.cfg.From))
	form.Set("To", whatsappAddress(to.Address))
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create twilio request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Provider: "twilio", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("invalid twilio response: %w", err)
	}

	s.logger.Info("whatsapp message sent via twilio",
		zap.String("reminder_id", msg.ReminderID),
		zap.String("recipient", to.String()),
		zap.String("message_id", out.SID),
	)
	return out.SID, nil
}

// SupportsChannel checks if this sender supports the whatsapp channel.
func (s *TwilioSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelWhatsApp
}
