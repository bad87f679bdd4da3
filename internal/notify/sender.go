// Package notify delivers rendered reminder text to caregivers over their
// configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Channel is a delivery channel.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelMessenger Channel = "messenger"
	ChannelSMS       Channel = "sms"
	ChannelEmail     Channel = "email"
	ChannelWebPush   Channel = "webpush"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelMessenger, ChannelSMS, ChannelEmail, ChannelWebPush:
		return true
	}
	return false
}

// ErrNoSender is returned when no configured sender handles a channel.
var ErrNoSender = errors.New("no sender for channel")

// PushKeys are the client keys of a browser push subscription.
type PushKeys struct {
	P256dh string
	Auth   string
}

// Recipient is one caregiver address on one channel.
type Recipient struct {
	Name    string
	Channel Channel
	// Address is a phone number, page-scoped id, email address or push
	// endpoint depending on Channel.
	Address string
	Push    *PushKeys
}

// String identifies the recipient in logs without the full address.
func (r Recipient) String() string {
	if r.Name != "" {
		return string(r.Channel) + ":" + r.Name
	}
	return string(r.Channel) + ":" + mask(r.Address)
}

func mask(address string) string {
	if len(address) <= 4 {
		return "****"
	}
	return "****" + address[len(address)-4:]
}

// Message is one rendered reminder.
type Message struct {
	ReminderID string
	Subject    string
	Body       string
}

// Sender is the unified interface for all delivery channels.
// Implementations: Twilio WhatsApp, Messenger, SMS (SNS), email (SES),
// browser push.
type Sender interface {
	// Send delivers msg and returns the provider's message id.
	Send(ctx context.Context, to Recipient, msg Message) (string, error)
	SupportsChannel(channel Channel) bool
}

// MultiSender routes each delivery to the sender for its channel.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders. Earlier senders
// win when several support a channel.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the delivery to the first sender supporting its channel.
func (m *MultiSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	for _, sender := range m.senders {
		if sender.SupportsChannel(to.Channel) {
			m.logger.Debug("routing delivery to sender",
				zap.String("channel", string(to.Channel)),
				zap.String("reminder_id", msg.ReminderID),
			)
			return sender.Send(ctx, to, msg)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoSender, to.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel Channel) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them. It is the fallback
// for channels without credentials in development.
type LogSender struct {
	logger   *zap.Logger
	channels map[Channel]bool
}

// NewLogSender creates a log sender for the given channels, or for every
// channel when none are given.
func NewLogSender(logger *zap.Logger, channels ...Channel) *LogSender {
	s := &LogSender{logger: logger, channels: make(map[Channel]bool)}
	for _, c := range channels {
		s.channels[c] = true
	}
	return s
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	s.logger.Info("logging delivery (no provider configured)",
		zap.String("recipient", to.String()),
		zap.String("reminder_id", msg.ReminderID),
		zap.String("body", msg.Body),
	)
	return "log-" + msg.ReminderID, nil
}

// SupportsChannel reports whether the log sender stands in for channel.
func (s *LogSender) SupportsChannel(channel Channel) bool {
	if len(s.channels) == 0 {
		return channel.Valid()
	}
	return s.channels[channel]
}

// ParseRecipients parses a comma separated list of channel:address[:name]
// entries. Email addresses and phone numbers contain no colon, so the
// address never needs escaping.
func ParseRecipients(spec string) ([]Recipient, error) {
	var out []Recipient
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[1] == "" {
			return nil, fmt.Errorf("recipient %q: want channel:address[:name]", raw)
		}

		r := Recipient{
			Channel: Channel(strings.ToLower(parts[0])),
			Address: parts[1],
		}
		if !r.Channel.Valid() || r.Channel == ChannelWebPush {
			return nil, fmt.Errorf("recipient %q: unsupported channel %q", raw, parts[0])
		}
		if len(parts) == 3 {
			r.Name = parts[2]
		}
		out = append(out, r)
	}
	return out, nil
}
