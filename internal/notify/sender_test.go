package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type mockSender struct {
	mu      sync.Mutex
	channel Channel
	fail    map[string]error
	sent    []Recipient
}

func (m *mockSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	if err := m.fail[to.Address]; err != nil {
		return "", err
	}
	m.mu.Lock()
	m.sent = append(m.sent, to)
	m.mu.Unlock()
	return "id-" + to.Address, nil
}

func (m *mockSender) SupportsChannel(channel Channel) bool {
	return channel == m.channel
}

func TestMultiSenderRouting(t *testing.T) {
	logger := zap.NewNop()
	wa := &mockSender{channel: ChannelWhatsApp}
	email := &mockSender{channel: ChannelEmail}
	multi := NewMultiSender(logger, wa, email)

	tests := []struct {
		name    string
		channel Channel
		should  bool
	}{
		{"whatsapp_supported", ChannelWhatsApp, true},
		{"email_supported", ChannelEmail, true},
		{"sms_not_supported", ChannelSMS, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := multi.SupportsChannel(tt.channel); got != tt.should {
				t.Errorf("SupportsChannel(%s) = %v, want %v", tt.channel, got, tt.should)
			}
		})
	}

	id, err := multi.Send(context.Background(), Recipient{Channel: ChannelEmail, Address: "a@example.com"}, Message{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "id-a@example.com" || len(email.sent) != 1 || len(wa.sent) != 0 {
		t.Errorf("email delivery routed incorrectly: id=%q email=%d wa=%d", id, len(email.sent), len(wa.sent))
	}

	_, err = multi.Send(context.Background(), Recipient{Channel: ChannelSMS, Address: "+1555"}, Message{})
	if !errors.Is(err, ErrNoSender) {
		t.Errorf("expected ErrNoSender, got %v", err)
	}
}

func TestLogSender(t *testing.T) {
	all := NewLogSender(zap.NewNop())
	if !all.SupportsChannel(ChannelMessenger) || all.SupportsChannel(Channel("fax")) {
		t.Error("log sender with no channels should stand in for every valid channel")
	}

	only := NewLogSender(zap.NewNop(), ChannelSMS)
	if only.SupportsChannel(ChannelEmail) || !only.SupportsChannel(ChannelSMS) {
		t.Error("log sender should be limited to configured channels")
	}

	id, err := only.Send(context.Background(), Recipient{Channel: ChannelSMS}, Message{ReminderID: "r1"})
	if err != nil || id != "log-r1" {
		t.Errorf("unexpected send result %q, %v", id, err)
	}
}

func TestParseRecipients(t *testing.T) {
	got, err := ParseRecipients("whatsapp:+15551234567:Mom, messenger:2411234567, email:care@example.com:Nurse,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Recipient{
		{Channel: ChannelWhatsApp, Address: "+15551234567", Name: "Mom"},
		{Channel: ChannelMessenger, Address: "2411234567"},
		{Channel: ChannelEmail, Address: "care@example.com", Name: "Nurse"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d recipients, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recipient %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	for _, bad := range []string{"whatsapp", "fax:123", "webpush:https://x", "sms:"} {
		if _, err := ParseRecipients(bad); err == nil {
			t.Errorf("ParseRecipients(%q) should fail", bad)
		}
	}

	empty, err := ParseRecipients("")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty spec should parse to nothing, got %v, %v", empty, err)
	}
}

func TestRecipientString(t *testing.T) {
	if got := (Recipient{Channel: ChannelSMS, Address: "+15551234567"}).String(); got != "sms:****4567" {
		t.Errorf("unexpected masked recipient %q", got)
	}
	if got := (Recipient{Channel: ChannelSMS, Address: "+1", Name: "Dad"}).String(); got != "sms:Dad" {
		t.Errorf("unexpected named recipient %q", got)
	}
}
