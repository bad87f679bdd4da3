package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

func TestTwilioSender_Send(t *testing.T) {
	var gotPath, gotUser, gotTo, gotFrom, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotFrom = r.PostForm.Get("From")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM123"}`))
	}))
	defer server.Close()

	s := NewTwilioSender(TwilioConfig{
		AccountSID: "AC1",
		AuthToken:  "secret",
		From:       "+15550000000",
		BaseURL:    server.URL,
	}, zap.NewNop())

	id, err := s.Send(context.Background(), Recipient{Channel: ChannelWhatsApp, Address: "+15551234567"}, Message{Body: "take drops"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "SM123" {
		t.Errorf("expected sid SM123, got %q", id)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Messages.json" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" || gotTo != "whatsapp:+15551234567" || gotFrom != "whatsapp:+15550000000" || gotBody != "take drops" {
		t.Errorf("unexpected request user=%q to=%q from=%q body=%q", gotUser, gotTo, gotFrom, gotBody)
	}
}

func TestTwilioSender_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":21211}`))
	}))
	defer server.Close()

	s := NewTwilioSender(TwilioConfig{AccountSID: "AC1", BaseURL: server.URL}, zap.NewNop())
	_, err := s.Send(context.Background(), Recipient{Channel: ChannelWhatsApp, Address: "+1"}, Message{})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected HTTPError 400, got %v", err)
	}
}

func TestTwilioSender_WrongChannel(t *testing.T) {
	s := NewTwilioSender(TwilioConfig{}, zap.NewNop())
	if _, err := s.Send(context.Background(), Recipient{Channel: ChannelSMS}, Message{}); err == nil {
		t.Error("expected error for non-whatsapp recipient")
	}
	if s.SupportsChannel(ChannelSMS) || !s.SupportsChannel(ChannelWhatsApp) {
		t.Error("twilio sender should only support whatsapp")
	}
}

func TestMessengerSender_Send(t *testing.T) {
	var got messengerRequest
	var token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.URL.Query().Get("access_token")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"recipient_id":"42","message_id":"m_1"}`))
	}))
	defer server.Close()

	s := NewMessengerSender(MessengerConfig{PageToken: "tok", BaseURL: server.URL}, zap.NewNop())
	id, err := s.Send(context.Background(), Recipient{Channel: ChannelMessenger, Address: "42"}, Message{Body: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "m_1" || token != "tok" {
		t.Errorf("unexpected id %q token %q", id, token)
	}
	if got.Recipient.ID != "42" || got.Message.Text != "hello" || got.MessagingType != "MESSAGE_TAG" {
		t.Errorf("unexpected payload %+v", got)
	}
}

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	s := &SESSender{client: client, from: "reminders@example.com", logger: zap.NewNop()}

	id, err := s.Send(context.Background(), Recipient{Channel: ChannelEmail, Address: "care@example.com"}, Message{Body: "drops"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "ses-1" {
		t.Errorf("unexpected id %q", id)
	}
	if aws.ToString(client.input.Message.Subject.Data) != "Medication reminder" {
		t.Errorf("expected default subject, got %q", aws.ToString(client.input.Message.Subject.Data))
	}
	if client.input.Destination.ToAddresses[0] != "care@example.com" {
		t.Errorf("unexpected destination %v", client.input.Destination.ToAddresses)
	}

	client.err = errors.New("throttled")
	if _, err := s.Send(context.Background(), Recipient{Channel: ChannelEmail, Address: "care@example.com"}, Message{}); err == nil {
		t.Error("expected SES failure to surface")
	}
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSSender_Send(t *testing.T) {
	client := &fakeSNS{}
	s := &SNSSender{client: client, logger: zap.NewNop()}

	id, err := s.Send(context.Background(), Recipient{Channel: ChannelSMS, Address: "+15551234567"}, Message{Body: "drops"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "sns-1" || aws.ToString(client.input.PhoneNumber) != "+15551234567" {
		t.Errorf("unexpected publish %q %v", id, client.input)
	}
	if aws.ToString(client.input.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue) != "Transactional" {
		t.Error("SMS should be sent as transactional")
	}

	if _, err := s.Send(context.Background(), Recipient{Channel: ChannelSMS}, Message{}); err == nil {
		t.Error("expected error for missing phone number")
	}
}

type fakePusher struct {
	status  int
	payload []byte
	sub     *webpush.Subscription
}

func (f *fakePusher) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	f.payload = payload
	f.sub = sub
	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

type fakeRemover struct {
	removed []string
}

func (f *fakeRemover) DeleteSubscription(ctx context.Context, endpoint string) error {
	f.removed = append(f.removed, endpoint)
	return nil
}

func TestWebPushSender_Send(t *testing.T) {
	p := &fakePusher{status: http.StatusCreated}
	remover := &fakeRemover{}
	s := NewWebPushSender(VAPIDConfig{Subject: "mailto:ops@example.com"}, remover, zap.NewNop())
	s.pusher = p

	to := Recipient{Channel: ChannelWebPush, Address: "https://push.example/1", Push: &PushKeys{P256dh: "p", Auth: "a"}}
	if _, err := s.Send(context.Background(), to, Message{ReminderID: "r1", Body: "drops"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload pushPayload
	if err := json.Unmarshal(p.payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.ReminderID != "r1" || payload.Body != "drops" || p.sub.Keys.Auth != "a" {
		t.Errorf("unexpected push %+v %+v", payload, p.sub)
	}
	if len(remover.removed) != 0 {
		t.Error("healthy subscription should not be removed")
	}
}

func TestWebPushSender_GoneRemovesSubscription(t *testing.T) {
	remover := &fakeRemover{}
	s := NewWebPushSender(VAPIDConfig{}, remover, zap.NewNop())
	s.pusher = &fakePusher{status: http.StatusGone}

	to := Recipient{Channel: ChannelWebPush, Address: "https://push.example/1", Push: &PushKeys{}}
	_, err := s.Send(context.Background(), to, Message{})
	if !IsGone(err) {
		t.Fatalf("expected gone error, got %v", err)
	}
	if len(remover.removed) != 1 || remover.removed[0] != "https://push.example/1" {
		t.Errorf("expected subscription removal, got %v", remover.removed)
	}
}
