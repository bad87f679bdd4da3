package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/reminder"
)

type fakeSQS struct {
	calls  []*sqs.SendMessageBatchInput
	err    error
	failed []types.BatchResultErrorEntry
}

func (f *fakeSQS) SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageBatchOutput{Failed: f.failed}, nil
}

func testProducer(client sqsAPI) *Producer {
	return &Producer{
		client:   client,
		queueURL: "https://sqs.us-east-1.amazonaws.com/123456789/medreminder-events",
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.UnixMilli(1790000000000) },
	}
}

func testReminder() reminder.Reminder {
	return reminder.Reminder{
		ID:           "2026-10-03-MORNING-timolol",
		MedicationID: "timolol",
		Slot:         medication.Slot("MORNING"),
		Date:         "2026-10-03",
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(EventSent, testReminder())
	if ev.Type != EventSent || ev.ReminderID != "2026-10-03-MORNING-timolol" || ev.Slot != "MORNING" || ev.Date != "2026-10-03" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestPublish_FillsIDAndTimestamp(t *testing.T) {
	client := &fakeSQS{}
	p := testProducer(client)

	ev := NewEvent(EventConfirmed, testReminder())
	ev.Source = "chat"
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 1 || len(client.calls[0].Entries) != 1 {
		t.Fatalf("expected one batch with one entry, got %+v", client.calls)
	}

	entry := client.calls[0].Entries[0]
	var decoded Event
	if err := json.Unmarshal([]byte(aws.ToString(entry.MessageBody)), &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded.ID == "" {
		t.Error("event id should be assigned")
	}
	if decoded.OccurredAt != 1790000000000 {
		t.Errorf("occurred_at = %d", decoded.OccurredAt)
	}
	if decoded.Source != "chat" || decoded.Type != EventConfirmed {
		t.Errorf("unexpected decoded event %+v", decoded)
	}
	if aws.ToString(entry.MessageAttributes["type"].StringValue) != "reminder.confirmed" {
		t.Error("type attribute missing")
	}
}

func TestPublish_SplitsBatches(t *testing.T) {
	client := &fakeSQS{}
	p := testProducer(client)

	events := make([]Event, 23)
	for i := range events {
		events[i] = NewEvent(EventSent, testReminder())
	}
	if err := p.Publish(context.Background(), events...); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(client.calls))
	}
	if len(client.calls[2].Entries) != 3 {
		t.Errorf("last batch should carry the remainder, got %d", len(client.calls[2].Entries))
	}
}

func TestPublish_Empty(t *testing.T) {
	client := &fakeSQS{}
	if err := testProducer(client).Publish(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 0 {
		t.Error("no events should mean no calls")
	}
}

func TestPublish_Errors(t *testing.T) {
	client := &fakeSQS{err: errors.New("access denied")}
	if err := testProducer(client).Publish(context.Background(), NewEvent(EventSent, testReminder())); err == nil {
		t.Error("expected send failure")
	}

	client = &fakeSQS{failed: []types.BatchResultErrorEntry{{Id: aws.String("0"), Message: aws.String("too large")}}}
	if err := testProducer(client).Publish(context.Background(), NewEvent(EventSent, testReminder())); err == nil {
		t.Error("expected partial failure to be reported")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), NewEvent(EventSent, testReminder())); err != nil {
		t.Errorf("nop should never fail: %v", err)
	}
}
