// Package sqs publishes reminder lifecycle events to an SQS queue for
// downstream auditing.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/reminder"
)

// maxBatchSize is the SQS limit on entries per SendMessageBatch call.
const maxBatchSize = 10

// EventType names a step in a reminder's life.
type EventType string

const (
	EventSent      EventType = "reminder.sent"
	EventResent    EventType = "reminder.resent"
	EventConfirmed EventType = "reminder.confirmed"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Event is the payload sent to SQS.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	ReminderID   string    `json:"reminder_id"`
	MedicationID string    `json:"medication_id"`
	Slot         string    `json:"slot"`
	Date         string    `json:"date"`
	Source       string    `json:"source,omitempty"`
	Deliveries   int       `json:"deliveries,omitempty"`
	OccurredAt   int64     `json:"occurred_at"`
}

// NewEvent describes something that happened to r.
func NewEvent(t EventType, r reminder.Reminder) Event {
	return Event{
		Type:         t,
		ReminderID:   r.ID,
		MedicationID: r.MedicationID,
		Slot:         string(r.Slot),
		Date:         r.Date,
	}
}

// Publisher records lifecycle events. Publishing is best effort: callers
// log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// Nop discards every event. Used when no queue is configured.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, ...Event) error { return nil }

type sqsAPI interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Producer sends lifecycle events to SQS.
type Producer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

var _ Publisher = (*Producer)(nil)

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs event producer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Publish sends events in batches of at most ten. Events without an id or
// timestamp get one. Entries SQS rejects are reported in the returned error.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	for start := 0; start < len(events); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := p.publishBatch(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) publishBatch(ctx context.Context, events []Event) error {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(events))
	for i, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.OccurredAt == 0 {
			ev.OccurredAt = p.now().UnixMilli()
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"type": {DataType: aws.String("String"), StringValue: aws.String(string(ev.Type))},
			},
		})
	}

	out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(p.queueURL),
		Entries:  entries,
	})
	if err != nil {
		p.logger.Error("failed to send events to sqs", zap.Error(err), zap.Int("events", len(entries)))
		return fmt.Errorf("sqs send batch failed: %w", err)
	}
	if len(out.Failed) > 0 {
		first := out.Failed[0]
		return fmt.Errorf("sqs rejected %d of %d events: %s", len(out.Failed), len(entries), aws.ToString(first.Message))
	}
	return nil
}
