package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender sends SMS reminders via AWS SNS.
type SNSSender struct {
	client snsAPI
	logger *zap.Logger
}

// SNSConfig holds SNS settings.
type SNSConfig struct {
	Region string
}

// NewSNSSender creates an SNS sender from the default AWS credential chain.
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send texts one reminder. Reminders are marked transactional so carriers
// do not delay them as marketing traffic.
func (s *SNSSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	if to.Channel != ChannelSMS {
		return "", fmt.Errorf("SNS sender only supports SMS, got: %s", to.Channel)
	}
	if to.Address == "" {
		return "", fmt.Errorf("SMS recipient missing phone number")
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(to.Address),
		Message:     aws.String(msg.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return "", fmt.Errorf("sns publish failed: %w", err)
	}

	id := aws.ToString(result.MessageId)
	s.logger.Info("SMS sent via SNS",
		zap.String("reminder_id", msg.ReminderID),
		zap.String("recipient", to.String()),
		zap.String("message_id", id),
	)
	return id, nil
}

// SupportsChannel checks if this sender supports the SMS channel.
func (s *SNSSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelSMS
}
