package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends email reminders via AWS SES.
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

// SESConfig holds SES settings.
type SESConfig struct {
	Region    string
	FromEmail string
}

// NewSESSender creates an SES sender from the default AWS credential chain.
func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send emails one reminder.
func (s *SESSender) Send(ctx context.Context, to Recipient, msg Message) (string, error) {
	if to.Channel != ChannelEmail {
		return "", fmt.Errorf("SES sender only supports email, got: %s", to.Channel)
	}
	if to.Address == "" {
		return "", fmt.Errorf("email recipient missing address")
	}

	subject := msg.Subject
	if subject == "" {
		subject = "Medication reminder"
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to.Address},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send failed: %w", err)
	}

	id := aws.ToString(result.MessageId)
	s.logger.Info("email sent via SES",
		zap.String("reminder_id", msg.ReminderID),
		zap.String("recipient", to.String()),
		zap.String("message_id", id),
	)
	return id, nil
}

// SupportsChannel checks if this sender supports the email channel.
func (s *SESSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelEmail
}
