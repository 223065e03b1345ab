package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSNotifier publishes alerts to an SNS topic so operators can fan them
// out to pagers or chat without touching the relay.
type SNSNotifier struct {
	client   *sns.Client
	topicARN string
}

// NewSNSNotifier creates a notifier for the given topic.
func NewSNSNotifier(ctx context.Context, topicARN, region string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicARN: topicARN,
	}, nil
}

// NewSNSNotifierWithEndpoint creates a notifier against a custom endpoint
// (for LocalStack).
func NewSNSNotifierWithEndpoint(ctx context.Context, topicARN, endpoint, region string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &SNSNotifier{client: client, topicARN: topicARN}, nil
}

// Notify publishes the event, tagged with its severity so subscribers
// can filter.
func (n *SNSNotifier) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(fmt.Sprintf("[smsrelay][%s] %s", ev.Severity, ev.Summary)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Severity)),
			},
		},
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish alert to SNS: %w", err)
	}
	return nil
}
