// Package sqs ingests message events from an SQS queue, for phone-side
// agents that buffer through AWS instead of calling the HTTP API
// directly.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/relay"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	// WaitTime is the long-poll duration per receive call.
	WaitTime time.Duration
	// BatchSize is the max messages fetched per receive call (1-10).
	BatchSize int
}

// Event is the SQS message body for one received SMS.
type Event struct {
	Sender     string `json:"sender"`
	Body       string `json:"body"`
	ReceivedAt int64  `json:"received_at"` // unix seconds
	DeviceID   string `json:"device_id,omitempty"`
}

// Service is the slice of the relay the consumer feeds.
type Service interface {
	HandleInbound(ctx context.Context, msg relay.InboundMessage) relay.DeliveryResult
}

// Consumer long-polls the queue and runs each event through the relay.
type Consumer struct {
	client   *awssqs.Client
	queueURL string
	service  Service
	config   Config
	logger   *zap.Logger
}

// NewConsumer creates an SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, service Service, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.WaitTime <= 0 {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 10 {
		cfg.BatchSize = 10
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:   awssqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		service:  service,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Start polls until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("sqs consumer starting")

	for {
		if ctx.Err() != nil {
			c.logger.Info("sqs consumer stopping")
			return
		}

		out, err := c.client.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: int32(c.config.BatchSize),
			WaitTimeSeconds:     int32(c.config.WaitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("sqs consumer stopping")
				return
			}
			c.logger.Error("sqs receive failed", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		for _, m := range out.Messages {
			c.handle(ctx, m)
		}
	}
}

// parseEvent decodes and validates one queue message body. An event that
// fails validation here would fail it on every flush too, so letting it
// into the pipeline would park a permanently undeliverable row at the
// head of the retry queue.
func parseEvent(body string) (relay.InboundMessage, error) {
	var ev Event
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		return relay.InboundMessage{}, fmt.Errorf("decode event: %w", err)
	}

	msg := relay.InboundMessage{
		Sender:     ev.Sender,
		Body:       ev.Body,
		ReceivedAt: time.Unix(ev.ReceivedAt, 0),
	}
	if !msg.Valid() {
		return relay.InboundMessage{}, fmt.Errorf("invalid event: sender, body, and a positive received_at are required")
	}
	return msg, nil
}

func (c *Consumer) handle(ctx context.Context, m types.Message) {
	msg, err := parseEvent(aws.ToString(m.Body))
	if err != nil {
		c.logger.Error("dropping undeliverable sqs event",
			zap.String("message_id", aws.ToString(m.MessageId)),
			zap.Error(err),
		)
		// Malformed or invalid forever; deleting avoids redelivery loops.
		c.delete(ctx, m)
		return
	}

	result := c.service.HandleInbound(ctx, msg)
	c.logger.Info("sqs event processed",
		zap.String("message_id", aws.ToString(m.MessageId)),
		zap.String("outcome", result.Outcome.String()),
	)

	// Every outcome is terminal from the queue's perspective: delivered,
	// parked in the retry queue, or filtered. Redelivery would only
	// duplicate.
	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m types.Message) {
	_, err := c.client.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete sqs message",
			zap.String("message_id", aws.ToString(m.MessageId)),
			zap.Error(err),
		)
	}
}
