// Package ses provides an alternate email transport backed by AWS SES,
// for deployments that would rather not hold raw SMTP credentials.
package ses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsses "github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/metrics"
	"github.com/smsrelay/smsrelay/internal/relay"
)

type Config struct {
	Region    string
	FromEmail string
}

// Transport implements relay.Transport against the SES API.
type Transport struct {
	client *awsses.Client
	from   string
	logger *zap.Logger
}

func NewTransport(ctx context.Context, cfg Config, logger *zap.Logger) (*Transport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &Transport{
		client: awsses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send submits one composed email through SES. The SES identity replaces
// the SMTP From address; the display name is kept.
func (t *Transport) Send(ctx context.Context, email *relay.OutboundEmail) error {
	start := time.Now()
	defer func() {
		metrics.RecordTransportSend("ses", time.Since(start))
	}()

	source := t.from
	if email.FromDisplay != "" {
		source = fmt.Sprintf("%s <%s>", email.FromDisplay, t.from)
	}

	input := &awsses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{email.ToAddress},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(email.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(email.HTMLBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return classify(err)
	}

	t.logger.Info("email sent via SES",
		zap.String("to", email.ToAddress),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// TestConnection verifies credentials and connectivity by asking SES for
// the account send quota.
func (t *Transport) TestConnection(ctx context.Context) error {
	if _, err := t.client.GetSendQuota(ctx, &awsses.GetSendQuotaInput{}); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps SES API failures onto the delivery error taxonomy.
func classify(err error) error {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return relay.NewSendError(relay.KindSMTPError, err)
	}
	var notVerified *types.MailFromDomainNotVerifiedException
	if errors.As(err, &notVerified) {
		return relay.NewSendError(relay.KindAuthenticationFailed, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid") && strings.Contains(msg, "address"):
		return relay.NewSendError(relay.KindInvalidRecipient, err)
	case strings.Contains(msg, "accessdenied"), strings.Contains(msg, "credentials"),
		strings.Contains(msg, "signature"):
		return relay.NewSendError(relay.KindAuthenticationFailed, err)
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"):
		return relay.NewSendError(relay.KindNetworkError, err)
	default:
		return relay.NewSendError(relay.KindSMTPError, err)
	}
}
