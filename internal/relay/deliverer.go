package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/db"
)

// Transport transmits one composed email. Implementations open a fresh
// session per call and classify failures with SendError.
type Transport interface {
	Send(ctx context.Context, email *OutboundEmail) error
	TestConnection(ctx context.Context) error
}

// HistorySink records confirmed deliveries.
type HistorySink interface {
	Append(ctx context.Context, rec *db.HistoryRecord) (int64, error)
}

// Deliverer performs exactly one delivery attempt per call:
// validate → filter → compose → transport → record. Retries are the
// flusher's business, never this type's.
type Deliverer struct {
	settings  *SettingsStore
	transport Transport
	history   HistorySink
	logger    *zap.Logger
}

// NewDeliverer wires the delivery pipeline.
func NewDeliverer(settings *SettingsStore, transport Transport, history HistorySink, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		settings:  settings,
		transport: transport,
		history:   history,
		logger:    logger,
	}
}

// Deliver attempts to forward a freshly received message.
func (d *Deliverer) Deliver(ctx context.Context, msg InboundMessage) DeliveryResult {
	return d.deliver(ctx, msg, 0)
}

// DeliverQueued attempts to forward a message replayed from the retry
// queue; retryCount is carried into the history record.
func (d *Deliverer) DeliverQueued(ctx context.Context, msg InboundMessage, retryCount int) DeliveryResult {
	return d.deliver(ctx, msg, retryCount)
}

func (d *Deliverer) deliver(ctx context.Context, msg InboundMessage, retryCount int) DeliveryResult {
	if !msg.Valid() {
		return Failure(KindUnknown, "invalid message")
	}

	st := d.settings.Snapshot()

	if !st.Filter.Matches(msg.Sender, msg.Body) {
		d.logger.Debug("message skipped by filter",
			zap.String("sender", msg.Sender),
		)
		return Skipped("does not match filter")
	}

	if !st.Valid() {
		return Failure(KindAuthenticationFailed, "delivery configuration missing or invalid")
	}

	subject := fmt.Sprintf("%s => %s at (%s)", msg.Sender, st.DeviceAlias, msg.FormattedTime())
	email := &OutboundEmail{
		FromDisplay: st.DeviceAlias,
		FromAddress: st.FromAddress,
		ToAddress:   st.ToAddress,
		Subject:     subject,
		HTMLBody:    Render(msg.Sender, msg.Body, msg.FormattedTime(), subject, st.DeviceAlias),
	}

	if err := d.transport.Send(ctx, email); err != nil {
		var sendErr *SendError
		if errors.As(err, &sendErr) {
			d.logger.Warn("delivery failed",
				zap.String("sender", msg.Sender),
				zap.String("kind", sendErr.Kind.String()),
				zap.Error(sendErr.Err),
			)
			return Failure(sendErr.Kind, sendErr.Err.Error())
		}
		d.logger.Warn("delivery failed with unclassified error",
			zap.String("sender", msg.Sender),
			zap.Error(err),
		)
		return Failure(KindUnknown, err.Error())
	}

	d.logger.Info("message delivered",
		zap.String("sender", msg.Sender),
		zap.String("to", st.ToAddress),
		zap.Int("retry_count", retryCount),
	)

	// History is best effort: a failed append must never turn a delivered
	// message into a failure.
	rec := &db.HistoryRecord{
		Sender:      msg.Sender,
		Body:        msg.Body,
		ReceivedAt:  msg.ReceivedAt,
		ToAddress:   st.ToAddress,
		FromAddress: st.FromAddress,
		SentAt:      time.Now(),
		RetryCount:  retryCount,
	}
	go d.appendHistory(ctx, rec)

	return Success()
}

func (d *Deliverer) appendHistory(ctx context.Context, rec *db.HistoryRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := d.history.Append(ctx, rec); err != nil {
		d.logger.Error("failed to record sent history",
			zap.Error(err),
			zap.String("sender", rec.Sender),
		)
	}
}

// TestConnection exercises the transport without sending a message.
func (d *Deliverer) TestConnection(ctx context.Context) error {
	return d.transport.TestConnection(ctx)
}
