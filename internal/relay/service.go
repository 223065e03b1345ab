package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/metrics"
)

// EnqueueQueue is the producer side of the retry queue.
type EnqueueQueue interface {
	Enqueue(ctx context.Context, sender, body string, receivedAt time.Time) (int64, int, error)
	Size(ctx context.Context) (int, error)
}

// Service ties one inbound message event to the full pipeline: attempt
// delivery, queue on failure, then drain the queue. The HTTP handler and
// the SQS consumer both feed it.
type Service struct {
	deliverer *Deliverer
	queue     EnqueueQueue
	flusher   *Flusher
	logger    *zap.Logger
}

// NewService wires the ingest pipeline.
func NewService(deliverer *Deliverer, queue EnqueueQueue, flusher *Flusher, logger *zap.Logger) *Service {
	return &Service{
		deliverer: deliverer,
		queue:     queue,
		flusher:   flusher,
		logger:    logger,
	}
}

// HandleInbound runs the pipeline for one received message and reports
// what happened to it. A failed delivery is parked in the queue rather
// than surfaced as an ingest error; the caller already handed the message
// off and cannot retry it.
func (s *Service) HandleInbound(ctx context.Context, msg InboundMessage) DeliveryResult {
	result := s.deliverer.Deliver(ctx, msg)
	metrics.RecordDelivery(result.Outcome.String(), result.Kind.String())

	if result.Failed() {
		id, evicted, err := s.queue.Enqueue(ctx, msg.Sender, msg.Body, msg.ReceivedAt)
		if err != nil {
			s.logger.Error("failed to queue undelivered message",
				zap.String("sender", msg.Sender),
				zap.Error(err),
			)
			return result
		}
		if evicted > 0 {
			metrics.RecordQueueEvictions(evicted)
			s.logger.Warn("queue at capacity, evicted oldest messages",
				zap.Int("evicted", evicted),
			)
		}
		s.logger.Info("message queued for retry",
			zap.Int64("id", id),
			zap.String("kind", result.Kind.String()),
		)
	}

	// A fresh success is evidence the path to the server works again, so
	// drain whatever is parked. After a fresh failure the flush still runs
	// once: the failure may be message-specific.
	if result.Outcome == OutcomeSuccess || result.Failed() {
		s.FlushQueue(ctx)
	}

	return result
}

// FlushQueue drains the retry queue and records the outcome.
func (s *Service) FlushQueue(ctx context.Context) FlushResult {
	fr := s.flusher.Flush(ctx)
	metrics.RecordFlush(fr.Status.String(), fr.Processed)

	if size, err := s.queue.Size(ctx); err == nil {
		metrics.SetQueueDepth(size)
	}
	return fr
}

// TestConnection exercises the configured transport end to end.
func (s *Service) TestConnection(ctx context.Context) error {
	return s.deliverer.TestConnection(ctx)
}
