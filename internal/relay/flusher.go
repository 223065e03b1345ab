package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/db"
)

// Queue is the slice of the queue store the flusher needs.
type Queue interface {
	LeaseOldest(ctx context.Context, lease time.Duration) (*db.QueuedMessage, error)
	Delete(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64) error
}

// queueDeliverer lets tests drive the flush loop with a fake pipeline.
type queueDeliverer interface {
	DeliverQueued(ctx context.Context, msg InboundMessage, retryCount int) DeliveryResult
}

// FlushStatus classifies the outcome of one flush invocation.
type FlushStatus int

const (
	FlushEmpty FlushStatus = iota
	FlushSuccess
	FlushPartial
	FlushFailed
)

func (s FlushStatus) String() string {
	switch s {
	case FlushEmpty:
		return "empty"
	case FlushSuccess:
		return "success"
	case FlushPartial:
		return "partial"
	case FlushFailed:
		return "error"
	default:
		return "unknown"
	}
}

// FlushResult reports how far a flush got.
type FlushResult struct {
	Status    FlushStatus `json:"status"`
	Processed int         `json:"processed"`
	Err       string      `json:"error,omitempty"`
}

// Flusher drains the retry queue through the delivery pipeline, oldest
// first, stopping at the first failure. Failures are usually correlated
// (same dead server, same missing network), so hammering the rest of the
// queue after one failure only burns connections.
type Flusher struct {
	queue     Queue
	deliverer queueDeliverer
	lease     time.Duration
	logger    *zap.Logger
}

// NewFlusher creates a flusher. The lease bounds how long a claimed row
// stays invisible to concurrent flushes if this one dies mid-send.
func NewFlusher(queue Queue, deliverer queueDeliverer, lease time.Duration, logger *zap.Logger) *Flusher {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Flusher{
		queue:     queue,
		deliverer: deliverer,
		lease:     lease,
		logger:    logger,
	}
}

// Flush processes queued messages until the queue is empty or a delivery
// fails. A message the filter now rejects is dropped: it can never send.
func (f *Flusher) Flush(ctx context.Context) FlushResult {
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			return FlushResult{Status: FlushFailed, Processed: processed, Err: err.Error()}
		}

		queued, err := f.queue.LeaseOldest(ctx, f.lease)
		if err != nil {
			f.logger.Error("flush aborted: cannot read queue", zap.Error(err))
			return FlushResult{Status: FlushFailed, Processed: processed, Err: err.Error()}
		}
		if queued == nil {
			if processed == 0 {
				return FlushResult{Status: FlushEmpty}
			}
			f.logger.Info("queue flush complete", zap.Int("processed", processed))
			return FlushResult{Status: FlushSuccess, Processed: processed}
		}

		msg := InboundMessage{
			Sender:     queued.Sender,
			Body:       queued.Body,
			ReceivedAt: queued.ReceivedAt,
		}

		result := f.deliverer.DeliverQueued(ctx, msg, queued.RetryCount)

		switch result.Outcome {
		case OutcomeSuccess:
			if err := f.queue.Delete(ctx, queued.ID); err != nil {
				f.logger.Error("failed to delete sent message from queue",
					zap.Int64("id", queued.ID),
					zap.Error(err),
				)
				return FlushResult{Status: FlushFailed, Processed: processed, Err: err.Error()}
			}
			processed++

		case OutcomeSkipped:
			f.logger.Info("dropping queued message that no longer matches filter",
				zap.Int64("id", queued.ID),
				zap.String("sender", queued.Sender),
			)
			if err := f.queue.Delete(ctx, queued.ID); err != nil {
				f.logger.Error("failed to drop filtered message from queue",
					zap.Int64("id", queued.ID),
					zap.Error(err),
				)
				return FlushResult{Status: FlushFailed, Processed: processed, Err: err.Error()}
			}
			// Dropped, not delivered: Processed counts sends only.

		default: // OutcomeFailure, OutcomeRetry
			if err := f.queue.IncrementRetry(ctx, queued.ID); err != nil {
				f.logger.Error("failed to bump retry count",
					zap.Int64("id", queued.ID),
					zap.Error(err),
				)
			}
			f.logger.Warn("flush stopped at first failure",
				zap.Int64("id", queued.ID),
				zap.String("kind", result.Kind.String()),
				zap.String("detail", result.Detail),
				zap.Int("processed", processed),
			)
			return FlushResult{Status: FlushPartial, Processed: processed}
		}
	}
}
