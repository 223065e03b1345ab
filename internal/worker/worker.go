// Package worker runs the background queue flusher. Event-triggered
// flushes only fire when traffic arrives; the worker guarantees parked
// messages also drain on a quiet relay once connectivity returns.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/alert"
	"github.com/smsrelay/smsrelay/internal/relay"
)

// Flusher is the slice of the relay service the worker drives.
type Flusher interface {
	FlushQueue(ctx context.Context) relay.FlushResult
}

type Worker struct {
	flusher Flusher
	alerts  *alert.Fanout
	config  Config
	logger  *zap.Logger

	consecutivePartial int
}

type Config struct {
	FlushInterval time.Duration
	// AlertAfterPartials is how many back-to-back partial flushes mean
	// the downstream is stuck and an operator should hear about it.
	AlertAfterPartials int
}

func New(flusher Flusher, alerts *alert.Fanout, cfg Config, logger *zap.Logger) *Worker {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.AlertAfterPartials <= 0 {
		cfg.AlertAfterPartials = 3
	}
	return &Worker{
		flusher: flusher,
		alerts:  alerts,
		config:  cfg,
		logger:  logger,
	}
}

// Start flushes once immediately, then on every tick until ctx is
// cancelled. The startup flush drains messages parked by a previous run
// that died or lost power before it could send them.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("flush worker starting",
		zap.Duration("interval", w.config.FlushInterval),
	)

	w.runFlush(ctx)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("flush worker stopping")
			return
		case <-ticker.C:
			w.runFlush(ctx)
		}
	}
}

func (w *Worker) runFlush(ctx context.Context) {
	result := w.flusher.FlushQueue(ctx)

	switch result.Status {
	case relay.FlushEmpty:
		w.consecutivePartial = 0

	case relay.FlushSuccess:
		w.consecutivePartial = 0
		w.logger.Info("periodic flush drained queue",
			zap.Int("processed", result.Processed),
		)

	case relay.FlushPartial:
		w.consecutivePartial++
		w.logger.Warn("periodic flush stopped early",
			zap.Int("processed", result.Processed),
			zap.Int("consecutive_partials", w.consecutivePartial),
		)
		if w.consecutivePartial == w.config.AlertAfterPartials && w.alerts != nil {
			w.alerts.Notify(ctx, alert.Event{
				Severity: alert.SeverityWarning,
				Summary:  "retry queue is not draining",
				Detail: fmt.Sprintf("%d consecutive flushes stopped at a failing delivery",
					w.consecutivePartial),
			})
		}

	case relay.FlushFailed:
		w.logger.Error("periodic flush failed",
			zap.String("error", result.Err),
		)
		if w.alerts != nil {
			w.alerts.Notify(ctx, alert.Event{
				Severity: alert.SeverityCritical,
				Summary:  "queue flush failed",
				Detail:   result.Err,
			})
		}
	}
}
