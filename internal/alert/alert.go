// Package alert raises operator alerts for relay health events: a queue
// stuck at capacity, a circuit that will not close, repeated auth
// failures. Alerts are about the relay itself, never about individual
// messages.
package alert

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one operator alert.
type Event struct {
	Severity Severity          `json:"severity"`
	Summary  string            `json:"summary"`
	Detail   string            `json:"detail,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	At       time.Time         `json:"at"`
}

// Notifier delivers alerts to one destination.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Fanout delivers each alert to every notifier, logging failures rather
// than propagating them; an unreachable alert channel must never affect
// the relay path.
type Fanout struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewFanout builds a fanout over the configured notifiers.
func NewFanout(logger *zap.Logger, notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers, logger: logger}
}

// Notify sends the event to every destination.
func (f *Fanout) Notify(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			f.logger.Error("alert notifier failed",
				zap.String("summary", ev.Summary),
				zap.Error(err),
			)
		}
	}
}

// LogNotifier writes alerts to the application log. Always configured,
// so an alert is never silently lost even with no external destinations.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the event at a level matching its severity.
func (l *LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("severity", string(ev.Severity)),
		zap.String("detail", ev.Detail),
		zap.Any("labels", ev.Labels),
	}
	switch ev.Severity {
	case SeverityCritical:
		l.logger.Error("ALERT: "+ev.Summary, fields...)
	case SeverityWarning:
		l.logger.Warn("ALERT: "+ev.Summary, fields...)
	default:
		l.logger.Info("ALERT: "+ev.Summary, fields...)
	}
	return nil
}
