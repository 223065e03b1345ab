// Package circuitbreaker guards the outbound email transport. When the
// mail server starts failing every attempt, each retry still costs a full
// connect timeout; tripping the circuit turns those into instant
// rejections until a probe shows the server is back.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position.
//
//	Closed -> Open      after maxFailures consecutive failures
//	Open -> HalfOpen    once the recovery timeout has elapsed
//	HalfOpen -> Closed  when the probe call succeeds
//	HalfOpen -> Open    when the probe call fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned for calls rejected while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes one breaker.
type Config struct {
	Name            string
	MaxFailures     int           // consecutive failures before opening
	RecoveryTimeout time.Duration // time in Open before a probe is allowed
}

// DefaultConfig returns settings suitable for a mail server downstream.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxFailures:     5,
		RecoveryTimeout: 30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. In HalfOpen exactly
// one caller gets through as the probe; the rest are rejected until the
// probe settles.
type Breaker struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probing     bool
	rejected    int64
	transitions int64
}

// New creates a breaker in the Closed state.
func New(cfg Config, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, logger: logger, state: StateClosed}
}

// Do runs fn under the breaker. An open circuit returns ErrOpen without
// invoking fn; otherwise fn's result drives the state machine.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			b.rejected++
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		b.logger.Info("circuit breaker allowing probe",
			zap.String("name", b.cfg.Name),
		)
		return nil

	case StateHalfOpen:
		if b.probing {
			b.rejected++
			return ErrOpen
		}
		b.probing = true
		return nil

	default:
		b.rejected++
		return ErrOpen
	}
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.setState(StateClosed)
			b.logger.Info("circuit breaker closed, downstream recovered",
				zap.String("name", b.cfg.Name),
			)
		}
		b.probing = false
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	case StateHalfOpen:
		// Probe failed, downstream still dark.
		b.trip()
	}
	b.probing = false
}

func (b *Breaker) trip() {
	b.setState(StateOpen)
	b.openedAt = time.Now()
	b.logger.Warn("circuit breaker opened",
		zap.String("name", b.cfg.Name),
		zap.Int("consecutive_failures", b.failures),
	)
}

func (b *Breaker) setState(s State) {
	if b.state != s {
		b.state = s
		b.transitions++
	}
}

// GetState reports the breaker position.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a snapshot for dashboards and the health endpoint.
type Stats struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Failures    int    `json:"consecutive_failures"`
	Rejected    int64  `json:"rejected_total"`
	Transitions int64  `json:"state_transitions"`
}

// Stats returns a consistent snapshot.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:        b.cfg.Name,
		State:       b.state.String(),
		Failures:    b.failures,
		Rejected:    b.rejected,
		Transitions: b.transitions,
	}
}

// Reset forces the breaker closed. Operator override.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.probing = false
	b.logger.Info("circuit breaker manually reset",
		zap.String("name", b.cfg.Name),
	)
}
