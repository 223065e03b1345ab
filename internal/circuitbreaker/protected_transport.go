package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/relay"
)

// ProtectedTransport decorates a relay.Transport with a Breaker. Only
// infrastructure failures count against the circuit: a rejected recipient
// or bad credentials says nothing about whether the server is reachable,
// so those pass through without tripping it.
type ProtectedTransport struct {
	transport relay.Transport
	breaker   *Breaker
	logger    *zap.Logger
}

// NewProtectedTransport wraps a transport with circuit breaker protection.
func NewProtectedTransport(transport relay.Transport, breaker *Breaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

// Send forwards to the underlying transport unless the circuit is open,
// in which case it fails fast with a retryable network error.
func (p *ProtectedTransport) Send(ctx context.Context, email *relay.OutboundEmail) error {
	var sendErr error

	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		sendErr = p.transport.Send(ctx, email)
		if sendErr != nil && !countsAgainstCircuit(sendErr) {
			return nil
		}
		return sendErr
	})

	if errors.Is(err, ErrOpen) {
		p.logger.Warn("circuit breaker rejected send, failing fast",
			zap.String("to", email.ToAddress),
		)
		return relay.NewSendError(relay.KindNetworkError,
			fmt.Errorf("%w: email transport unavailable", ErrOpen))
	}
	return sendErr
}

// TestConnection bypasses the breaker: the whole point of the operation
// is to poke the real server.
func (p *ProtectedTransport) TestConnection(ctx context.Context) error {
	return p.transport.TestConnection(ctx)
}

// Breaker exposes the underlying breaker for stats endpoints.
func (p *ProtectedTransport) Breaker() *Breaker {
	return p.breaker
}

func countsAgainstCircuit(err error) bool {
	var se *relay.SendError
	if errors.As(err, &se) {
		switch se.Kind {
		case relay.KindAuthenticationFailed, relay.KindInvalidRecipient:
			return false
		}
	}
	return true
}
