package relay

import "fmt"

// ErrorKind classifies a failed delivery attempt. Classification happens
// once, at the transport boundary, and is passed up unchanged.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuthenticationFailed
	KindInvalidRecipient
	KindSMTPError
	KindNetworkError
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuthenticationFailed:
		return "authentication_failed"
	case KindInvalidRecipient:
		return "invalid_recipient"
	case KindSMTPError:
		return "smtp_error"
	case KindNetworkError:
		return "network_error"
	case KindUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Retryable reports whether the failure class is worth retrying. Bad
// credentials and rejected recipients will not fix themselves; transient
// network and server faults might.
func (k ErrorKind) Retryable() bool {
	return k == KindNetworkError || k == KindSMTPError
}

// Outcome is the result class of a single delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkipped
	OutcomeFailure
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailure:
		return "failure"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// DeliveryResult is the outcome of exactly one delivery attempt.
//
// Skipped is distinct from Failure: a message the filter rejects was never
// supposed to be sent and must not be confused with a transport fault.
type DeliveryResult struct {
	Outcome    Outcome
	Kind       ErrorKind
	Detail     string
	RetryCount int
	MaxRetries int
}

func Success() DeliveryResult {
	return DeliveryResult{Outcome: OutcomeSuccess}
}

func Skipped(detail string) DeliveryResult {
	return DeliveryResult{Outcome: OutcomeSkipped, Detail: detail}
}

func Failure(kind ErrorKind, detail string) DeliveryResult {
	return DeliveryResult{Outcome: OutcomeFailure, Kind: kind, Detail: detail}
}

func RetryRequested(count, max int) DeliveryResult {
	return DeliveryResult{Outcome: OutcomeRetry, Kind: KindNetworkError, RetryCount: count, MaxRetries: max}
}

// Failed reports whether the attempt should land the message in the retry
// queue. Both explicit failures and retry requests qualify.
func (r DeliveryResult) Failed() bool {
	return r.Outcome == OutcomeFailure || r.Outcome == OutcomeRetry
}

// SendError carries a transport failure and its classification across the
// transport boundary.
type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// NewSendError wraps err with a classification.
func NewSendError(kind ErrorKind, err error) *SendError {
	return &SendError{Kind: kind, Err: err}
}
