package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies provider errors for circuit-breaker bookkeeping
type ErrorKind int

const (
	// ErrorTransient covers connection failures, timeouts and provider-side
	// faults; these count as circuit failures
	ErrorTransient ErrorKind = iota
	// ErrorCaller covers invalid input from our side (bad card, bad amount);
	// these are excluded from circuit failure counting
	ErrorCaller
	// ErrorRateLimited covers provider throttling; treated as transient
	ErrorRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransient:
		return "transient"
	case ErrorCaller:
		return "caller_error"
	case ErrorRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// ProviderError is a classified error reported by the payment provider
type ProviderError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s/%s): %s", e.Kind, e.Code, e.Message)
}

// Classify maps any error from a gateway call to an ErrorKind.
// Unknown errors and context timeouts are treated as transient so the
// breaker protects against them.
func Classify(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTransient
	}
	return ErrorTransient
}

// IsCallerError reports whether the error must not count as a circuit
// failure. Used as the breaker's exclusion predicate.
func IsCallerError(err error) bool {
	return Classify(err) == ErrorCaller
}
