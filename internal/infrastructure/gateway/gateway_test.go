package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedGateway_CreatePaymentIdempotency(t *testing.T) {
	gw := NewSimulatedGateway()
	ctx := context.Background()

	first, err := gw.CreatePayment(ctx, "authorize_abc", 100.0, "EUR", nil)
	assert.NoError(t, err)
	assert.NotEmpty(t, first.ProviderRef)

	// Replaying the key returns the original result, no second intent
	again, err := gw.CreatePayment(ctx, "authorize_abc", 100.0, "EUR", nil)
	assert.NoError(t, err)
	assert.Equal(t, first.ProviderRef, again.ProviderRef)
	assert.Equal(t, first.TransactionID, again.TransactionID)

	other, err := gw.CreatePayment(ctx, "authorize_def", 100.0, "EUR", nil)
	assert.NoError(t, err)
	assert.NotEqual(t, first.ProviderRef, other.ProviderRef)
}

func TestSimulatedGateway_RefundIdempotency(t *testing.T) {
	gw := NewSimulatedGateway()
	ctx := context.Background()

	created, err := gw.CreatePayment(ctx, "authorize_abc", 100.0, "EUR", nil)
	assert.NoError(t, err)

	_, err = gw.Refund(ctx, "refund_abc", created.ProviderRef, 40.0)
	assert.NoError(t, err)

	// A replayed refund key does not move more money
	_, err = gw.Refund(ctx, "refund_abc", created.ProviderRef, 40.0)
	assert.NoError(t, err)

	intent, err := gw.GetPaymentIntent(ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.Equal(t, 40.0, intent.Charge.AmountRefunded)
	assert.False(t, intent.Charge.Refunded)

	_, err = gw.Refund(ctx, "refund_rest", created.ProviderRef, 60.0)
	assert.NoError(t, err)

	intent, err = gw.GetPaymentIntent(ctx, created.ProviderRef)
	assert.NoError(t, err)
	assert.True(t, intent.Charge.Refunded)
}

func TestSimulatedGateway_RefundUnknownPayment(t *testing.T) {
	gw := NewSimulatedGateway()

	_, err := gw.Refund(context.Background(), "refund_x", "pi_unknown", 10.0)
	assert.Error(t, err)

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCaller, pe.Kind)
}

func TestSimulatedGateway_FailNext(t *testing.T) {
	gw := NewSimulatedGateway()
	ctx := context.Background()

	gw.FailNext(&ProviderError{Kind: ErrorTransient, Code: "api_error"})

	_, err := gw.CreatePayment(ctx, "authorize_abc", 100.0, "EUR", nil)
	assert.Error(t, err)

	// Only the next call fails
	_, err = gw.CreatePayment(ctx, "authorize_abc", 100.0, "EUR", nil)
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{"provider transient", &ProviderError{Kind: ErrorTransient}, ErrorTransient},
		{"provider caller", &ProviderError{Kind: ErrorCaller}, ErrorCaller},
		{"provider rate limited", &ProviderError{Kind: ErrorRateLimited}, ErrorRateLimited},
		{"wrapped provider error", errors.Join(errors.New("call failed"), &ProviderError{Kind: ErrorCaller}), ErrorCaller},
		{"deadline exceeded", context.DeadlineExceeded, ErrorTransient},
		{"unknown error", errors.New("boom"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestIsCallerError(t *testing.T) {
	assert.True(t, IsCallerError(&ProviderError{Kind: ErrorCaller}))
	assert.False(t, IsCallerError(&ProviderError{Kind: ErrorTransient}))
	assert.False(t, IsCallerError(errors.New("boom")))
}
