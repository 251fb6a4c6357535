package gateway

import "context"

// PaymentGateway is the outbound contract with the payment provider.
// Every mutating call carries an idempotency key so at-least-once delivery
// has at-most-once effect on the provider side. Implementations may block;
// callers are expected to wrap calls with a circuit breaker and a context
// timeout.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, idempotencyKey string, amount float64, currency string, metadata map[string]string) (*ProviderResult, error)
	Refund(ctx context.Context, idempotencyKey, paymentRef string, amount float64) (*ProviderResult, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionStatus, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentStatus, error)
}

// ProviderResult is the provider's answer to a mutating call
type ProviderResult struct {
	ProviderRef   string
	Status        string
	TransactionID string
}

// CheckoutSessionStatus is the provider's view of a checkout session
type CheckoutSessionStatus struct {
	SessionID       string
	PaymentIntentID string
	Status          string
	PaymentStatus   string
	AmountTotal     float64
	Currency        string
}

// PaymentIntentStatus is the provider's view of a payment intent.
// Charge is nil when no charge has been attempted yet.
type PaymentIntentStatus struct {
	IntentID string
	Status   string
	Amount   float64
	Currency string
	Charge   *ChargeStatus
}

// ChargeStatus is the charge sub-resource linked to a payment intent
type ChargeStatus struct {
	ChargeID       string
	Refunded       bool
	AmountRefunded float64
}

// Provider status values that mean the money side succeeded
const (
	StatusSucceeded = "succeeded"
	StatusPaid      = "paid"
	StatusComplete  = "complete"
)

// IsPaidStatus reports whether a provider status string is terminal-success
func IsPaidStatus(status string) bool {
	switch status {
	case StatusSucceeded, StatusPaid, StatusComplete:
		return true
	default:
		return false
	}
}
