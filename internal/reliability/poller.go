package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tutor-booking/internal/infrastructure/gateway"
)

// StatusInfo is an immutable snapshot of what the provider currently reports
// for a payment. A populated Error means the provider answered but the lookup
// itself failed; this is a best-effort read path and does not raise.
type StatusInfo struct {
	ProviderRef   string    `json:"provider_ref"`
	PaymentIntent string    `json:"payment_intent,omitempty"`
	Status        string    `json:"status"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Paid          bool      `json:"paid"`
	Refunded      bool      `json:"refunded"`
	LastChecked   time.Time `json:"last_checked"`
	Error         string    `json:"error,omitempty"`
}

// StatusPoller reconciles payment status against the provider when a webhook
// may have been missed. Lookups are cached with a short TTL so a burst of
// reconciliation requests does not hammer the provider; every cache miss goes
// through the circuit breaker for the payment dependency.
type StatusPoller struct {
	gw      gateway.PaymentGateway
	breaker *CircuitBreaker

	mu    sync.Mutex
	cache map[string]StatusInfo
	ttl   time.Duration
	now   func() time.Time // for testing
}

func NewStatusPoller(gw gateway.PaymentGateway, breaker *CircuitBreaker, ttl time.Duration) *StatusPoller {
	return &StatusPoller{
		gw:      gw,
		breaker: breaker,
		cache:   make(map[string]StatusInfo),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CheckCheckoutSession returns the provider's view of a checkout session
func (p *StatusPoller) CheckCheckoutSession(ctx context.Context, sessionID string) (StatusInfo, error) {
	return p.check(ctx, "checkout_session:"+sessionID, func(ctx context.Context) (StatusInfo, error) {
		sess, err := p.gw.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			return StatusInfo{}, err
		}
		return StatusInfo{
			ProviderRef:   sess.SessionID,
			PaymentIntent: sess.PaymentIntentID,
			Status:        sess.Status,
			Amount:        sess.AmountTotal,
			Currency:      sess.Currency,
			Paid:          gateway.IsPaidStatus(sess.PaymentStatus),
		}, nil
	})
}

// CheckPaymentIntent returns the provider's view of a payment intent
func (p *StatusPoller) CheckPaymentIntent(ctx context.Context, intentID string) (StatusInfo, error) {
	return p.check(ctx, "payment_intent:"+intentID, func(ctx context.Context) (StatusInfo, error) {
		intent, err := p.gw.GetPaymentIntent(ctx, intentID)
		if err != nil {
			return StatusInfo{}, err
		}
		info := StatusInfo{
			ProviderRef: intent.IntentID,
			Status:      intent.Status,
			Amount:      intent.Amount,
			Currency:    intent.Currency,
			Paid:        gateway.IsPaidStatus(intent.Status),
		}
		if intent.Charge != nil {
			info.Refunded = intent.Charge.Refunded || intent.Charge.AmountRefunded > 0
		}
		return info, nil
	})
}

func (p *StatusPoller) check(ctx context.Context, key string, fetch func(ctx context.Context) (StatusInfo, error)) (StatusInfo, error) {
	p.mu.Lock()
	if cached, ok := p.cache[key]; ok && p.now().Sub(cached.LastChecked) < p.ttl {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	var info StatusInfo
	var fetchErr error

	err := p.breaker.ExecuteGuarded(func() error {
		info, fetchErr = fetch(ctx)
		return fetchErr
	})

	if errors.Is(err, ErrCircuitOpen) {
		// The caller may be blocking a user-visible reconciliation; circuit
		// open is a hard failure here, not a degraded read.
		return StatusInfo{}, fmt.Errorf("%w: circuit open for %s", ErrPaymentServiceUnavailable, p.breaker.Name())
	}
	if err != nil {
		return StatusInfo{
			ProviderRef: key,
			LastChecked: p.now(),
			Error:       err.Error(),
		}, nil
	}

	info.LastChecked = p.now()

	p.mu.Lock()
	p.cache[key] = info
	p.mu.Unlock()

	return info, nil
}
