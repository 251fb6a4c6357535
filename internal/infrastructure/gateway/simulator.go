package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimulatedGateway is an in-process payment provider used by local runs and
// tests. It honors idempotency keys (a replayed key returns the original
// result without a second effect), simulates latency, and can be forced to
// fail or stall to exercise the reliability layer.
type SimulatedGateway struct {
	mu         sync.Mutex
	intents    map[string]*PaymentIntentStatus
	byKey      map[string]*ProviderResult
	nextErr    error
	failAlways error
	avgLatency time.Duration
	seq        int
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{
		intents:    make(map[string]*PaymentIntentStatus),
		byKey:      make(map[string]*ProviderResult),
		avgLatency: 10 * time.Millisecond,
	}
}

// FailNext makes the next mutating call return err once
func (g *SimulatedGateway) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextErr = err
}

// FailAlways makes every call return err until reset with nil
func (g *SimulatedGateway) FailAlways(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAlways = err
}

func (g *SimulatedGateway) takeErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAlways != nil {
		return g.failAlways
	}
	if err := g.nextErr; err != nil {
		g.nextErr = nil
		return err
	}
	return nil
}

func (g *SimulatedGateway) sleep(ctx context.Context) error {
	select {
	case <-time.After(g.avgLatency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *SimulatedGateway) CreatePayment(ctx context.Context, idempotencyKey string, amount float64, currency string, metadata map[string]string) (*ProviderResult, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	if err := g.takeErr(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.byKey[idempotencyKey]; ok {
		return prev, nil
	}

	g.seq++
	intentID := fmt.Sprintf("pi_sim_%d", g.seq)
	g.intents[intentID] = &PaymentIntentStatus{
		IntentID: intentID,
		Status:   StatusSucceeded,
		Amount:   amount,
		Currency: currency,
		Charge: &ChargeStatus{
			ChargeID: fmt.Sprintf("ch_sim_%d", g.seq),
		},
	}

	result := &ProviderResult{
		ProviderRef:   intentID,
		Status:        StatusSucceeded,
		TransactionID: fmt.Sprintf("txn_sim_%d", g.seq),
	}
	g.byKey[idempotencyKey] = result
	return result, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, idempotencyKey, paymentRef string, amount float64) (*ProviderResult, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	if err := g.takeErr(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.byKey[idempotencyKey]; ok {
		return prev, nil
	}

	intent, ok := g.intents[paymentRef]
	if !ok {
		return nil, &ProviderError{Kind: ErrorCaller, Code: "resource_missing", Message: "no such payment: " + paymentRef}
	}
	if intent.Charge != nil {
		intent.Charge.AmountRefunded += amount
		if intent.Charge.AmountRefunded >= intent.Amount {
			intent.Charge.Refunded = true
		}
	}

	g.seq++
	result := &ProviderResult{
		ProviderRef:   paymentRef,
		Status:        StatusSucceeded,
		TransactionID: fmt.Sprintf("re_sim_%d", g.seq),
	}
	g.byKey[idempotencyKey] = result
	return result, nil
}

func (g *SimulatedGateway) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSessionStatus, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	if err := g.takeErr(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Checkout sessions map 1:1 onto intents in the simulator
	intent, ok := g.intents[sessionID]
	if !ok {
		return nil, &ProviderError{Kind: ErrorCaller, Code: "resource_missing", Message: "no such checkout session: " + sessionID}
	}

	return &CheckoutSessionStatus{
		SessionID:       sessionID,
		PaymentIntentID: intent.IntentID,
		Status:          StatusComplete,
		PaymentStatus:   StatusPaid,
		AmountTotal:     intent.Amount,
		Currency:        intent.Currency,
	}, nil
}

func (g *SimulatedGateway) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntentStatus, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	if err := g.takeErr(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	intent, ok := g.intents[intentID]
	if !ok {
		return nil, &ProviderError{Kind: ErrorCaller, Code: "resource_missing", Message: "no such payment intent: " + intentID}
	}

	copied := *intent
	if intent.Charge != nil {
		charge := *intent.Charge
		copied.Charge = &charge
	}
	return &copied, nil
}
