package reconcile

import (
	"context"
	"testing"
	"time"

	"tutor-booking/internal/application/coordinator"
	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/common/metrics"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/infrastructure/auditlog"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/infrastructure/eventbus"
	"tutor-booking/internal/infrastructure/gateway"
	"tutor-booking/internal/reliability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	reconciler *Reconciler
	coord      *coordinator.Coordinator
	store      *bookingstore.MemoryStore
	gw         *gateway.SimulatedGateway
	breaker    *reliability.CircuitBreaker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := bookingstore.NewMemoryStore()
	gw := gateway.NewSimulatedGateway()

	breakers := reliability.NewRegistry(reliability.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		Excluded:         gateway.IsCallerError,
	}, nil)
	breaker := breakers.Get("payment-provider")
	tracker := reliability.NewWebhookRetryTracker(100, time.Hour)

	// Zero TTL so every sweep asks the provider instead of the cache
	poller := reliability.NewStatusPoller(gw, breaker, 0)

	coord := coordinator.New(store, auditlog.NewMemoryLog(), eventbus.NewMemoryPublisher(),
		gw, breakers, tracker, poller, metrics.NewCounterCollector(), logger.NewNopLogger(),
		coordinator.Config{DisputeWindow: 30 * 24 * time.Hour, GatewayTimeout: 5 * time.Second})

	// Zero staleAfter makes everything written before the sweep eligible
	reconciler := New(store, poller, coord, logger.NewNopLogger(), time.Minute, 0, 10)

	return &testEnv{reconciler: reconciler, coord: coord, store: store, gw: gw, breaker: breaker}
}

func authorizedBooking(t *testing.T, env *testEnv) *coordinator.BookingView {
	t.Helper()

	view, err := env.coord.CreateBooking(context.Background(), coordinator.CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)

	view, err = env.coord.AuthorizePayment(context.Background(), view.BookingID, view.Version)
	require.NoError(t, err)
	return view
}

func TestReconciler_CapturesPaidStalePayment(t *testing.T) {
	env := newTestEnv(t)
	view := authorizedBooking(t, env)

	// The simulator reports authorized intents as paid, standing in for a
	// capture whose webhook never arrived
	reconciled, err := env.reconciler.ReconcileOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reconciled)

	current, err := env.coord.GetBooking(context.Background(), view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.PaymentCaptured), current.PaymentState)
	assert.Equal(t, view.Version+1, current.Version)
}

func TestReconciler_SweepIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	authorizedBooking(t, env)

	reconciled, err := env.reconciler.ReconcileOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reconciled)

	// The captured booking no longer matches the stale-payment filter
	reconciled, err = env.reconciler.ReconcileOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, reconciled)
}

func TestReconciler_SkipsBookingsWithoutPaymentRef(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.coord.CreateBooking(context.Background(), coordinator.CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)

	reconciled, err := env.reconciler.ReconcileOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, reconciled)
}

func TestReconciler_AbortsSweepWhenCircuitOpen(t *testing.T) {
	env := newTestEnv(t)
	authorizedBooking(t, env)

	env.gw.FailAlways(&gateway.ProviderError{Kind: gateway.ErrorTransient, Code: "api_error"})
	env.breaker.RecordFailure(&gateway.ProviderError{Kind: gateway.ErrorTransient})
	env.breaker.RecordFailure(&gateway.ProviderError{Kind: gateway.ErrorTransient})

	reconciled, err := env.reconciler.ReconcileOnce(context.Background())
	assert.ErrorIs(t, err, reliability.ErrPaymentServiceUnavailable)
	assert.Equal(t, 0, reconciled)
}

func TestReconciler_ProviderErrorSkipsRecord(t *testing.T) {
	env := newTestEnv(t)
	authorizedBooking(t, env)

	// One degraded lookup: the sweep continues and captures nothing
	env.gw.FailNext(&gateway.ProviderError{Kind: gateway.ErrorTransient, Code: "api_error"})

	reconciled, err := env.reconciler.ReconcileOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, reconciled)
}
