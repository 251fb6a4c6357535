package coordinator

import (
	"context"
	"testing"
	"time"

	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/common/metrics"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/domain/events"
	"tutor-booking/internal/infrastructure/auditlog"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/infrastructure/eventbus"
	"tutor-booking/internal/infrastructure/gateway"
	"tutor-booking/internal/reliability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	coord   *Coordinator
	store   bookingstore.Store
	audit   *auditlog.MemoryLog
	bus     *eventbus.MemoryPublisher
	gw      *gateway.SimulatedGateway
	tracker *reliability.WebhookRetryTracker
}

// hookStore wraps the in-memory store with hooks fired around its calls,
// so tests can interleave a competing write or observe mid-operation state
type hookStore struct {
	*bookingstore.MemoryStore
	beforeCAS func() // runs once, before the next CASUpdate
	onLoad    func(bookingID string)
}

func (s *hookStore) CASUpdate(ctx context.Context, b *booking.Booking, expectedVersion int) error {
	if hook := s.beforeCAS; hook != nil {
		s.beforeCAS = nil
		hook()
	}
	return s.MemoryStore.CASUpdate(ctx, b, expectedVersion)
}

func (s *hookStore) LoadBooking(ctx context.Context, bookingID string) (*booking.Booking, error) {
	if s.onLoad != nil {
		s.onLoad(bookingID)
	}
	return s.MemoryStore.LoadBooking(ctx, bookingID)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, bookingstore.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, store bookingstore.Store) *testEnv {
	t.Helper()

	audit := auditlog.NewMemoryLog()
	bus := eventbus.NewMemoryPublisher()
	gw := gateway.NewSimulatedGateway()

	breakers := reliability.NewRegistry(reliability.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		Excluded:         gateway.IsCallerError,
	}, BreakerEventHandler(bus, logger.NewNopLogger()))
	tracker := reliability.NewWebhookRetryTracker(100, time.Hour)
	poller := reliability.NewStatusPoller(gw, breakers.Get("payment-provider"), time.Minute)

	coord := New(store, audit, bus, gw, breakers, tracker, poller,
		metrics.NewCounterCollector(), logger.NewNopLogger(), Config{
			DisputeWindow:  30 * 24 * time.Hour,
			GatewayTimeout: 5 * time.Second,
		})

	return &testEnv{coord: coord, store: store, audit: audit, bus: bus, gw: gw, tracker: tracker}
}

// capturedBooking walks a booking through a completed, paid session:
// ENDED/COMPLETED session, CAPTURED payment, version 5.
func capturedBooking(t *testing.T, env *testEnv) *BookingView {
	t.Helper()
	ctx := context.Background()

	view, err := env.coord.CreateBooking(ctx, CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)

	view, err = env.coord.ScheduleSession(ctx, view.BookingID, view.Version)
	require.NoError(t, err)
	view, err = env.coord.StartSession(ctx, view.BookingID, view.Version)
	require.NoError(t, err)
	view, err = env.coord.AuthorizePayment(ctx, view.BookingID, view.Version)
	require.NoError(t, err)
	view, err = env.coord.EndSession(ctx, view.BookingID, view.Version, booking.OutcomeCompleted)
	require.NoError(t, err)
	view, err = env.coord.CapturePayment(ctx, view.BookingID, view.Version)
	require.NoError(t, err)

	return view
}

func TestCoordinator_FullLifecycle(t *testing.T) {
	env := newTestEnv(t)

	view := capturedBooking(t, env)
	assert.Equal(t, string(booking.SessionEnded), view.SessionState)
	assert.Equal(t, string(booking.OutcomeCompleted), view.SessionOutcome)
	assert.Equal(t, string(booking.PaymentCaptured), view.PaymentState)
	assert.Equal(t, string(booking.DisputeNone), view.DisputeState)
	assert.NotEmpty(t, view.PaymentRef)
	assert.Equal(t, 5, view.Version)

	// Every transition left an audit record and a published event
	history, err := env.coord.GetHistory(context.Background(), view.BookingID)
	assert.NoError(t, err)
	assert.Len(t, history, 5)
	assert.Len(t, env.bus.Published(), 5)
}

func TestCoordinator_VersionConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.coord.CreateBooking(ctx, CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)

	// Two actors act on the same version; exactly one wins
	_, err = env.coord.ScheduleSession(ctx, view.BookingID, view.Version)
	assert.NoError(t, err)

	_, err = env.coord.CancelBooking(ctx, view.BookingID, view.Version)
	assert.ErrorIs(t, err, bookingstore.ErrVersionConflict)

	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.SessionScheduled), current.SessionState)
	assert.Equal(t, 1, current.Version)
}

func TestCoordinator_InvalidTransitionLeavesRecordUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.coord.CreateBooking(ctx, CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)

	_, err = env.coord.StartSession(ctx, view.BookingID, view.Version)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)

	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.SessionRequested), current.SessionState)
	assert.Equal(t, 0, current.Version)

	history, err := env.coord.GetHistory(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Empty(t, history)
}

func TestCoordinator_AuthorizeRetryReusesIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.coord.CreateBooking(ctx, CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)

	first, err := env.coord.AuthorizePayment(ctx, view.BookingID, view.Version)
	require.NoError(t, err)

	// A duplicated request after the commit fails on the version check,
	// before any second provider call
	_, err = env.coord.AuthorizePayment(ctx, view.BookingID, view.Version)
	assert.ErrorIs(t, err, bookingstore.ErrVersionConflict)

	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, first.PaymentRef, current.PaymentRef)
}

func TestCoordinator_DisputeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)

	// Student disputes two days after the session ended
	env.coord.now = func() time.Time { return view.SessionEndedAt.Add(48 * time.Hour) }

	disputed, err := env.coord.OpenDispute(ctx, view.BookingID, view.Version, "tutor never showed", "student-1")
	require.NoError(t, err)
	assert.Equal(t, string(booking.DisputeOpen), disputed.DisputeState)
	assert.Equal(t, view.Version+1, disputed.Version)

	// Resolution in the student's favor refunds and closes in one step
	resolved, err := env.coord.ResolveDispute(ctx, view.BookingID, disputed.Version,
		booking.DisputeResolvedRefunded, "ops-1", "refund approved")
	require.NoError(t, err)
	assert.Equal(t, string(booking.DisputeResolvedRefunded), resolved.DisputeState)
	assert.Equal(t, string(booking.PaymentRefunded), resolved.PaymentState)
	assert.Equal(t, 100.0, resolved.RefundedAmount)
	assert.Equal(t, disputed.Version+1, resolved.Version)
}

func TestCoordinator_DisputeUpheldKeepsPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)
	env.coord.now = func() time.Time { return view.SessionEndedAt.Add(time.Hour) }

	disputed, err := env.coord.OpenDispute(ctx, view.BookingID, view.Version, "billing question", "student-1")
	require.NoError(t, err)

	resolved, err := env.coord.ResolveDispute(ctx, view.BookingID, disputed.Version,
		booking.DisputeResolvedUpheld, "ops-1", "charge is correct")
	require.NoError(t, err)
	assert.Equal(t, string(booking.DisputeResolvedUpheld), resolved.DisputeState)
	assert.Equal(t, string(booking.PaymentCaptured), resolved.PaymentState)
	assert.Equal(t, 0.0, resolved.RefundedAmount)
}

func TestCoordinator_DisputeWindowExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)
	env.coord.now = func() time.Time { return view.SessionEndedAt.Add(31 * 24 * time.Hour) }

	_, err := env.coord.OpenDispute(ctx, view.BookingID, view.Version, "too late", "student-1")
	assert.ErrorIs(t, err, booking.ErrDisputeWindowExpired)

	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.DisputeNone), current.DisputeState)
	assert.Equal(t, view.Version, current.Version)
}

func TestCoordinator_RefundResolutionFailsClosedWhenCircuitOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)
	env.coord.now = func() time.Time { return view.SessionEndedAt.Add(time.Hour) }

	disputed, err := env.coord.OpenDispute(ctx, view.BookingID, view.Version, "quality", "student-1")
	require.NoError(t, err)

	// Provider outage: two transient failures trip the breaker
	env.gw.FailAlways(&gateway.ProviderError{Kind: gateway.ErrorTransient, Code: "api_error"})
	for i := 0; i < 2; i++ {
		_, err = env.coord.ResolveDispute(ctx, view.BookingID, disputed.Version,
			booking.DisputeResolvedRefunded, "ops-1", "refund approved")
		assert.Error(t, err)
	}

	_, err = env.coord.ResolveDispute(ctx, view.BookingID, disputed.Version,
		booking.DisputeResolvedRefunded, "ops-1", "refund approved")
	assert.ErrorIs(t, err, reliability.ErrCircuitOpen)

	// No attempt committed anything: dispute stays open, payment untouched
	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.DisputeOpen), current.DisputeState)
	assert.Equal(t, string(booking.PaymentCaptured), current.PaymentState)
	assert.Equal(t, 0.0, current.RefundedAmount)
	assert.Equal(t, disputed.Version, current.Version)

	// The breaker trip itself was published for observers
	var sawBreakerEvent bool
	for _, event := range env.bus.Published() {
		if event.Type() == events.TypeBreakerStateChanged {
			sawBreakerEvent = true
		}
	}
	assert.True(t, sawBreakerEvent)
}

func TestCoordinator_RefundPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)

	partial, err := env.coord.RefundPayment(ctx, view.BookingID, view.Version, 40.0)
	require.NoError(t, err)
	assert.Equal(t, string(booking.PaymentPartiallyRefunded), partial.PaymentState)
	assert.Equal(t, 40.0, partial.RefundedAmount)

	full, err := env.coord.RefundPayment(ctx, view.BookingID, partial.Version, 60.0)
	require.NoError(t, err)
	assert.Equal(t, string(booking.PaymentRefunded), full.PaymentState)
	assert.Equal(t, 100.0, full.RefundedAmount)

	// Over-refund is rejected before any provider call
	_, err = env.coord.RefundPayment(ctx, view.BookingID, full.Version, 1.0)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestCoordinator_RefundRetryAfterConflictRefundsOnce(t *testing.T) {
	store := &hookStore{MemoryStore: bookingstore.NewMemoryStore()}
	env := newTestEnvWithStore(t, store)
	ctx := context.Background()

	view := capturedBooking(t, env)
	env.coord.now = func() time.Time { return view.SessionEndedAt.Add(time.Hour) }

	// A dispute commits between the refund's read and its write, so the
	// refund's provider call has already happened when the conflict surfaces
	store.beforeCAS = func() {
		_, err := env.coord.OpenDispute(ctx, view.BookingID, view.Version, "quality", "student-1")
		require.NoError(t, err)
	}

	_, err := env.coord.RefundPayment(ctx, view.BookingID, view.Version, 40.0)
	require.ErrorIs(t, err, bookingstore.ErrVersionConflict)

	// The retry at the fresh version reuses the provider-side refund
	current, err := env.coord.GetBooking(ctx, view.BookingID)
	require.NoError(t, err)
	retried, err := env.coord.RefundPayment(ctx, view.BookingID, current.Version, 40.0)
	require.NoError(t, err)
	assert.Equal(t, 40.0, retried.RefundedAmount)

	intent, err := env.gw.GetPaymentIntent(ctx, view.PaymentRef)
	require.NoError(t, err)
	require.NotNil(t, intent.Charge)
	assert.Equal(t, 40.0, intent.Charge.AmountRefunded)

	// A later, genuinely new refund of the same amount moves money again
	full, err := env.coord.RefundPayment(ctx, view.BookingID, retried.Version, 40.0)
	require.NoError(t, err)
	assert.Equal(t, 80.0, full.RefundedAmount)

	intent, err = env.gw.GetPaymentIntent(ctx, view.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, 80.0, intent.Charge.AmountRefunded)
}

func TestCoordinator_IngestWebhook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.coord.CreateBooking(ctx, CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)
	view, err = env.coord.AuthorizePayment(ctx, view.BookingID, view.Version)
	require.NoError(t, err)

	result, err := env.coord.IngestWebhook(ctx, "evt_1", WebhookPaymentSucceeded,
		WebhookPayload{BookingID: view.BookingID})
	require.NoError(t, err)
	assert.Equal(t, ProcessingProcessed, result.Status)
	assert.Equal(t, 1, result.AttemptCount)

	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.PaymentCaptured), current.PaymentState)

	// Redelivery of the same event id is acknowledged without re-applying
	result, err = env.coord.IngestWebhook(ctx, "evt_1", WebhookPaymentSucceeded,
		WebhookPayload{BookingID: view.BookingID})
	require.NoError(t, err)
	assert.Equal(t, ProcessingDuplicate, result.Status)
	assert.Equal(t, 2, result.AttemptCount)

	after, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, current.Version, after.Version)
}

func TestCoordinator_IngestWebhookRecordsDeliveryBeforeApply(t *testing.T) {
	store := &hookStore{MemoryStore: bookingstore.NewMemoryStore()}
	env := newTestEnvWithStore(t, store)
	ctx := context.Background()

	view, err := env.coord.CreateBooking(ctx, CreateBookingRequest{
		TutorID: "tutor-1", StudentID: "student-1", Amount: 100.0, Currency: "EUR",
	})
	require.NoError(t, err)
	view, err = env.coord.AuthorizePayment(ctx, view.BookingID, view.Version)
	require.NoError(t, err)

	// While the apply is still running, the delivery must already be in the
	// ledger so a crash mid-apply leaves a trace
	var sawInFlight bool
	store.onLoad = func(string) {
		info, ok := env.tracker.GetRetryInfo("evt_1")
		sawInFlight = ok && info.AttemptCount == 1 && !info.Processed
	}

	result, err := env.coord.IngestWebhook(ctx, "evt_1", WebhookPaymentSucceeded,
		WebhookPayload{BookingID: view.BookingID})
	require.NoError(t, err)
	assert.True(t, sawInFlight)
	assert.Equal(t, ProcessingProcessed, result.Status)
	assert.Equal(t, 1, result.AttemptCount)

	info, ok := env.tracker.GetRetryInfo("evt_1")
	require.True(t, ok)
	assert.True(t, info.Processed)
}

func TestCoordinator_IngestWebhookFailureIsTracked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.coord.IngestWebhook(ctx, "evt_missing", WebhookPaymentSucceeded,
		WebhookPayload{BookingID: "no-such-booking"})
	assert.ErrorIs(t, err, bookingstore.ErrNotFound)
	assert.Equal(t, ProcessingFailed, result.Status)

	problematic := env.coord.GetProblematicWebhooks(1)
	assert.Len(t, problematic, 1)
	assert.Equal(t, "evt_missing", problematic[0].EventID)
}

func TestCoordinator_IngestWebhookRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)

	// Amount omitted refunds the full remaining captured amount
	result, err := env.coord.IngestWebhook(ctx, "evt_refund", WebhookChargeRefunded,
		WebhookPayload{BookingID: view.BookingID})
	require.NoError(t, err)
	assert.Equal(t, ProcessingProcessed, result.Status)

	current, err := env.coord.GetBooking(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.Equal(t, string(booking.PaymentRefunded), current.PaymentState)
	assert.Equal(t, 100.0, current.RefundedAmount)
}

func TestCoordinator_GetReliabilityStatus(t *testing.T) {
	env := newTestEnv(t)

	capturedBooking(t, env)

	status := env.coord.GetReliabilityStatus()
	assert.Contains(t, status.CircuitBreakers, "payment-provider")
	assert.Equal(t, reliability.BreakerClosed, status.CircuitBreakers["payment-provider"].State)
	assert.False(t, status.Timestamp.IsZero())
}

func TestCoordinator_CheckPaymentStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := capturedBooking(t, env)

	info, err := env.coord.CheckPaymentStatus(ctx, view.BookingID)
	assert.NoError(t, err)
	assert.True(t, info.Paid)
	assert.Equal(t, view.PaymentRef, info.ProviderRef)
}
