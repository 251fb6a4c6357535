package coordinator

import (
	"context"
	"sync/atomic"
	"time"

	"tutor-booking/internal/common/configs"
	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/common/metrics"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/domain/events"
	"tutor-booking/internal/infrastructure/auditlog"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/infrastructure/eventbus"
	"tutor-booking/internal/infrastructure/gateway"
	"tutor-booking/internal/reliability"

	"github.com/google/uuid"
)

// Config holds the coordination policy knobs
type Config struct {
	// DisputeWindow bounds how long after session end a dispute may be opened
	DisputeWindow time.Duration
	// GatewayTimeout bounds each outbound payment-provider call
	GatewayTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DisputeWindow:  configs.GetDisputeWindow(),
		GatewayTimeout: configs.DefaultGatewayCallTimeout,
	}
}

// Coordinator is the booking state machine. Every mutating entry point takes
// the version the caller read and either commits the whole transition through
// one compare-and-swap or fails with no mutation at all. Calls to the payment
// provider go through the circuit breaker and never hold any in-process lock
// while in flight.
type Coordinator struct {
	store    bookingstore.Store
	audit    auditlog.Log
	bus      eventbus.Publisher
	gw       gateway.PaymentGateway
	breakers *reliability.Registry
	payments *reliability.CircuitBreaker
	tracker  *reliability.WebhookRetryTracker
	poller   *reliability.StatusPoller
	metrics  metrics.Collector
	logger   logger.Logger
	cfg      Config
	sequence int64
	now      func() time.Time // for testing
}

func New(
	store bookingstore.Store,
	audit auditlog.Log,
	bus eventbus.Publisher,
	gw gateway.PaymentGateway,
	breakers *reliability.Registry,
	tracker *reliability.WebhookRetryTracker,
	poller *reliability.StatusPoller,
	collector metrics.Collector,
	l logger.Logger,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		store:    store,
		audit:    audit,
		bus:      bus,
		gw:       gw,
		breakers: breakers,
		payments: breakers.Get(configs.DependencyPaymentProvider),
		tracker:  tracker,
		poller:   poller,
		metrics:  collector,
		logger:   l,
		cfg:      cfg,
		now:      time.Now,
	}
}

type CreateBookingRequest struct {
	TutorID   string  `json:"tutor_id"`
	StudentID string  `json:"student_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// BookingView is the read model returned by every operation
type BookingView struct {
	BookingID      string    `json:"booking_id"`
	TutorID        string    `json:"tutor_id"`
	StudentID      string    `json:"student_id"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	RefundedAmount float64   `json:"refunded_amount"`
	PaymentRef     string    `json:"payment_ref,omitempty"`
	SessionState   string    `json:"session_state"`
	SessionOutcome string    `json:"session_outcome,omitempty"`
	PaymentState   string    `json:"payment_state"`
	DisputeState   string    `json:"dispute_state"`
	DisputeReason  string    `json:"dispute_reason,omitempty"`
	Version        int       `json:"version"`
	SessionEndedAt time.Time `json:"session_ended_at,omitempty"`
}

func viewOf(b *booking.Booking) *BookingView {
	return &BookingView{
		BookingID:      b.BookingID(),
		TutorID:        b.TutorID(),
		StudentID:      b.StudentID(),
		Amount:         b.Amount(),
		Currency:       b.Currency(),
		RefundedAmount: b.RefundedAmount(),
		PaymentRef:     b.PaymentRef(),
		SessionState:   string(b.SessionState()),
		SessionOutcome: string(b.SessionOutcome()),
		PaymentState:   string(b.PaymentState()),
		DisputeState:   string(b.DisputeState()),
		DisputeReason:  b.DisputeReason(),
		Version:        b.Version(),
		SessionEndedAt: b.SessionEndedAt(),
	}
}

// CreateBooking registers a new booking request
func (c *Coordinator) CreateBooking(ctx context.Context, req CreateBookingRequest) (*BookingView, error) {
	b := booking.NewBooking(uuid.New().String(), req.TutorID, req.StudentID, req.Amount, req.Currency)

	if err := c.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	c.metrics.IncrementCounter("bookings_created_total")
	c.logger.Info("Booking created",
		logger.Field{Key: "booking_id", Value: b.BookingID()},
		logger.Field{Key: "tutor_id", Value: req.TutorID})

	return viewOf(b), nil
}

// GetBooking returns the current booking state
func (c *Coordinator) GetBooking(ctx context.Context, bookingID string) (*BookingView, error) {
	b, err := c.store.LoadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// GetHistory returns the committed transition history of a booking
func (c *Coordinator) GetHistory(ctx context.Context, bookingID string) ([]auditlog.Record, error) {
	if _, err := c.store.LoadBooking(ctx, bookingID); err != nil {
		return nil, err
	}
	return c.audit.History(ctx, bookingID)
}

// ScheduleSession confirms a requested booking
func (c *Coordinator) ScheduleSession(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.SessionState()
	if err := b.Schedule(); err != nil {
		return nil, err
	}

	event := events.NewSessionTransitioned(bookingID, from, b.SessionState(), b.SessionOutcome(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// StartSession marks the session as running
func (c *Coordinator) StartSession(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.SessionState()
	if err := b.Start(c.now()); err != nil {
		return nil, err
	}

	event := events.NewSessionTransitioned(bookingID, from, b.SessionState(), b.SessionOutcome(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// EndSession finishes the session and records its outcome
func (c *Coordinator) EndSession(ctx context.Context, bookingID string, expectedVersion int, outcome booking.SessionOutcome) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.SessionState()
	if err := b.End(outcome, c.now()); err != nil {
		return nil, err
	}

	event := events.NewSessionTransitioned(bookingID, from, b.SessionState(), b.SessionOutcome(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// CancelBooking aborts the booking before the session runs
func (c *Coordinator) CancelBooking(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.SessionState()
	if err := b.Cancel(); err != nil {
		return nil, err
	}

	event := events.NewSessionTransitioned(bookingID, from, b.SessionState(), b.SessionOutcome(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// ExpireBooking lapses an unconfirmed request
func (c *Coordinator) ExpireBooking(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.SessionState()
	if err := b.Expire(); err != nil {
		return nil, err
	}

	event := events.NewSessionTransitioned(bookingID, from, b.SessionState(), b.SessionOutcome(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// loadAt loads a booking and verifies the caller's version before any
// mutation is attempted
func (c *Coordinator) loadAt(ctx context.Context, bookingID string, expectedVersion int) (*booking.Booking, error) {
	b, err := c.store.LoadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Version() != expectedVersion {
		return nil, bookingstore.ErrVersionConflict
	}
	return b, nil
}

// commit writes the booking through the store's compare-and-swap and, only
// after the record has committed, emits the transition events. A failure to
// record or publish an event loses observability, never state.
func (c *Coordinator) commit(ctx context.Context, b *booking.Booking, expectedVersion int, evs ...events.Event) error {
	if err := c.store.CASUpdate(ctx, b, expectedVersion); err != nil {
		return err
	}

	for _, event := range evs {
		c.emit(ctx, event)
	}
	c.metrics.IncrementCounter("booking_transitions_total")
	return nil
}

func (c *Coordinator) emit(ctx context.Context, event events.Event) {
	if err := c.audit.Append(ctx, event); err != nil {
		c.logger.Error("Failed to append audit event",
			logger.Field{Key: "event_type", Value: event.Type()},
			logger.Field{Key: "booking_id", Value: event.BookingID()},
			logger.Field{Key: "error", Value: err})
	}

	if err := c.bus.Publish(ctx, configs.TopicBookings, event); err != nil {
		c.logger.Error("Failed to publish event",
			logger.Field{Key: "event_type", Value: event.Type()},
			logger.Field{Key: "booking_id", Value: event.BookingID()},
			logger.Field{Key: "error", Value: err})
	}
}

func (c *Coordinator) newMetadata() events.EventMetadata {
	return events.EventMetadata{
		CorrelationID: uuid.New().String(),
		TraceID:       uuid.New().String(),
		Timestamp:     c.now(),
	}
}

func (c *Coordinator) nextSequence() int64 {
	return atomic.AddInt64(&c.sequence, 1)
}
