package booking

import (
	"errors"
	"time"
)

var (
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrInvalidOutcome       = errors.New("invalid session outcome")
	ErrDisputeWindowExpired = errors.New("dispute window expired")
)

// Booking represents a tutoring-session booking aggregate.
// It coordinates three independently evolving state dimensions (session,
// payment, dispute) behind a single optimistic version counter: every
// successful mutation increments the version by exactly one, and the
// persistence layer commits the whole record with a compare-and-swap on
// the version the caller read.
type Booking struct {
	bookingID string
	tutorID   string
	studentID string

	amount         float64
	currency       string
	refundedAmount float64
	paymentRef     string

	sessionState   SessionState
	sessionOutcome SessionOutcome
	paymentState   PaymentState

	disputeState    DisputeState
	disputeReason   string
	disputedAt      time.Time
	disputedBy      string
	resolvedAt      time.Time
	resolvedBy      string
	resolutionNotes string

	version          int
	sessionStartedAt time.Time
	sessionEndedAt   time.Time
	createdAt        time.Time
	lastActivity     time.Time
}

func NewBooking(bookingID, tutorID, studentID string, amount float64, currency string) *Booking {
	now := time.Now()
	return &Booking{
		bookingID:    bookingID,
		tutorID:      tutorID,
		studentID:    studentID,
		amount:       amount,
		currency:     currency,
		sessionState: SessionRequested,
		paymentState: PaymentPending,
		disputeState: DisputeNone,
		version:      0,
		createdAt:    now,
		lastActivity: now,
	}
}

// Snapshot is the flat value form of a booking used at the persistence boundary.
type Snapshot struct {
	BookingID        string
	TutorID          string
	StudentID        string
	Amount           float64
	Currency         string
	RefundedAmount   float64
	PaymentRef       string
	SessionState     SessionState
	SessionOutcome   SessionOutcome
	PaymentState     PaymentState
	DisputeState     DisputeState
	DisputeReason    string
	DisputedAt       time.Time
	DisputedBy       string
	ResolvedAt       time.Time
	ResolvedBy       string
	ResolutionNotes  string
	Version          int
	SessionStartedAt time.Time
	SessionEndedAt   time.Time
	CreatedAt        time.Time
	LastActivity     time.Time
}

// Restore rebuilds a booking aggregate from a persisted snapshot
func Restore(s Snapshot) *Booking {
	return &Booking{
		bookingID:        s.BookingID,
		tutorID:          s.TutorID,
		studentID:        s.StudentID,
		amount:           s.Amount,
		currency:         s.Currency,
		refundedAmount:   s.RefundedAmount,
		paymentRef:       s.PaymentRef,
		sessionState:     s.SessionState,
		sessionOutcome:   s.SessionOutcome,
		paymentState:     s.PaymentState,
		disputeState:     s.DisputeState,
		disputeReason:    s.DisputeReason,
		disputedAt:       s.DisputedAt,
		disputedBy:       s.DisputedBy,
		resolvedAt:       s.ResolvedAt,
		resolvedBy:       s.ResolvedBy,
		resolutionNotes:  s.ResolutionNotes,
		version:          s.Version,
		sessionStartedAt: s.SessionStartedAt,
		sessionEndedAt:   s.SessionEndedAt,
		createdAt:        s.CreatedAt,
		lastActivity:     s.LastActivity,
	}
}

// Snapshot returns the flat value form of the booking
func (b *Booking) Snapshot() Snapshot {
	return Snapshot{
		BookingID:        b.bookingID,
		TutorID:          b.tutorID,
		StudentID:        b.studentID,
		Amount:           b.amount,
		Currency:         b.currency,
		RefundedAmount:   b.refundedAmount,
		PaymentRef:       b.paymentRef,
		SessionState:     b.sessionState,
		SessionOutcome:   b.sessionOutcome,
		PaymentState:     b.paymentState,
		DisputeState:     b.disputeState,
		DisputeReason:    b.disputeReason,
		DisputedAt:       b.disputedAt,
		DisputedBy:       b.disputedBy,
		ResolvedAt:       b.resolvedAt,
		ResolvedBy:       b.resolvedBy,
		ResolutionNotes:  b.resolutionNotes,
		Version:          b.version,
		SessionStartedAt: b.sessionStartedAt,
		SessionEndedAt:   b.sessionEndedAt,
		CreatedAt:        b.createdAt,
		LastActivity:     b.lastActivity,
	}
}

func (b *Booking) BookingID() string {
	return b.bookingID
}

func (b *Booking) TutorID() string {
	return b.tutorID
}

func (b *Booking) StudentID() string {
	return b.studentID
}

func (b *Booking) Amount() float64 {
	return b.amount
}

func (b *Booking) Currency() string {
	return b.currency
}

func (b *Booking) RefundedAmount() float64 {
	return b.refundedAmount
}

func (b *Booking) PaymentRef() string {
	return b.paymentRef
}

func (b *Booking) SessionState() SessionState {
	return b.sessionState
}

func (b *Booking) SessionOutcome() SessionOutcome {
	return b.sessionOutcome
}

func (b *Booking) PaymentState() PaymentState {
	return b.paymentState
}

func (b *Booking) DisputeState() DisputeState {
	return b.disputeState
}

func (b *Booking) DisputeReason() string {
	return b.disputeReason
}

func (b *Booking) Version() int {
	return b.version
}

func (b *Booking) SessionEndedAt() time.Time {
	return b.sessionEndedAt
}

// touch records a successful mutation
func (b *Booking) touch() {
	b.version++
	b.lastActivity = time.Now()
}

// Schedule confirms the booking request
func (b *Booking) Schedule() error {
	if !b.sessionState.CanTransitionTo(SessionScheduled) {
		return ErrInvalidTransition
	}
	b.sessionState = SessionScheduled
	b.touch()
	return nil
}

// Start marks the session as running
func (b *Booking) Start(now time.Time) error {
	if !b.sessionState.CanTransitionTo(SessionActive) {
		return ErrInvalidTransition
	}
	b.sessionState = SessionActive
	b.sessionStartedAt = now
	b.touch()
	return nil
}

// End finishes the session and records its outcome.
// The outcome is set in the same mutation as the state change so the
// "outcome is non-empty iff session is ENDED" invariant can never be
// observed half-applied.
func (b *Booking) End(outcome SessionOutcome, now time.Time) error {
	if !outcome.IsValid() {
		return ErrInvalidOutcome
	}
	if !b.sessionState.CanTransitionTo(SessionEnded) {
		return ErrInvalidTransition
	}
	b.sessionState = SessionEnded
	b.sessionOutcome = outcome
	b.sessionEndedAt = now
	b.touch()
	return nil
}

// Cancel aborts the booking before the session runs
func (b *Booking) Cancel() error {
	if !b.sessionState.CanTransitionTo(SessionCancelled) {
		return ErrInvalidTransition
	}
	b.sessionState = SessionCancelled
	b.touch()
	return nil
}

// Expire lapses an unconfirmed request
func (b *Booking) Expire() error {
	if !b.sessionState.CanTransitionTo(SessionExpired) {
		return ErrInvalidTransition
	}
	b.sessionState = SessionExpired
	b.touch()
	return nil
}

// AuthorizePayment records a successful authorization hold and remembers the
// provider's payment reference for later capture, refund and reconciliation
func (b *Booking) AuthorizePayment(paymentRef string) error {
	if !b.paymentState.CanTransitionTo(PaymentAuthorized) {
		return ErrInvalidTransition
	}
	b.paymentState = PaymentAuthorized
	b.paymentRef = paymentRef
	b.touch()
	return nil
}

// CapturePayment records a successful capture of the authorized amount
func (b *Booking) CapturePayment() error {
	if !b.paymentState.CanTransitionTo(PaymentCaptured) {
		return ErrInvalidTransition
	}
	b.paymentState = PaymentCaptured
	b.touch()
	return nil
}

// VoidPayment releases a pending or authorized payment without capture
func (b *Booking) VoidPayment() error {
	if !b.paymentState.CanTransitionTo(PaymentVoided) {
		return ErrInvalidTransition
	}
	b.paymentState = PaymentVoided
	b.touch()
	return nil
}

// ApplyRefund records a refund of the given amount against the captured total.
// The payment moves to REFUNDED once the refunded total reaches the captured
// amount, otherwise to PARTIALLY_REFUNDED.
func (b *Booking) ApplyRefund(amount float64) error {
	if amount <= 0 || b.refundedAmount+amount > b.amount {
		return ErrInvalidTransition
	}

	target := PaymentPartiallyRefunded
	if b.refundedAmount+amount >= b.amount {
		target = PaymentRefunded
	}
	if !b.paymentState.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	b.refundedAmount += amount
	b.paymentState = target
	b.touch()
	return nil
}

// OpenDispute raises a dispute against an ended session.
// The window guard is evaluated in wall-clock time on every attempt; it is
// re-checked inside the same load/validate/commit cycle as the version check
// so a stale window decision can never be committed.
func (b *Booking) OpenDispute(reason, actorID string, now time.Time, window time.Duration) error {
	if b.sessionState != SessionEnded || !b.disputeState.CanTransitionTo(DisputeOpen) {
		return ErrInvalidTransition
	}
	if now.Sub(b.sessionEndedAt) > window {
		return ErrDisputeWindowExpired
	}

	b.disputeState = DisputeOpen
	b.disputeReason = reason
	b.disputedAt = now
	b.disputedBy = actorID
	b.touch()
	return nil
}

// ResolveDispute closes an open dispute with the given resolution
func (b *Booking) ResolveDispute(resolution DisputeState, actorID, notes string, now time.Time) error {
	if !resolution.IsResolution() {
		return ErrInvalidTransition
	}
	if !b.disputeState.CanTransitionTo(resolution) {
		return ErrInvalidTransition
	}

	b.disputeState = resolution
	b.resolvedAt = now
	b.resolvedBy = actorID
	b.resolutionNotes = notes
	b.touch()
	return nil
}

// ResolveDisputeRefunded closes an open dispute in the student's favor,
// moving the dispute and payment dimensions together in one atomic mutation
// so the version increments exactly once for the whole resolution.
func (b *Booking) ResolveDisputeRefunded(actorID, notes string, now time.Time, refundAmount float64) error {
	if !b.disputeState.CanTransitionTo(DisputeResolvedRefunded) {
		return ErrInvalidTransition
	}

	if refundAmount > 0 {
		if b.refundedAmount+refundAmount > b.amount {
			return ErrInvalidTransition
		}
		target := PaymentPartiallyRefunded
		if b.refundedAmount+refundAmount >= b.amount {
			target = PaymentRefunded
		}
		if !b.paymentState.CanTransitionTo(target) {
			return ErrInvalidTransition
		}
		b.refundedAmount += refundAmount
		b.paymentState = target
	}

	b.disputeState = DisputeResolvedRefunded
	b.resolvedAt = now
	b.resolvedBy = actorID
	b.resolutionNotes = notes
	b.touch()
	return nil
}

// IsTerminal returns true when no dimension can transition any further
func (b *Booking) IsTerminal() bool {
	disputeSettled := b.disputeState != DisputeOpen
	return b.sessionState.IsTerminal() && b.paymentState.IsTerminal() && disputeSettled
}
