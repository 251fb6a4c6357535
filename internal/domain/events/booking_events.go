package events

import (
	"time"

	"github.com/google/uuid"

	"tutor-booking/internal/domain/booking"
)

const (
	TypeSessionTransitioned = "SessionTransitioned"
	TypePaymentTransitioned = "PaymentTransitioned"
	TypeDisputeOpened       = "DisputeOpened"
	TypeDisputeResolved     = "DisputeResolved"
	TypeBreakerStateChanged = "BreakerStateChanged"
)

type SessionTransitionedData struct {
	BookingID     string                 `json:"booking_id"`
	From          booking.SessionState   `json:"from"`
	To            booking.SessionState   `json:"to"`
	Outcome       booking.SessionOutcome `json:"outcome,omitempty"`
	RecordVersion int                    `json:"record_version"`
}

type SessionTransitioned struct {
	*BaseEvent
}

func NewSessionTransitioned(bookingID string, from, to booking.SessionState, outcome booking.SessionOutcome, recordVersion int, metadata EventMetadata, sequenceNumber int64) *SessionTransitioned {
	data := SessionTransitionedData{
		BookingID:     bookingID,
		From:          from,
		To:            to,
		Outcome:       outcome,
		RecordVersion: recordVersion,
	}

	base := NewBaseEvent(
		uuid.New().String(),
		TypeSessionTransitioned,
		bookingID,
		data,
		metadata,
		sequenceNumber,
	)

	return &SessionTransitioned{BaseEvent: base}
}

type PaymentTransitionedData struct {
	BookingID      string               `json:"booking_id"`
	From           booking.PaymentState `json:"from"`
	To             booking.PaymentState `json:"to"`
	Amount         float64              `json:"amount"`
	RefundedAmount float64              `json:"refunded_amount"`
	Currency       string               `json:"currency"`
	RecordVersion  int                  `json:"record_version"`
}

type PaymentTransitioned struct {
	*BaseEvent
}

func NewPaymentTransitioned(bookingID string, from, to booking.PaymentState, amount, refundedAmount float64, currency string, recordVersion int, metadata EventMetadata, sequenceNumber int64) *PaymentTransitioned {
	data := PaymentTransitionedData{
		BookingID:      bookingID,
		From:           from,
		To:             to,
		Amount:         amount,
		RefundedAmount: refundedAmount,
		Currency:       currency,
		RecordVersion:  recordVersion,
	}

	base := NewBaseEvent(
		uuid.New().String(),
		TypePaymentTransitioned,
		bookingID,
		data,
		metadata,
		sequenceNumber,
	)

	return &PaymentTransitioned{BaseEvent: base}
}

type DisputeOpenedData struct {
	BookingID     string    `json:"booking_id"`
	Reason        string    `json:"reason"`
	DisputedBy    string    `json:"disputed_by"`
	DisputedAt    time.Time `json:"disputed_at"`
	RecordVersion int       `json:"record_version"`
}

type DisputeOpened struct {
	*BaseEvent
}

func NewDisputeOpened(bookingID, reason, disputedBy string, disputedAt time.Time, recordVersion int, metadata EventMetadata, sequenceNumber int64) *DisputeOpened {
	data := DisputeOpenedData{
		BookingID:     bookingID,
		Reason:        reason,
		DisputedBy:    disputedBy,
		DisputedAt:    disputedAt,
		RecordVersion: recordVersion,
	}

	base := NewBaseEvent(
		uuid.New().String(),
		TypeDisputeOpened,
		bookingID,
		data,
		metadata,
		sequenceNumber,
	)

	return &DisputeOpened{BaseEvent: base}
}

type DisputeResolvedData struct {
	BookingID     string               `json:"booking_id"`
	Resolution    booking.DisputeState `json:"resolution"`
	ResolvedBy    string               `json:"resolved_by"`
	ResolvedAt    time.Time            `json:"resolved_at"`
	Notes         string               `json:"notes,omitempty"`
	RecordVersion int                  `json:"record_version"`
}

type DisputeResolved struct {
	*BaseEvent
}

func NewDisputeResolved(bookingID string, resolution booking.DisputeState, resolvedBy string, resolvedAt time.Time, notes string, recordVersion int, metadata EventMetadata, sequenceNumber int64) *DisputeResolved {
	data := DisputeResolvedData{
		BookingID:     bookingID,
		Resolution:    resolution,
		ResolvedBy:    resolvedBy,
		ResolvedAt:    resolvedAt,
		Notes:         notes,
		RecordVersion: recordVersion,
	}

	base := NewBaseEvent(
		uuid.New().String(),
		TypeDisputeResolved,
		bookingID,
		data,
		metadata,
		sequenceNumber,
	)

	return &DisputeResolved{BaseEvent: base}
}

// BreakerStateChangedData is emitted when a circuit breaker for a named
// dependency changes state. BookingID is empty for these events.
type BreakerStateChangedData struct {
	Dependency string `json:"dependency"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type BreakerStateChanged struct {
	*BaseEvent
}

func NewBreakerStateChanged(dependency, from, to string, metadata EventMetadata, sequenceNumber int64) *BreakerStateChanged {
	data := BreakerStateChangedData{
		Dependency: dependency,
		From:       from,
		To:         to,
	}

	base := NewBaseEvent(
		uuid.New().String(),
		TypeBreakerStateChanged,
		"",
		data,
		metadata,
		sequenceNumber,
	)

	return &BreakerStateChanged{BaseEvent: base}
}
