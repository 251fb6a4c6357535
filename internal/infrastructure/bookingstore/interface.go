package bookingstore

import (
	"context"
	"errors"
	"time"

	"tutor-booking/internal/domain/booking"
)

var (
	// ErrNotFound indicates no booking exists for the given id
	ErrNotFound = errors.New("booking not found")
	// ErrVersionConflict indicates the booking was modified concurrently;
	// the caller must re-read before deciding whether to retry
	ErrVersionConflict = errors.New("booking modified concurrently")
)

// Store is the persistence contract for booking records. CASUpdate is the
// only write path for existing records: it commits every field of the
// booking in one compare-and-swap on the version the caller read, so no two
// writers can interleave.
type Store interface {
	CreateBooking(ctx context.Context, b *booking.Booking) error
	LoadBooking(ctx context.Context, bookingID string) (*booking.Booking, error)
	CASUpdate(ctx context.Context, b *booking.Booking, expectedVersion int) error

	// ListStalePayments returns bookings whose payment is still in one of the
	// given states and has not been touched since before the cutoff. Used by
	// the reconciliation job to find payments whose webhook may be lost.
	ListStalePayments(ctx context.Context, states []booking.PaymentState, cutoff time.Time, limit int) ([]*booking.Booking, error)

	Close() error
}
