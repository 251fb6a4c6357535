package bookingstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tutor-booking/internal/domain/booking"
)

// MemoryStore is an in-process Store with the same compare-and-swap
// semantics as the Postgres implementation. Used by tests and local runs.
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]booking.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]booking.Snapshot),
	}
}

func (s *MemoryStore) CreateBooking(ctx context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := b.Snapshot()
	if _, exists := s.bookings[snap.BookingID]; exists {
		return fmt.Errorf("booking already exists: %s", snap.BookingID)
	}

	s.bookings[snap.BookingID] = snap
	return nil
}

func (s *MemoryStore) LoadBooking(ctx context.Context, bookingID string) (*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, exists := s.bookings[bookingID]
	if !exists {
		return nil, ErrNotFound
	}

	return booking.Restore(snap), nil
}

func (s *MemoryStore) CASUpdate(ctx context.Context, b *booking.Booking, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := b.Snapshot()
	current, exists := s.bookings[snap.BookingID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	s.bookings[snap.BookingID] = snap
	return nil
}

func (s *MemoryStore) ListStalePayments(ctx context.Context, states []booking.PaymentState, cutoff time.Time, limit int) ([]*booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*booking.Booking
	for _, snap := range s.bookings {
		if len(stale) >= limit {
			break
		}
		if !snap.LastActivity.Before(cutoff) {
			continue
		}
		for _, st := range states {
			if snap.PaymentState == st {
				stale = append(stale, booking.Restore(snap))
				break
			}
		}
	}

	return stale, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
