package auditlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tutor-booking/internal/domain/events"
)

// Record is a persisted transition event. Data is kept as raw JSON; the
// audit log is read back for history views, never replayed into aggregates.
type Record struct {
	EventID        string               `json:"event_id"`
	EventType      string               `json:"event_type"`
	BookingID      string               `json:"booking_id"`
	Data           json.RawMessage      `json:"data"`
	Metadata       events.EventMetadata `json:"metadata"`
	SequenceNumber int64                `json:"sequence_number"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Log stores the transition history of bookings. Appends happen after the
// booking record itself has committed; a failed append loses history, not
// state.
type Log interface {
	Append(ctx context.Context, event events.Event) error
	History(ctx context.Context, bookingID string) ([]Record, error)
	Close() error
}

// MemoryLog is an in-process Log used by tests and local runs
type MemoryLog struct {
	mu      sync.Mutex
	records map[string][]Record
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		records: make(map[string][]Record),
	}
}

func (l *MemoryLog) Append(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event.Data())
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.records[event.BookingID()] = append(l.records[event.BookingID()], Record{
		EventID:        event.ID(),
		EventType:      event.Type(),
		BookingID:      event.BookingID(),
		Data:           data,
		Metadata:       event.Metadata(),
		SequenceNumber: event.SequenceNumber(),
		Timestamp:      event.Timestamp(),
	})
	return nil
}

func (l *MemoryLog) History(ctx context.Context, bookingID string) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records := make([]Record, len(l.records[bookingID]))
	copy(records, l.records[bookingID])
	return records, nil
}

func (l *MemoryLog) Close() error {
	return nil
}
