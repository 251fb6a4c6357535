package events

import "time"

// Event is a committed booking transition published for observers.
// Events are an audit trail, not the source of truth: the booking record
// itself is committed by compare-and-swap before its event is emitted.
type Event interface {
	ID() string
	Type() string
	BookingID() string
	Data() interface{}
	Metadata() EventMetadata
	SequenceNumber() int64
	Timestamp() time.Time
}

type EventMetadata struct {
	CorrelationID string
	TraceID       string
	Timestamp     time.Time
}

type BaseEvent struct {
	eventID        string
	eventType      string
	bookingID      string
	data           interface{}
	metadata       EventMetadata
	sequenceNumber int64
	timestamp      time.Time
}

func (e *BaseEvent) ID() string {
	return e.eventID
}

func (e *BaseEvent) Type() string {
	return e.eventType
}

func (e *BaseEvent) BookingID() string {
	return e.bookingID
}

func (e *BaseEvent) Data() interface{} {
	return e.data
}

func (e *BaseEvent) Metadata() EventMetadata {
	return e.metadata
}

func (e *BaseEvent) SequenceNumber() int64 {
	return e.sequenceNumber
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func NewBaseEvent(eventID, eventType, bookingID string, data interface{}, metadata EventMetadata, sequenceNumber int64) *BaseEvent {
	return NewBaseEventWithTimestamp(eventID, eventType, bookingID, data, metadata, sequenceNumber, time.Now())
}

func NewBaseEventWithTimestamp(eventID, eventType, bookingID string, data interface{}, metadata EventMetadata, sequenceNumber int64, timestamp time.Time) *BaseEvent {
	return &BaseEvent{
		eventID:        eventID,
		eventType:      eventType,
		bookingID:      bookingID,
		data:           data,
		metadata:       metadata,
		sequenceNumber: sequenceNumber,
		timestamp:      timestamp,
	}
}
