package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tutor-booking/internal/domain/events"

	"github.com/segmentio/kafka-go"
)

const (
	defaultBrokerAddress = "localhost:19092"
	writeTimeout         = 10 * time.Second
)

// Publisher emits committed transition events for downstream observers
// (notifications, analytics, monitoring). Publishing is best-effort from the
// coordinator's point of view: the booking record has already committed.
type Publisher interface {
	Publish(ctx context.Context, topicName string, event events.Event) error
	Close() error
}

type kafkaPublisher struct {
	brokers   []string
	writers   map[string]*kafka.Writer
	writersMu sync.Mutex
	running   bool
	mu        sync.RWMutex
}

// NewKafkaPublisher creates a Publisher backed by Kafka topics.
// Messages are keyed by booking id so all events of one booking land on the
// same partition in order.
func NewKafkaPublisher(brokers []string) Publisher {
	if len(brokers) == 0 {
		brokers = []string{defaultBrokerAddress}
	}

	return &kafkaPublisher{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
		running: true,
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, topicName string, event events.Event) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	eventJSON, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.BookingID()),
		Value: eventJSON,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type())},
			{Key: "event_id", Value: []byte(event.ID())},
		},
		Time: event.Timestamp(),
	}

	writer := p.getOrCreateWriter(topicName)

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := writer.WriteMessages(writeCtx, message); err != nil {
		return fmt.Errorf("failed to write message to topic %s: %w", topicName, err)
	}

	return nil
}

func (p *kafkaPublisher) getOrCreateWriter(topicName string) *kafka.Writer {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	if writer, ok := p.writers[topicName]; ok {
		return writer
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topicName,
		Balancer:     &kafka.Hash{},
		WriteTimeout: writeTimeout,
	}
	p.writers[topicName] = writer
	return writer
}

func (p *kafkaPublisher) Close() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.writersMu.Lock()
	defer p.writersMu.Unlock()

	var firstErr error
	for _, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// marshalEvent serializes the full event envelope to JSON
func marshalEvent(event events.Event) ([]byte, error) {
	eventData, err := json.Marshal(event.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	envelope := struct {
		ID             string               `json:"id"`
		Type           string               `json:"type"`
		BookingID      string               `json:"booking_id"`
		Data           json.RawMessage      `json:"data"`
		Metadata       events.EventMetadata `json:"metadata"`
		Timestamp      time.Time            `json:"timestamp"`
		SequenceNumber int64                `json:"sequence_number"`
	}{
		ID:             event.ID(),
		Type:           event.Type(),
		BookingID:      event.BookingID(),
		Data:           eventData,
		Metadata:       event.Metadata(),
		Timestamp:      event.Timestamp(),
		SequenceNumber: event.SequenceNumber(),
	}

	return json.Marshal(envelope)
}

// MemoryPublisher collects published events in memory. Used by tests and
// local runs without a broker.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(ctx context.Context, topicName string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Published returns a copy of everything published so far
func (p *MemoryPublisher) Published() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	published := make([]events.Event, len(p.events))
	copy(published, p.events)
	return published
}

func (p *MemoryPublisher) Close() error {
	return nil
}
