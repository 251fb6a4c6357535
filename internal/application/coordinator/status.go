package coordinator

import (
	"context"
	"time"

	"tutor-booking/internal/common/configs"
	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/domain/events"
	"tutor-booking/internal/infrastructure/eventbus"
	"tutor-booking/internal/reliability"

	"github.com/google/uuid"
)

// ReliabilityStatus is the monitoring view over the payment-reliability layer
type ReliabilityStatus struct {
	CircuitBreakers map[string]reliability.BreakerStatus `json:"circuit_breakers"`
	WebhookStats    reliability.TrackerStats             `json:"webhook_stats"`
	Timestamp       time.Time                            `json:"timestamp"`
}

// GetReliabilityStatus reports breaker and webhook-ledger state for
// health/monitoring consumers
func (c *Coordinator) GetReliabilityStatus() ReliabilityStatus {
	return ReliabilityStatus{
		CircuitBreakers: c.breakers.Status(),
		WebhookStats:    c.tracker.GetStats(),
		Timestamp:       c.now(),
	}
}

// BreakerEventHandler returns a state-change handler that logs every breaker
// transition and publishes it as an event for monitoring consumers
func BreakerEventHandler(bus eventbus.Publisher, l logger.Logger) reliability.StateChangeHandler {
	return func(dependency string, from, to reliability.BreakerState) {
		l.Warn("Circuit breaker state changed",
			logger.Field{Key: "dependency", Value: dependency},
			logger.Field{Key: "from", Value: string(from)},
			logger.Field{Key: "to", Value: string(to)})

		event := events.NewBreakerStateChanged(dependency, string(from), string(to), events.EventMetadata{
			CorrelationID: uuid.New().String(),
			TraceID:       uuid.New().String(),
			Timestamp:     time.Now(),
		}, 0)
		if err := bus.Publish(context.Background(), configs.TopicBookings, event); err != nil {
			l.Error("Failed to publish breaker event",
				logger.Field{Key: "dependency", Value: dependency},
				logger.Field{Key: "error", Value: err})
		}
	}
}

// GetProblematicWebhooks returns unprocessed events the provider keeps retrying
func (c *Coordinator) GetProblematicWebhooks(minAttempts int) []reliability.RetryInfo {
	return c.tracker.GetProblematicEvents(minAttempts)
}

// CheckPaymentStatus reconciles one booking's payment against the provider.
// Used when a webhook is suspected lost; read-only with respect to the booking.
func (c *Coordinator) CheckPaymentStatus(ctx context.Context, bookingID string) (reliability.StatusInfo, error) {
	b, err := c.store.LoadBooking(ctx, bookingID)
	if err != nil {
		return reliability.StatusInfo{}, err
	}
	if b.PaymentRef() == "" {
		return reliability.StatusInfo{LastChecked: c.now(), Error: "booking has no payment reference"}, nil
	}
	return c.poller.CheckPaymentIntent(ctx, b.PaymentRef())
}
