package coordinator

import (
	"context"
	"fmt"

	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/domain/events"
)

// Webhook event types pushed by the payment provider
const (
	WebhookPaymentAuthorized = "payment_intent.authorized"
	WebhookPaymentSucceeded  = "payment_intent.succeeded"
	WebhookPaymentCanceled   = "payment_intent.canceled"
	WebhookCheckoutCompleted = "checkout.session.completed"
	WebhookChargeRefunded    = "charge.refunded"
)

// WebhookPayload is the validated body of an inbound provider event.
// Signature verification happens in the HTTP layer before this is called.
type WebhookPayload struct {
	BookingID  string  `json:"booking_id"`
	PaymentRef string  `json:"payment_ref,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
}

// ProcessingResult reports what ingestion did with one delivery
type ProcessingResult struct {
	EventID      string `json:"event_id"`
	Status       string `json:"status"`
	AttemptCount int    `json:"attempt_count"`
}

const (
	ProcessingProcessed = "processed"
	ProcessingDuplicate = "duplicate"
	ProcessingFailed    = "failed"
)

// IngestWebhook deduplicates and applies one provider event. Every delivery
// is recorded in the retry tracker before any state is touched, so an
// in-flight or crashed apply still leaves a trace in the ledger; an event
// already marked processed is acknowledged without re-applying. Failures are
// recorded and surfaced; the provider's redelivery is the retry mechanism,
// nothing is retried here.
func (c *Coordinator) IngestWebhook(ctx context.Context, eventID, eventType string, payload WebhookPayload) (*ProcessingResult, error) {
	if info, ok := c.tracker.GetRetryInfo(eventID); ok && info.Processed {
		info = c.tracker.RecordAttempt(eventID, eventType, true, "")
		c.metrics.IncrementCounter("webhooks_duplicate_total")
		return &ProcessingResult{EventID: eventID, Status: ProcessingDuplicate, AttemptCount: info.AttemptCount}, nil
	}

	info := c.tracker.RecordAttempt(eventID, eventType, false, "")

	if err := c.applyWebhook(ctx, eventType, payload); err != nil {
		info, _ = c.tracker.MarkOutcome(eventID, false, err.Error())
		c.metrics.IncrementCounter("webhooks_failed_total")
		c.logger.Warn("Webhook processing failed",
			logger.Field{Key: "event_id", Value: eventID},
			logger.Field{Key: "event_type", Value: eventType},
			logger.Field{Key: "attempts", Value: info.AttemptCount},
			logger.Field{Key: "error", Value: err})
		return &ProcessingResult{EventID: eventID, Status: ProcessingFailed, AttemptCount: info.AttemptCount}, err
	}

	info, _ = c.tracker.MarkOutcome(eventID, true, "")
	c.metrics.IncrementCounter("webhooks_processed_total")
	return &ProcessingResult{EventID: eventID, Status: ProcessingProcessed, AttemptCount: info.AttemptCount}, nil
}

// applyWebhook maps a provider event onto a booking transition. The booking's
// current version serves as the expected version: webhooks carry no caller
// version, so a concurrent edit surfaces as Conflict and the provider's
// redelivery re-reads fresh state.
func (c *Coordinator) applyWebhook(ctx context.Context, eventType string, payload WebhookPayload) error {
	b, err := c.store.LoadBooking(ctx, payload.BookingID)
	if err != nil {
		return err
	}
	expectedVersion := b.Version()
	from := b.PaymentState()

	switch eventType {
	case WebhookPaymentAuthorized:
		if err := b.AuthorizePayment(payload.PaymentRef); err != nil {
			return err
		}

	case WebhookPaymentSucceeded, WebhookCheckoutCompleted:
		if b.PaymentState() == booking.PaymentCaptured {
			// Redelivery raced the tracker; already settled
			return nil
		}
		if err := b.CapturePayment(); err != nil {
			return err
		}

	case WebhookPaymentCanceled:
		if err := b.VoidPayment(); err != nil {
			return err
		}

	case WebhookChargeRefunded:
		amount := payload.Amount
		if amount <= 0 {
			amount = b.Amount() - b.RefundedAmount()
		}
		if err := b.ApplyRefund(amount); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unhandled webhook event type: %s", eventType)
	}

	event := events.NewPaymentTransitioned(b.BookingID(), from, b.PaymentState(), b.Amount(), b.RefundedAmount(), b.Currency(), b.Version(), c.newMetadata(), c.nextSequence())
	return c.commit(ctx, b, expectedVersion, event)
}
