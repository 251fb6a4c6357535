package coordinator

import (
	"context"
	"fmt"

	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/domain/events"
	"tutor-booking/internal/reliability"
)

// OpenDispute raises a dispute against an ended session. The window check is
// evaluated in wall-clock time inside the same load/validate/commit cycle as
// the version check, so it is re-checked on every attempt and a stale check
// can never commit past a concurrent transition.
func (c *Coordinator) OpenDispute(ctx context.Context, bookingID string, expectedVersion int, reason, actorID string) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	now := c.now()
	if err := b.OpenDispute(reason, actorID, now, c.cfg.DisputeWindow); err != nil {
		return nil, err
	}

	event := events.NewDisputeOpened(bookingID, reason, actorID, now, b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}

	c.metrics.IncrementCounter("disputes_opened_total")
	c.logger.Info("Dispute opened",
		logger.Field{Key: "booking_id", Value: bookingID},
		logger.Field{Key: "disputed_by", Value: actorID})

	return viewOf(b), nil
}

// ResolveDispute closes an open dispute. A RESOLVED_REFUNDED resolution first
// refunds the remaining captured amount through the provider; if that call
// fails (including circuit open) nothing is committed: dispute and payment
// state stay untouched and the caller retries later. The deterministic
// idempotency key makes the provider side converge to a single refund across
// those retries.
func (c *Coordinator) ResolveDispute(ctx context.Context, bookingID string, expectedVersion int, resolution booking.DisputeState, actorID, notes string) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	if !resolution.IsResolution() || !b.DisputeState().CanTransitionTo(resolution) {
		return nil, booking.ErrInvalidTransition
	}

	now := c.now()
	paymentFrom := b.PaymentState()

	var refundAmount float64
	if resolution == booking.DisputeResolvedRefunded {
		refundAmount = b.Amount() - b.RefundedAmount()
		if refundAmount > 0 {
			// Validate the payment transition and call the provider before
			// any local mutation; a single return path below commits.
			if !paymentFrom.CanTransitionTo(refundTarget(b, refundAmount)) {
				return nil, booking.ErrInvalidTransition
			}
			if b.PaymentRef() == "" {
				return nil, fmt.Errorf("%w: booking has no payment reference", reliability.ErrPaymentServiceUnavailable)
			}

			key := reliability.IdempotencyKey("refund", bookingID)
			if err := c.guardedRefund(ctx, key, b.PaymentRef(), refundAmount); err != nil {
				return nil, err
			}
		}
	}

	var applyErr error
	if resolution == booking.DisputeResolvedRefunded {
		applyErr = b.ResolveDisputeRefunded(actorID, notes, now, refundAmount)
	} else {
		applyErr = b.ResolveDispute(resolution, actorID, notes, now)
	}
	if applyErr != nil {
		return nil, applyErr
	}

	evs := []events.Event{
		events.NewDisputeResolved(bookingID, resolution, actorID, now, notes, b.Version(), c.newMetadata(), c.nextSequence()),
	}
	if b.PaymentState() != paymentFrom {
		evs = append(evs, events.NewPaymentTransitioned(bookingID, paymentFrom, b.PaymentState(), b.Amount(), b.RefundedAmount(), b.Currency(), b.Version(), c.newMetadata(), c.nextSequence()))
	}

	if err := c.commit(ctx, b, expectedVersion, evs...); err != nil {
		return nil, err
	}

	c.metrics.IncrementCounter("disputes_resolved_total")
	c.logger.Info("Dispute resolved",
		logger.Field{Key: "booking_id", Value: bookingID},
		logger.Field{Key: "resolution", Value: string(resolution)})

	return viewOf(b), nil
}

func refundTarget(b *booking.Booking, amount float64) booking.PaymentState {
	if b.RefundedAmount()+amount >= b.Amount() {
		return booking.PaymentRefunded
	}
	return booking.PaymentPartiallyRefunded
}
