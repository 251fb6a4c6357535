package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/domain/events"
	"tutor-booking/internal/infrastructure/gateway"
	"tutor-booking/internal/reliability"
)

// AuthorizePayment places an authorization hold with the provider and records
// it on the booking. The provider call goes through the circuit breaker and
// carries a deterministic idempotency key, so a retry after a transient
// failure cannot create a second hold.
func (c *Coordinator) AuthorizePayment(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.PaymentState()
	if !from.CanTransitionTo(booking.PaymentAuthorized) {
		return nil, booking.ErrInvalidTransition
	}

	key := reliability.IdempotencyKey("authorize", bookingID)
	result, err := c.guardedCreatePayment(ctx, key, b)
	if err != nil {
		return nil, err
	}

	if err := b.AuthorizePayment(result.ProviderRef); err != nil {
		return nil, err
	}

	event := events.NewPaymentTransitioned(bookingID, from, b.PaymentState(), b.Amount(), b.RefundedAmount(), b.Currency(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}

	c.logger.Info("Payment authorized",
		logger.Field{Key: "booking_id", Value: bookingID},
		logger.Field{Key: "payment_ref", Value: result.ProviderRef})

	return viewOf(b), nil
}

// CapturePayment records that the provider captured the authorized amount.
// The capture itself is signaled by the provider (webhook or reconciliation);
// this operation only moves the local record.
func (c *Coordinator) CapturePayment(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.PaymentState()
	if err := b.CapturePayment(); err != nil {
		return nil, err
	}

	event := events.NewPaymentTransitioned(bookingID, from, b.PaymentState(), b.Amount(), b.RefundedAmount(), b.Currency(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// VoidPayment releases a pending or authorized payment without capture
func (c *Coordinator) VoidPayment(ctx context.Context, bookingID string, expectedVersion int) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.PaymentState()
	if err := b.VoidPayment(); err != nil {
		return nil, err
	}

	event := events.NewPaymentTransitioned(bookingID, from, b.PaymentState(), b.Amount(), b.RefundedAmount(), b.Currency(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}
	return viewOf(b), nil
}

// RefundPayment refunds part or all of the captured amount through the
// provider, then records the result. The idempotency key is derived from the
// amount and the refunded total before this refund, never from the version:
// a retry after a version conflict re-reads the same refunded total and
// reuses the key, so the provider will not move money twice, while a later,
// genuinely new refund sees a different refunded total and gets a fresh key.
func (c *Coordinator) RefundPayment(ctx context.Context, bookingID string, expectedVersion int, amount float64) (*BookingView, error) {
	b, err := c.loadAt(ctx, bookingID, expectedVersion)
	if err != nil {
		return nil, err
	}

	from := b.PaymentState()
	if err := validateRefund(b, amount); err != nil {
		return nil, err
	}

	key := reliability.IdempotencyKey("refund", bookingID, fmtAmount(amount), fmtAmount(b.RefundedAmount()))
	if err := c.guardedRefund(ctx, key, b.PaymentRef(), amount); err != nil {
		return nil, err
	}

	if err := b.ApplyRefund(amount); err != nil {
		return nil, err
	}

	event := events.NewPaymentTransitioned(bookingID, from, b.PaymentState(), b.Amount(), b.RefundedAmount(), b.Currency(), b.Version(), c.newMetadata(), c.nextSequence())
	if err := c.commit(ctx, b, expectedVersion, event); err != nil {
		return nil, err
	}

	c.logger.Info("Payment refunded",
		logger.Field{Key: "booking_id", Value: bookingID},
		logger.Field{Key: "amount", Value: amount})

	return viewOf(b), nil
}

// fmtAmount renders an amount for idempotency-key scoping
func fmtAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// validateRefund rejects impossible refunds before any provider call is made
func validateRefund(b *booking.Booking, amount float64) error {
	if amount <= 0 || b.RefundedAmount()+amount > b.Amount() {
		return booking.ErrInvalidTransition
	}
	target := booking.PaymentPartiallyRefunded
	if b.RefundedAmount()+amount >= b.Amount() {
		target = booking.PaymentRefunded
	}
	if !b.PaymentState().CanTransitionTo(target) {
		return booking.ErrInvalidTransition
	}
	if b.PaymentRef() == "" {
		return fmt.Errorf("%w: booking has no payment reference", reliability.ErrPaymentServiceUnavailable)
	}
	return nil
}

func (c *Coordinator) guardedCreatePayment(ctx context.Context, key string, b *booking.Booking) (*gateway.ProviderResult, error) {
	var result *gateway.ProviderResult

	err := c.payments.ExecuteGuarded(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
		defer cancel()

		var gwErr error
		result, gwErr = c.gw.CreatePayment(callCtx, key, b.Amount(), b.Currency(), map[string]string{
			"booking_id": b.BookingID(),
			"student_id": b.StudentID(),
		})
		return gwErr
	})
	if err != nil {
		c.metrics.IncrementCounter("gateway_call_failures_total")
		return nil, err
	}

	return result, nil
}

func (c *Coordinator) guardedRefund(ctx context.Context, key, paymentRef string, amount float64) error {
	err := c.payments.ExecuteGuarded(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
		defer cancel()

		_, gwErr := c.gw.Refund(callCtx, key, paymentRef, amount)
		return gwErr
	})
	if err != nil {
		c.metrics.IncrementCounter("gateway_call_failures_total")
	}
	return err
}
