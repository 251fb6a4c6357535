package reconcile

import (
	"context"
	"errors"
	"time"

	"tutor-booking/internal/application/coordinator"
	"tutor-booking/internal/common/logger"
	"tutor-booking/internal/domain/booking"
	"tutor-booking/internal/infrastructure/bookingstore"
	"tutor-booking/internal/reliability"
)

// Reconciler sweeps bookings whose payment has been sitting in a
// non-terminal state, asks the provider what actually happened, and drives
// the local record forward when a webhook was evidently lost. It is the
// fallback path: webhooks remain the primary signal.
type Reconciler struct {
	store      bookingstore.Store
	poller     *reliability.StatusPoller
	coord      *coordinator.Coordinator
	logger     logger.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
}

func New(store bookingstore.Store, poller *reliability.StatusPoller, coord *coordinator.Coordinator, l logger.Logger, interval, staleAfter time.Duration, batchSize int) *Reconciler {
	return &Reconciler{
		store:      store,
		poller:     poller,
		coord:      coord,
		logger:     l,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

// Run sweeps on a fixed interval until the context is cancelled
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconciled, err := r.ReconcileOnce(ctx)
			if err != nil {
				r.logger.Warn("Reconciliation sweep aborted", logger.Field{Key: "error", Value: err})
				continue
			}
			if reconciled > 0 {
				r.logger.Info("Reconciliation sweep finished", logger.Field{Key: "reconciled", Value: reconciled})
			}
		}
	}
}

// ReconcileOnce performs a single sweep and returns how many bookings moved.
// A circuit-open provider aborts the sweep; everything else is logged and
// skipped so one bad record cannot stall the rest.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.staleAfter)
	stale, err := r.store.ListStalePayments(ctx,
		[]booking.PaymentState{booking.PaymentPending, booking.PaymentAuthorized}, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, b := range stale {
		// Pending bookings have no provider reference yet; nothing to ask about
		if b.PaymentRef() == "" {
			continue
		}

		info, err := r.poller.CheckPaymentIntent(ctx, b.PaymentRef())
		if err != nil {
			if errors.Is(err, reliability.ErrPaymentServiceUnavailable) {
				return reconciled, err
			}
			r.logger.Warn("Failed to poll payment status",
				logger.Field{Key: "booking_id", Value: b.BookingID()},
				logger.Field{Key: "error", Value: err})
			continue
		}
		if info.Error != "" {
			continue
		}

		if info.Paid {
			if _, err := r.coord.CapturePayment(ctx, b.BookingID(), b.Version()); err != nil {
				// A conflict means someone else moved the booking first;
				// the next sweep re-reads it.
				r.logger.Warn("Failed to record capture",
					logger.Field{Key: "booking_id", Value: b.BookingID()},
					logger.Field{Key: "error", Value: err})
				continue
			}
			reconciled++
		}
	}

	return reconciled, nil
}
