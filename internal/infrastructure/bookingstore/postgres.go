package bookingstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tutor-booking/internal/domain/booking"
)

const (
	insertBookingQuery = `
		INSERT INTO bookings (
			booking_id, tutor_id, student_id, amount, currency, refunded_amount,
			payment_ref, session_state, session_outcome, payment_state,
			dispute_state, dispute_reason, disputed_at, disputed_by,
			resolved_at, resolved_by, resolution_notes, version,
			session_started_at, session_ended_at, created_at, last_activity
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22
		)
	`

	selectBookingQuery = `
		SELECT booking_id, tutor_id, student_id, amount, currency, refunded_amount,
		       payment_ref, session_state, session_outcome, payment_state,
		       dispute_state, dispute_reason, disputed_at, disputed_by,
		       resolved_at, resolved_by, resolution_notes, version,
		       session_started_at, session_ended_at, created_at, last_activity
		FROM bookings
		WHERE booking_id = $1
	`

	casUpdateBookingQuery = `
		UPDATE bookings SET
			refunded_amount = $3, payment_ref = $4, session_state = $5,
			session_outcome = $6, payment_state = $7, dispute_state = $8,
			dispute_reason = $9, disputed_at = $10, disputed_by = $11,
			resolved_at = $12, resolved_by = $13, resolution_notes = $14,
			version = $15, session_started_at = $16, session_ended_at = $17,
			last_activity = $18
		WHERE booking_id = $1 AND version = $2
	`

	selectStalePaymentsQuery = `
		SELECT booking_id, tutor_id, student_id, amount, currency, refunded_amount,
		       payment_ref, session_state, session_outcome, payment_state,
		       dispute_state, dispute_reason, disputed_at, disputed_by,
		       resolved_at, resolved_by, resolution_notes, version,
		       session_started_at, session_ended_at, created_at, last_activity
		FROM bookings
		WHERE payment_state = ANY($1) AND last_activity < $2
		ORDER BY last_activity ASC
		LIMIT $3
	`
)

// PostgresStore persists bookings with optimistic locking: the UPDATE is
// predicated on the version the caller read, so a concurrent writer makes
// the statement match zero rows and the operation fails whole.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connString string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateBooking(ctx context.Context, b *booking.Booking) error {
	snap := b.Snapshot()

	_, err := s.db.ExecContext(ctx, insertBookingQuery,
		snap.BookingID,
		snap.TutorID,
		snap.StudentID,
		snap.Amount,
		snap.Currency,
		snap.RefundedAmount,
		snap.PaymentRef,
		string(snap.SessionState),
		string(snap.SessionOutcome),
		string(snap.PaymentState),
		string(snap.DisputeState),
		snap.DisputeReason,
		nullableTime(snap.DisputedAt),
		snap.DisputedBy,
		nullableTime(snap.ResolvedAt),
		snap.ResolvedBy,
		snap.ResolutionNotes,
		snap.Version,
		nullableTime(snap.SessionStartedAt),
		nullableTime(snap.SessionEndedAt),
		snap.CreatedAt,
		snap.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	return nil
}

func (s *PostgresStore) LoadBooking(ctx context.Context, bookingID string) (*booking.Booking, error) {
	row := s.db.QueryRowContext(ctx, selectBookingQuery, bookingID)

	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}

	return b, nil
}

func (s *PostgresStore) CASUpdate(ctx context.Context, b *booking.Booking, expectedVersion int) error {
	snap := b.Snapshot()

	result, err := s.db.ExecContext(ctx, casUpdateBookingQuery,
		snap.BookingID,
		expectedVersion,
		snap.RefundedAmount,
		snap.PaymentRef,
		string(snap.SessionState),
		string(snap.SessionOutcome),
		string(snap.PaymentState),
		string(snap.DisputeState),
		snap.DisputeReason,
		nullableTime(snap.DisputedAt),
		snap.DisputedBy,
		nullableTime(snap.ResolvedAt),
		snap.ResolvedBy,
		snap.ResolutionNotes,
		snap.Version,
		nullableTime(snap.SessionStartedAt),
		nullableTime(snap.SessionEndedAt),
		snap.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	return nil
}

func (s *PostgresStore) ListStalePayments(ctx context.Context, states []booking.PaymentState, cutoff time.Time, limit int) ([]*booking.Booking, error) {
	stateStrings := make([]string, len(states))
	for i, st := range states {
		stateStrings[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, selectStalePaymentsQuery,
		"{"+strings.Join(stateStrings, ",")+"}", cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale payments: %w", err)
	}
	defer rows.Close()

	var bookings []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}

	return bookings, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*booking.Booking, error) {
	var snap booking.Snapshot
	var sessionState, sessionOutcome, paymentState, disputeState string
	var disputedAt, resolvedAt, startedAt, endedAt sql.NullTime

	err := row.Scan(
		&snap.BookingID,
		&snap.TutorID,
		&snap.StudentID,
		&snap.Amount,
		&snap.Currency,
		&snap.RefundedAmount,
		&snap.PaymentRef,
		&sessionState,
		&sessionOutcome,
		&paymentState,
		&disputeState,
		&snap.DisputeReason,
		&disputedAt,
		&snap.DisputedBy,
		&resolvedAt,
		&snap.ResolvedBy,
		&snap.ResolutionNotes,
		&snap.Version,
		&startedAt,
		&endedAt,
		&snap.CreatedAt,
		&snap.LastActivity,
	)
	if err != nil {
		return nil, err
	}

	snap.SessionState = booking.SessionState(sessionState)
	snap.SessionOutcome = booking.SessionOutcome(sessionOutcome)
	snap.PaymentState = booking.PaymentState(paymentState)
	snap.DisputeState = booking.DisputeState(disputeState)
	snap.DisputedAt = disputedAt.Time
	snap.ResolvedAt = resolvedAt.Time
	snap.SessionStartedAt = startedAt.Time
	snap.SessionEndedAt = endedAt.Time

	return booking.Restore(snap), nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
