package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"tutor-booking/internal/domain/events"
)

const (
	insertRecordQuery = `
		INSERT INTO booking_events (
			event_id, event_type, booking_id, event_data, event_metadata,
			sequence_number, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	selectRecordsByBookingQuery = `
		SELECT event_id, event_type, booking_id, event_data, event_metadata,
		       sequence_number, timestamp
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY sequence_number ASC
	`
)

type PostgresLog struct {
	db *sql.DB
}

func NewPostgresLog(connString string) (*PostgresLog, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresLog{db: db}, nil
}

func (l *PostgresLog) Append(ctx context.Context, event events.Event) error {
	eventData, err := json.Marshal(event.Data())
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	metadata, err := json.Marshal(event.Metadata())
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}

	_, err = l.db.ExecContext(ctx, insertRecordQuery,
		event.ID(),
		event.Type(),
		event.BookingID(),
		eventData,
		metadata,
		event.SequenceNumber(),
		event.Timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	return nil
}

func (l *PostgresLog) History(ctx context.Context, bookingID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, selectRecordsByBookingQuery, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var dataJSON, metadataJSON []byte
		var timestamp sql.NullTime

		err := rows.Scan(&rec.EventID, &rec.EventType, &rec.BookingID, &dataJSON, &metadataJSON, &rec.SequenceNumber, &timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		rec.Data = json.RawMessage(dataJSON)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		rec.Timestamp = timestamp.Time

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return records, nil
}

func (l *PostgresLog) Close() error {
	return l.db.Close()
}
