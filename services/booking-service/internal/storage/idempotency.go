package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
)

type IdempotencyRecord struct {
	CustomerID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// Completed reports whether a response was stored for the key.
func (r IdempotencyRecord) Completed() bool {
	return r.AppointmentID != "" && r.StatusCode > 0
}

// LockIdempotencyKey claims the key for the current transaction. The bool is
// true when the key already existed.
func (s *Store) LockIdempotencyKey(ctx context.Context, q db.DBTX, customerID, key string) (IdempotencyRecord, bool, error) {
	rec, err := s.selectIdempotencyForUpdate(ctx, q, customerID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (customer_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (customer_id, idempotency_key) DO NOTHING
	`, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = s.selectIdempotencyForUpdate(ctx, q, customerID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (s *Store) FinalizeIdempotency(ctx context.Context, q db.DBTX, customerID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := q.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE customer_id = $1 AND idempotency_key = $2
	`, customerID, key, appointmentID, statusCode, response)
	return err
}

func (s *Store) selectIdempotencyForUpdate(ctx context.Context, q db.DBTX, customerID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := q.QueryRow(ctx, `
		SELECT customer_id,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE customer_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, customerID, key).Scan(
		&rec.CustomerID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
