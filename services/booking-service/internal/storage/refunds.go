package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

const refundColumns = `id::text, appointment_id::text, amount, method, status, reason, note, processed_by, processed_at, created_at`

func scanRefund(row pgx.Row) (model.Refund, error) {
	var rf model.Refund
	var processedAt *time.Time
	err := row.Scan(&rf.ID, &rf.AppointmentID, &rf.Amount, &rf.Method, &rf.Status, &rf.Reason, &rf.Note, &rf.ProcessedBy, &processedAt, &rf.CreatedAt)
	if err != nil {
		return model.Refund{}, err
	}
	rf.ProcessedAt = processedAt
	return rf, nil
}

func (s *Store) InsertRefund(ctx context.Context, q db.DBTX, rf *model.Refund) error {
	if rf.ID == "" {
		rf.ID = newID()
	}
	return q.QueryRow(ctx, `
		INSERT INTO refunds (id, appointment_id, amount, method, status, reason, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, rf.ID, rf.AppointmentID, rf.Amount, string(rf.Method), string(rf.Status), rf.Reason, rf.Note).Scan(&rf.CreatedAt)
}

func (s *Store) GetRefundForUpdate(ctx context.Context, q db.DBTX, id string) (model.Refund, error) {
	rf, err := scanRefund(q.QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Refund{}, notFound(err, "refund", id)
	}
	return rf, nil
}

func (s *Store) ListRefunds(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Refund, error) {
	rows, err := q.Query(ctx, `
		SELECT `+refundColumns+` FROM refunds WHERE appointment_id = $1 ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.Refund, error) { return scanRefund(r) })
}

// UpdateRefundOutcome records the staff decision on a pending refund.
func (s *Store) UpdateRefundOutcome(ctx context.Context, q db.DBTX, rf model.Refund) error {
	_, err := q.Exec(ctx, `
		UPDATE refunds
		SET status = $2, method = $3, note = $4, processed_by = $5, processed_at = $6
		WHERE id = $1 AND status = 'pending'
	`, rf.ID, string(rf.Status), string(rf.Method), rf.Note, rf.ProcessedBy, rf.ProcessedAt)
	return err
}
