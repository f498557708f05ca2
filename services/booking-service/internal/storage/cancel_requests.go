package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

const cancelRequestColumns = `id::text, appointment_id::text, doctor_id, reason, status, decided_by, decided_at, created_at`

func scanCancelRequest(row pgx.Row) (model.DoctorCancelRequest, error) {
	var cr model.DoctorCancelRequest
	var decidedAt *time.Time
	err := row.Scan(&cr.ID, &cr.AppointmentID, &cr.DoctorID, &cr.Reason, &cr.Status, &cr.DecidedBy, &decidedAt, &cr.CreatedAt)
	if err != nil {
		return model.DoctorCancelRequest{}, err
	}
	cr.DecidedAt = decidedAt
	return cr, nil
}

// InsertCancelRequest fails with ErrInvalidInput if a pending request already exists for the appointment.
func (s *Store) InsertCancelRequest(ctx context.Context, q db.DBTX, cr *model.DoctorCancelRequest) error {
	if cr.ID == "" {
		cr.ID = newID()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO doctor_cancel_requests (id, appointment_id, doctor_id, reason, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, cr.ID, cr.AppointmentID, cr.DoctorID, cr.Reason, string(cr.Status)).Scan(&cr.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: a cancellation request is already pending", model.ErrInvalidInput)
	}
	return err
}

func (s *Store) GetCancelRequestForUpdate(ctx context.Context, q db.DBTX, id string) (model.DoctorCancelRequest, error) {
	cr, err := scanCancelRequest(q.QueryRow(ctx, `SELECT `+cancelRequestColumns+` FROM doctor_cancel_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.DoctorCancelRequest{}, notFound(err, "cancel request", id)
	}
	return cr, nil
}

func (s *Store) DecideCancelRequest(ctx context.Context, q db.DBTX, cr model.DoctorCancelRequest) error {
	_, err := q.Exec(ctx, `
		UPDATE doctor_cancel_requests SET status = $2, decided_by = $3, decided_at = $4
		WHERE id = $1 AND status = 'pending'
	`, cr.ID, string(cr.Status), cr.DecidedBy, cr.DecidedAt)
	return err
}
