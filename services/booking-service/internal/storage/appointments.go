package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

const appointmentColumns = `id::text, customer_id, COALESCE(practitioner_id, ''), COALESCE(assigned_staff_id, ''),
	start_time, end_time, status, total_amount, deposit_amount, COALESCE(voucher_id, ''),
	note, cancel_reason, rejection_reason, cancelled_at, is_feedback_given, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.PractitionerID,
		&a.AssignedStaffID,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.TotalAmount,
		&a.DepositAmount,
		&a.VoucherID,
		&a.Note,
		&a.CancelReason,
		&a.RejectionReason,
		&cancelledAt,
		&a.IsFeedbackGiven,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.CancelledAt = cancelledAt
	return a, nil
}

// InsertAppointment writes the appointment and its detail lines. An overlap
// rejected by the exclusion constraint is returned as a *model.SlotConflictError.
func (s *Store) InsertAppointment(ctx context.Context, q db.DBTX, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = newID()
	}
	err := q.QueryRow(ctx, `
		INSERT INTO appointments
			(id, customer_id, practitioner_id, assigned_staff_id, start_time, end_time, status,
			 total_amount, deposit_amount, voucher_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, a.ID, a.CustomerID, nullIfEmpty(a.PractitionerID), nullIfEmpty(a.AssignedStaffID), a.StartTime, a.EndTime,
		a.Status, a.TotalAmount, a.DepositAmount, nullIfEmpty(a.VoucherID), a.Note).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsConflict(err) {
			return &model.SlotConflictError{}
		}
		return err
	}

	for i := range a.Details {
		d := &a.Details[i]
		if d.ID == "" {
			d.ID = newID()
		}
		d.AppointmentID = a.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO appointment_details (id, appointment_id, position, service_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, d.ID, a.ID, i, d.ServiceID, d.Quantity, d.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetAppointment(ctx context.Context, q db.DBTX, id string) (model.Appointment, error) {
	return s.getAppointment(ctx, q, id, "")
}

// GetAppointmentForUpdate row-locks the appointment for the rest of the transaction.
func (s *Store) GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error) {
	return s.getAppointment(ctx, q, id, "FOR UPDATE")
}

func (s *Store) getAppointment(ctx context.Context, q db.DBTX, id, lock string) (model.Appointment, error) {
	a, err := scanAppointment(q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 `+lock, id))
	if err != nil {
		return model.Appointment{}, notFound(err, "appointment", id)
	}
	details, err := s.listDetails(ctx, q, id)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Details = details
	return a, nil
}

func (s *Store) listDetails(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Detail, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, appointment_id::text, service_id, quantity, unit_price
		FROM appointment_details
		WHERE appointment_id = $1
		ORDER BY position
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.Detail, error) {
		var d model.Detail
		err := r.Scan(&d.ID, &d.AppointmentID, &d.ServiceID, &d.Quantity, &d.UnitPrice)
		return d, err
	})
}

func (s *Store) ListAppointments(ctx context.Context, q db.DBTX, f model.AppointmentFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.PractitionerID != "" {
		add("practitioner_id = $%d", f.PractitionerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	sql := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY start_time DESC LIMIT $%d`, len(args))

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.Appointment, error) { return scanAppointment(r) })
}

// ListBlocking returns the practitioner's slot-holding appointments that intersect [start, end).
func (s *Store) ListBlocking(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
			AND status NOT IN ('rejected', 'cancelled')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, practitionerID, start, end)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.Appointment, error) { return scanAppointment(r) })
}

// UpdateStatus applies a status change guarded by the expected current status.
func (s *Store) UpdateStatus(ctx context.Context, q db.DBTX, c model.StatusChange) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			practitioner_id = COALESCE($4, practitioner_id),
			assigned_staff_id = COALESCE($5, assigned_staff_id),
			cancel_reason = CASE WHEN $3 = 'cancelled' THEN $6 ELSE cancel_reason END,
			rejection_reason = CASE WHEN $3 = 'rejected' THEN $7 ELSE rejection_reason END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $8 ELSE cancelled_at END,
			updated_at = $8
		WHERE id = $1 AND status = $2
	`, c.AppointmentID, string(c.From), string(c.To), nullIfEmpty(c.PractitionerID), nullIfEmpty(c.AssignedStaffID),
		c.CancelReason, c.RejectionReason, c.At)
	if err != nil {
		if db.IsConflict(err) {
			return &model.SlotConflictError{}
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return &model.TransitionError{From: c.From, To: c.To, Reason: "status changed concurrently"}
	}
	return nil
}

func (s *Store) UpdateAmounts(ctx context.Context, q db.DBTX, appointmentID string, total, deposit int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointments SET total_amount = $2, deposit_amount = $3, updated_at = now() WHERE id = $1
	`, appointmentID, total, deposit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment %s", model.ErrNotFound, appointmentID)
	}
	return nil
}

func (s *Store) UpdateDetailQuantity(ctx context.Context, q db.DBTX, appointmentID, detailID string, quantity int) error {
	tag, err := q.Exec(ctx, `
		UPDATE appointment_details SET quantity = $3 WHERE id = $2 AND appointment_id = $1
	`, appointmentID, detailID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: detail %s", model.ErrNotFound, detailID)
	}
	return nil
}

// MarkFeedbackGiven flips is_feedback_given once. It reports false if the flag was already set.
func (s *Store) MarkFeedbackGiven(ctx context.Context, q db.DBTX, appointmentID string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE appointments SET is_feedback_given = true, updated_at = now()
		WHERE id = $1 AND is_feedback_given = false
	`, appointmentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) InsertHistory(ctx context.Context, q db.DBTX, h model.HistoryEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, old_status, new_status, actor_kind, actor_id, reason, note, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.AppointmentID, string(h.OldStatus), string(h.NewStatus), string(h.ActorKind), h.ActorID, h.Reason, h.Note, h.ChangedAt)
	return err
}

func (s *Store) ListHistory(ctx context.Context, q db.DBTX, appointmentID string) ([]model.HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, appointment_id::text, old_status, new_status, actor_kind, actor_id, reason, note, changed_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.HistoryEntry, error) {
		var h model.HistoryEntry
		err := r.Scan(&h.ID, &h.AppointmentID, &h.OldStatus, &h.NewStatus, &h.ActorKind, &h.ActorID, &h.Reason, &h.Note, &h.ChangedAt)
		return h, err
	})
}
