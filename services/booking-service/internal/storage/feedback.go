package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

const feedbackColumns = `id::text, appointment_id::text, detail_id::text, service_id, customer_id, rating, comment, status, moderated_by, created_at`

func scanFeedback(row pgx.Row) (model.Feedback, error) {
	var f model.Feedback
	err := row.Scan(&f.ID, &f.AppointmentID, &f.DetailID, &f.ServiceID, &f.CustomerID, &f.Rating, &f.Comment, &f.Status, &f.ModeratedBy, &f.CreatedAt)
	return f, err
}

func (s *Store) InsertFeedback(ctx context.Context, q db.DBTX, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.Status == "" {
		f.Status = model.ModerationPending
	}
	return q.QueryRow(ctx, `
		INSERT INTO feedback (id, appointment_id, detail_id, service_id, customer_id, rating, comment, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, f.ID, f.AppointmentID, f.DetailID, f.ServiceID, f.CustomerID, f.Rating, f.Comment, string(f.Status)).Scan(&f.CreatedAt)
}

func (s *Store) ListFeedback(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Feedback, error) {
	rows, err := q.Query(ctx, `
		SELECT `+feedbackColumns+` FROM feedback WHERE appointment_id = $1 ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.Feedback, error) { return scanFeedback(r) })
}

func (s *Store) ModerateFeedback(ctx context.Context, q db.DBTX, id string, status model.ModerationStatus, moderatedBy string) (model.Feedback, error) {
	f, err := scanFeedback(q.QueryRow(ctx, `
		UPDATE feedback SET status = $2, moderated_by = $3
		WHERE id = $1
		RETURNING `+feedbackColumns, id, string(status), moderatedBy))
	if err != nil {
		return model.Feedback{}, notFound(err, "feedback", id)
	}
	return f, nil
}
