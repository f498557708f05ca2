package storagetest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

func (s *Store) InsertFeedback(_ context.Context, _ db.DBTX, f *model.Feedback) error {
	defer s.lock()()
	for _, other := range s.data.feedback {
		if other.AppointmentID == f.AppointmentID && other.DetailID == f.DetailID {
			return uniqueViolation("feedback_appointment_id_detail_id_key")
		}
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = model.ModerationPending
	}
	f.CreatedAt = s.now()
	s.data.feedback = append(s.data.feedback, *f)
	return nil
}

func (s *Store) ListFeedback(_ context.Context, _ db.DBTX, appointmentID string) ([]model.Feedback, error) {
	defer s.lock()()
	var out []model.Feedback
	for _, f := range s.data.feedback {
		if f.AppointmentID == appointmentID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) ModerateFeedback(_ context.Context, _ db.DBTX, id string, status model.ModerationStatus, moderatedBy string) (model.Feedback, error) {
	defer s.lock()()
	for i, f := range s.data.feedback {
		if f.ID == id {
			f.Status, f.ModeratedBy = status, moderatedBy
			s.data.feedback[i] = f
			return f, nil
		}
	}
	return model.Feedback{}, fmt.Errorf("%w: feedback %s", model.ErrNotFound, id)
}

func (s *Store) InsertCancelRequest(_ context.Context, _ db.DBTX, cr *model.DoctorCancelRequest) error {
	defer s.lock()()
	for _, other := range s.data.cancelRequests {
		if other.AppointmentID == cr.AppointmentID && other.Status == model.CancelRequestPending {
			return fmt.Errorf("%w: a cancellation request is already pending", model.ErrInvalidInput)
		}
	}
	if cr.ID == "" {
		cr.ID = uuid.NewString()
	}
	cr.CreatedAt = s.now()
	s.data.cancelRequests[cr.ID] = *cr
	return nil
}

func (s *Store) GetCancelRequestForUpdate(_ context.Context, _ db.DBTX, id string) (model.DoctorCancelRequest, error) {
	defer s.lock()()
	cr, ok := s.data.cancelRequests[id]
	if !ok {
		return model.DoctorCancelRequest{}, fmt.Errorf("%w: cancel request %s", model.ErrNotFound, id)
	}
	return cr, nil
}

func (s *Store) DecideCancelRequest(_ context.Context, _ db.DBTX, cr model.DoctorCancelRequest) error {
	defer s.lock()()
	existing, ok := s.data.cancelRequests[cr.ID]
	if ok && existing.Status == model.CancelRequestPending {
		existing.Status, existing.DecidedBy, existing.DecidedAt = cr.Status, cr.DecidedBy, cr.DecidedAt
		s.data.cancelRequests[cr.ID] = existing
	}
	return nil
}
