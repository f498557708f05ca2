package storagetest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

func (s *Store) InsertRefund(_ context.Context, _ db.DBTX, rf *model.Refund) error {
	defer s.lock()()
	if rf.Status == model.RefundPending {
		for _, other := range s.data.refunds {
			if other.AppointmentID == rf.AppointmentID && other.Status == model.RefundPending {
				return uniqueViolation("refunds_one_pending_key")
			}
		}
	}
	if rf.ID == "" {
		rf.ID = uuid.NewString()
	}
	rf.CreatedAt = s.now()
	s.data.refunds = append(s.data.refunds, *rf)
	return nil
}

func (s *Store) GetRefundForUpdate(_ context.Context, _ db.DBTX, id string) (model.Refund, error) {
	defer s.lock()()
	for _, rf := range s.data.refunds {
		if rf.ID == id {
			return rf, nil
		}
	}
	return model.Refund{}, fmt.Errorf("%w: refund %s", model.ErrNotFound, id)
}

func (s *Store) ListRefunds(_ context.Context, _ db.DBTX, appointmentID string) ([]model.Refund, error) {
	defer s.lock()()
	var out []model.Refund
	for _, rf := range s.data.refunds {
		if rf.AppointmentID == appointmentID {
			out = append(out, rf)
		}
	}
	return out, nil
}

func (s *Store) UpdateRefundOutcome(_ context.Context, _ db.DBTX, rf model.Refund) error {
	defer s.lock()()
	for i, existing := range s.data.refunds {
		if existing.ID == rf.ID && existing.Status == model.RefundPending {
			existing.Status = rf.Status
			existing.Method = rf.Method
			existing.Note = rf.Note
			existing.ProcessedBy = rf.ProcessedBy
			existing.ProcessedAt = rf.ProcessedAt
			s.data.refunds[i] = existing
		}
	}
	return nil
}
