package storagetest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage"
)

func (s *Store) LockPractitioner(context.Context, db.DBTX, string) error {
	return nil
}

// overlaps mirrors the appointments_no_overlap exclusion constraint.
func (s *Store) overlaps(a model.Appointment) bool {
	if a.PractitionerID == "" || !a.Status.BlocksSlot() {
		return false
	}
	for id, other := range s.data.appointments {
		if id == a.ID || other.PractitionerID != a.PractitionerID || !other.Status.BlocksSlot() {
			continue
		}
		if a.StartTime.Before(other.EndTime) && other.StartTime.Before(a.EndTime) {
			return true
		}
	}
	return false
}

func (s *Store) InsertAppointment(_ context.Context, _ db.DBTX, a *model.Appointment) error {
	defer s.lock()()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if s.overlaps(*a) {
		return &model.SlotConflictError{}
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	for i := range a.Details {
		if a.Details[i].ID == "" {
			a.Details[i].ID = uuid.NewString()
		}
		a.Details[i].AppointmentID = a.ID
	}
	s.data.appointments[a.ID] = copyAppointment(*a)
	return nil
}

func (s *Store) GetAppointment(_ context.Context, _ db.DBTX, id string) (model.Appointment, error) {
	defer s.lock()()
	a, ok := s.data.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", model.ErrNotFound, id)
	}
	return copyAppointment(a), nil
}

func (s *Store) GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error) {
	return s.GetAppointment(ctx, q, id)
}

func (s *Store) ListAppointments(_ context.Context, _ db.DBTX, f model.AppointmentFilter) ([]model.Appointment, error) {
	defer s.lock()()
	var out []model.Appointment
	for _, a := range s.data.appointments {
		if f.CustomerID != "" && a.CustomerID != f.CustomerID {
			continue
		}
		if f.PractitionerID != "" && a.PractitionerID != f.PractitionerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		a.Details = nil
		out = append(out, a)
	}
	sortAppointments(out)
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListBlocking(_ context.Context, _ db.DBTX, practitionerID string, start, end time.Time) ([]model.Appointment, error) {
	defer s.lock()()
	var out []model.Appointment
	for _, a := range s.data.appointments {
		if a.PractitionerID != practitionerID || !a.Status.BlocksSlot() {
			continue
		}
		if a.StartTime.Before(end) && a.EndTime.After(start) {
			a.Details = nil
			out = append(out, a)
		}
	}
	sortAppointments(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, _ db.DBTX, c model.StatusChange) error {
	defer s.lock()()
	a, ok := s.data.appointments[c.AppointmentID]
	if !ok || a.Status != c.From {
		return &model.TransitionError{From: c.From, To: c.To, Reason: "status changed concurrently"}
	}
	a.Status = c.To
	if c.PractitionerID != "" {
		a.PractitionerID = c.PractitionerID
	}
	if c.AssignedStaffID != "" {
		a.AssignedStaffID = c.AssignedStaffID
	}
	switch c.To {
	case model.StatusCancelled:
		a.CancelReason = c.CancelReason
		at := c.At
		a.CancelledAt = &at
	case model.StatusRejected:
		a.RejectionReason = c.RejectionReason
	}
	a.UpdatedAt = c.At
	if s.overlaps(a) {
		return &model.SlotConflictError{}
	}
	s.data.appointments[a.ID] = a
	return nil
}

func (s *Store) UpdateAmounts(_ context.Context, _ db.DBTX, appointmentID string, total, deposit int64) error {
	defer s.lock()()
	a, ok := s.data.appointments[appointmentID]
	if !ok {
		return fmt.Errorf("%w: appointment %s", model.ErrNotFound, appointmentID)
	}
	a.TotalAmount, a.DepositAmount = total, deposit
	s.data.appointments[a.ID] = a
	return nil
}

func (s *Store) UpdateDetailQuantity(_ context.Context, _ db.DBTX, appointmentID, detailID string, quantity int) error {
	defer s.lock()()
	a, ok := s.data.appointments[appointmentID]
	if ok {
		a = copyAppointment(a)
		for i := range a.Details {
			if a.Details[i].ID == detailID {
				a.Details[i].Quantity = quantity
				s.data.appointments[a.ID] = a
				return nil
			}
		}
	}
	return fmt.Errorf("%w: detail %s", model.ErrNotFound, detailID)
}

func (s *Store) MarkFeedbackGiven(_ context.Context, _ db.DBTX, appointmentID string) (bool, error) {
	defer s.lock()()
	a, ok := s.data.appointments[appointmentID]
	if !ok || a.IsFeedbackGiven {
		return false, nil
	}
	a.IsFeedbackGiven = true
	s.data.appointments[a.ID] = a
	return true, nil
}

func (s *Store) InsertHistory(_ context.Context, _ db.DBTX, h model.HistoryEntry) error {
	defer s.lock()()
	h.ID = s.serial()
	s.data.history = append(s.data.history, h)
	return nil
}

func (s *Store) ListHistory(_ context.Context, _ db.DBTX, appointmentID string) ([]model.HistoryEntry, error) {
	defer s.lock()()
	var out []model.HistoryEntry
	for _, h := range s.data.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func idemKey(customerID, key string) string {
	return customerID + "\x00" + key
}

func (s *Store) LockIdempotencyKey(_ context.Context, _ db.DBTX, customerID, key string) (storage.IdempotencyRecord, bool, error) {
	defer s.lock()()
	if rec, ok := s.data.idempotency[idemKey(customerID, key)]; ok {
		return rec, true, nil
	}
	rec := storage.IdempotencyRecord{CustomerID: customerID, IdempotencyKey: key}
	s.data.idempotency[idemKey(customerID, key)] = rec
	return rec, false, nil
}

func (s *Store) FinalizeIdempotency(_ context.Context, _ db.DBTX, customerID, key, appointmentID string, statusCode int, response []byte) error {
	defer s.lock()()
	s.data.idempotency[idemKey(customerID, key)] = storage.IdempotencyRecord{
		CustomerID:      customerID,
		IdempotencyKey:  key,
		AppointmentID:   appointmentID,
		StatusCode:      statusCode,
		ResponsePayload: append([]byte(nil), response...),
	}
	return nil
}
