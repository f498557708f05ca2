package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage"
)

func (s *Store) InsertPaymentIntent(_ context.Context, _ db.DBTX, p *model.PaymentIntent) error {
	defer s.lock()()
	s.data.nextOrderCode++
	p.OrderCode = s.data.nextOrderCode
	p.CreatedAt, p.UpdatedAt = s.now(), s.now()
	s.data.intents[p.OrderCode] = *p
	return nil
}

func (s *Store) GetPaymentIntent(_ context.Context, _ db.DBTX, orderCode int64) (model.PaymentIntent, error) {
	defer s.lock()()
	p, ok := s.data.intents[orderCode]
	if !ok {
		return model.PaymentIntent{}, fmt.Errorf("%w: payment intent %d", model.ErrNotFound, orderCode)
	}
	return p, nil
}

func (s *Store) GetPaymentIntentForUpdate(ctx context.Context, q db.DBTX, orderCode int64) (model.PaymentIntent, error) {
	return s.GetPaymentIntent(ctx, q, orderCode)
}

func (s *Store) FindOpenIntent(_ context.Context, _ db.DBTX, appointmentID string) (model.PaymentIntent, bool, error) {
	defer s.lock()()
	var best model.PaymentIntent
	found := false
	for _, p := range s.data.intents {
		if p.AppointmentID == appointmentID && p.Status.IsOpen() && p.OrderCode > best.OrderCode {
			best, found = p, true
		}
	}
	return best, found, nil
}

func (s *Store) AttachCheckout(_ context.Context, _ db.DBTX, orderCode int64, ref, url string) error {
	defer s.lock()()
	p, ok := s.data.intents[orderCode]
	if !ok || p.Status != model.IntentCreated {
		return nil
	}
	p.CheckoutRef, p.CheckoutURL, p.Status = ref, url, model.IntentOpen
	s.data.intents[orderCode] = p
	return nil
}

func (s *Store) SetIntentStatus(_ context.Context, _ db.DBTX, orderCode int64, status model.IntentStatus) error {
	defer s.lock()()
	if p, ok := s.data.intents[orderCode]; ok {
		p.Status = status
		s.data.intents[orderCode] = p
	}
	return nil
}

func (s *Store) VoidOpenIntents(_ context.Context, _ db.DBTX, appointmentID string) (int64, error) {
	defer s.lock()()
	var n int64
	for code, p := range s.data.intents {
		if p.AppointmentID == appointmentID && p.Status.IsOpen() {
			p.Status = model.IntentVoid
			s.data.intents[code] = p
			n++
		}
	}
	return n, nil
}

func (s *Store) InsertProviderEvent(_ context.Context, _ db.DBTX, evt storage.ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return fmt.Errorf("provider event payload: invalid json")
	}
	defer s.lock()()
	key := evt.Provider + "\x00" + evt.ProviderEventID
	if s.data.providerEvents[key] {
		return storage.ErrDuplicateProviderEvent
	}
	s.data.providerEvents[key] = true
	return nil
}

func (s *Store) InsertDiscrepancy(_ context.Context, _ db.DBTX, d *model.PaymentDiscrepancy) error {
	defer s.lock()()
	d.ID = s.serial()
	d.CreatedAt = s.now()
	s.data.discrepancies = append(s.data.discrepancies, *d)
	return nil
}

func (s *Store) ListDiscrepancies(_ context.Context, _ db.DBTX, limit int) ([]model.PaymentDiscrepancy, error) {
	defer s.lock()()
	out := append([]model.PaymentDiscrepancy(nil), s.data.discrepancies...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
