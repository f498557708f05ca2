package storagetest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

func (s *Store) InsertInvoice(_ context.Context, _ db.DBTX, inv *model.Invoice) error {
	defer s.lock()()
	for _, other := range s.data.invoices {
		if other.AppointmentID == inv.AppointmentID && other.Kind == inv.Kind && other.SupersededBy == "" {
			return uniqueViolation("invoices_active_kind_key")
		}
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = s.now()
	stored := *inv
	stored.Lines = append([]model.InvoiceLine(nil), inv.Lines...)
	s.data.invoices = append(s.data.invoices, stored)
	return nil
}

func (s *Store) GetInvoiceForUpdate(_ context.Context, _ db.DBTX, id string) (model.Invoice, error) {
	defer s.lock()()
	for _, inv := range s.data.invoices {
		if inv.ID == id {
			inv.Lines = append([]model.InvoiceLine(nil), inv.Lines...)
			return inv, nil
		}
	}
	return model.Invoice{}, fmt.Errorf("%w: invoice %s", model.ErrNotFound, id)
}

func (s *Store) ListInvoices(_ context.Context, _ db.DBTX, appointmentID string) ([]model.Invoice, error) {
	defer s.lock()()
	var out []model.Invoice
	for _, inv := range s.data.invoices {
		if inv.AppointmentID == appointmentID {
			inv.Lines = append([]model.InvoiceLine(nil), inv.Lines...)
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *Store) MarkInvoiceSuperseded(_ context.Context, _ db.DBTX, id, replacementID string) error {
	defer s.lock()()
	for i, inv := range s.data.invoices {
		if inv.ID != id {
			continue
		}
		if inv.SupersededBy != "" {
			return fmt.Errorf("%w: invoice %s is already superseded", model.ErrInvalidInput, id)
		}
		s.data.invoices[i].SupersededBy = replacementID
		return nil
	}
	return fmt.Errorf("%w: invoice %s is already superseded", model.ErrInvalidInput, id)
}
