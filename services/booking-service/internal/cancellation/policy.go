// Package cancellation decides what happens to money when an appointment is
// cancelled or rejected, and lets staff close out the resulting refunds.
package cancellation

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
)

type RefundStore interface {
	InsertRefund(ctx context.Context, q db.DBTX, rf *model.Refund) error
}

type EventWriter interface {
	Insert(ctx context.Context, q db.DBTX, evt outbox.Event) error
}

// Policy opens refunds for the lifecycle machine.
type Policy struct {
	store   RefundStore
	events  EventWriter
	metrics *metrics.BookingMetrics
	now     func() time.Time
}

func NewPolicy(store RefundStore, events EventWriter, m *metrics.BookingMetrics) *Policy {
	return &Policy{store: store, events: events, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// OpenRefund refuses to close an appointment that has a final invoice and
// opens a pending refund of the deposit when only the deposit was paid.
func (p *Policy) OpenRefund(ctx context.Context, q db.DBTX, appt model.Appointment, invoices []model.Invoice, to model.Status, reason string) (*model.Refund, error) {
	if _, ok := model.ActiveInvoice(invoices, model.InvoiceFinal); ok {
		return nil, model.ErrCancellationNotAllowed
	}
	if _, ok := model.ActiveInvoice(invoices, model.InvoiceDeposit); !ok || appt.DepositAmount <= 0 {
		return nil, nil
	}

	rf := &model.Refund{
		AppointmentID: appt.ID,
		Amount:        appt.DepositAmount,
		Status:        model.RefundPending,
		Reason:        reason,
	}
	if err := p.store.InsertRefund(ctx, q, rf); err != nil {
		return nil, err
	}
	evt, err := outbox.NewAppointmentEvent(appt.ID, outbox.RefundOpened, map[string]any{
		"refund_id":      rf.ID,
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"amount":         rf.Amount,
		"trigger":        to,
		"reason":         reason,
		"opened_at":      p.now().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if err := p.events.Insert(ctx, q, evt); err != nil {
		return nil, err
	}
	p.metrics.ObserveRefund(string(model.RefundPending))
	return rf, nil
}
