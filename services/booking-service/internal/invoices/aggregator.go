// Package invoices reads the deposit and final invoices of an appointment as
// one bill, and appends corrections without touching settled rows.
package invoices

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type Store interface {
	GetAppointment(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	ListInvoices(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, q db.DBTX, id string) (model.Invoice, error)
	InsertInvoice(ctx context.Context, q db.DBTX, inv *model.Invoice) error
	MarkInvoiceSuperseded(ctx context.Context, q db.DBTX, id, replacementID string) error
}

type Line struct {
	ServiceID string
	Quantity  int
	UnitPrice int64
	Total     int64
}

type Summary struct {
	AppointmentID      string
	Lines              []Line
	TotalPaid          int64
	TotalDiscount      int64
	PaymentMethodsUsed []model.PaymentMethod
	DepositInvoice     *model.Invoice
	FinalInvoice       *model.Invoice
}

type Aggregator struct {
	conn  db.Conn
	store Store
}

func NewAggregator(conn db.Conn, store Store) *Aggregator {
	return &Aggregator{conn: conn, store: store}
}

// Aggregate merges the active invoices of an appointment. It never writes.
func (a *Aggregator) Aggregate(ctx context.Context, appointmentID string) (Summary, error) {
	if _, err := a.store.GetAppointment(ctx, a.conn, appointmentID); err != nil {
		return Summary{}, err
	}
	list, err := a.store.ListInvoices(ctx, a.conn, appointmentID)
	if err != nil {
		return Summary{}, err
	}
	return Merge(appointmentID, list), nil
}

// Merge dedupes lines by service id. When both invoices carry a service the
// final invoice's line wins. Superseded invoices are skipped.
func Merge(appointmentID string, list []model.Invoice) Summary {
	s := Summary{AppointmentID: appointmentID, Lines: []Line{}, PaymentMethodsUsed: []model.PaymentMethod{}}
	if dep, ok := model.ActiveInvoice(list, model.InvoiceDeposit); ok {
		s.DepositInvoice = &dep
	}
	if fin, ok := model.ActiveInvoice(list, model.InvoiceFinal); ok {
		s.FinalInvoice = &fin
	}

	lines := map[string]model.InvoiceLine{}
	var order []string
	seenMethod := map[model.PaymentMethod]bool{}
	for _, inv := range []*model.Invoice{s.DepositInvoice, s.FinalInvoice} {
		if inv == nil {
			continue
		}
		s.TotalPaid += inv.FinalAmount
		s.TotalDiscount += inv.Discount
		if inv.PaymentMethod != "" && !seenMethod[inv.PaymentMethod] {
			seenMethod[inv.PaymentMethod] = true
			s.PaymentMethodsUsed = append(s.PaymentMethodsUsed, inv.PaymentMethod)
		}
		for _, l := range inv.Lines {
			if _, ok := lines[l.ServiceID]; !ok {
				order = append(order, l.ServiceID)
			}
			lines[l.ServiceID] = l
		}
	}

	for _, id := range order {
		l := lines[id]
		s.Lines = append(s.Lines, Line{
			ServiceID: l.ServiceID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Total:     int64(l.Quantity) * l.UnitPrice,
		})
	}
	sort.SliceStable(s.Lines, func(i, j int) bool { return s.Lines[i].ServiceID < s.Lines[j].ServiceID })
	return s
}

// Correction lists the fields staff may change. The final amount is always
// derived as total minus discount, clamped at zero.
type Correction struct {
	Discount      *int64
	PaymentMethod model.PaymentMethod
	Lines         []model.InvoiceLine
}

// Supersede appends a corrected copy of an invoice and points the original at it.
func (a *Aggregator) Supersede(ctx context.Context, invoiceID string, c Correction, actor model.Actor) (model.Invoice, error) {
	if !actor.IsStaff() {
		return model.Invoice{}, model.ErrForbidden
	}

	tx, err := a.conn.Begin(ctx)
	if err != nil {
		return model.Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := a.store.GetInvoiceForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return model.Invoice{}, err
	}
	if old.SupersededBy != "" {
		return model.Invoice{}, fmt.Errorf("%w: invoice %s was already superseded by %s", model.ErrInvalidInput, old.ID, old.SupersededBy)
	}

	next := old
	next.ID = ""
	next.SupersededBy = ""
	next.ProcessedBy = actor.ID
	if c.Discount != nil {
		if *c.Discount < 0 || *c.Discount > old.Total {
			return model.Invoice{}, fmt.Errorf("%w: discount must be between 0 and %d", model.ErrInvalidInput, old.Total)
		}
		next.Discount = *c.Discount
	}
	next.FinalAmount = model.ClampedFinal(next.Total, next.Discount)
	if c.PaymentMethod != "" {
		if _, ok := model.ParsePaymentMethod(string(c.PaymentMethod)); !ok {
			return model.Invoice{}, fmt.Errorf("%w: unknown payment method %q", model.ErrInvalidInput, c.PaymentMethod)
		}
		next.PaymentMethod = c.PaymentMethod
	}
	if c.Lines != nil {
		for _, l := range c.Lines {
			if l.ServiceID == "" || l.Quantity < 1 || l.UnitPrice < 0 {
				return model.Invoice{}, fmt.Errorf("%w: invalid invoice line", model.ErrInvalidInput)
			}
		}
		next.Lines = c.Lines
	}

	// The old row is superseded first so the partial unique index admits the
	// new one. The foreign key to the replacement is checked at commit.
	next.ID = uuid.NewString()
	if err := a.store.MarkInvoiceSuperseded(ctx, tx, old.ID, next.ID); err != nil {
		return model.Invoice{}, err
	}
	if err := a.store.InsertInvoice(ctx, tx, &next); err != nil {
		return model.Invoice{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Invoice{}, err
	}
	return next, nil
}
