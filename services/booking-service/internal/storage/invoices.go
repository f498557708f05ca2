package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type invoiceLineJSON struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

const invoiceColumns = `id::text, appointment_id::text, kind, total, discount, final_amount, payment_method, processed_by,
	COALESCE(order_code, 0), lines, COALESCE(superseded_by::text, ''), created_at`

func scanInvoice(row pgx.Row) (model.Invoice, error) {
	var inv model.Invoice
	var lines []byte
	err := row.Scan(&inv.ID, &inv.AppointmentID, &inv.Kind, &inv.Total, &inv.Discount, &inv.FinalAmount,
		&inv.PaymentMethod, &inv.ProcessedBy, &inv.OrderCode, &lines, &inv.SupersededBy, &inv.CreatedAt)
	if err != nil {
		return model.Invoice{}, err
	}
	var decoded []invoiceLineJSON
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &decoded); err != nil {
			return model.Invoice{}, fmt.Errorf("invoice %s lines: %w", inv.ID, err)
		}
	}
	for _, l := range decoded {
		inv.Lines = append(inv.Lines, model.InvoiceLine{ServiceID: l.ServiceID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return inv, nil
}

// InsertInvoice appends an invoice. A second active invoice of the same kind
// violates invoices_active_kind_key.
func (s *Store) InsertInvoice(ctx context.Context, q db.DBTX, inv *model.Invoice) error {
	if inv.ID == "" {
		inv.ID = newID()
	}
	encoded := make([]invoiceLineJSON, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		encoded = append(encoded, invoiceLineJSON{ServiceID: l.ServiceID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	lines, err := json.Marshal(encoded)
	if err != nil {
		return err
	}
	var orderCode any
	if inv.OrderCode > 0 {
		orderCode = inv.OrderCode
	}
	return q.QueryRow(ctx, `
		INSERT INTO invoices (id, appointment_id, kind, total, discount, final_amount, payment_method, processed_by, order_code, lines)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, inv.ID, inv.AppointmentID, string(inv.Kind), inv.Total, inv.Discount, inv.FinalAmount, string(inv.PaymentMethod),
		inv.ProcessedBy, orderCode, lines).Scan(&inv.CreatedAt)
}

func (s *Store) GetInvoiceForUpdate(ctx context.Context, q db.DBTX, id string) (model.Invoice, error) {
	inv, err := scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.Invoice{}, notFound(err, "invoice", id)
	}
	return inv, nil
}

// ListInvoices returns every invoice of the appointment, superseded ones included, oldest first.
func (s *Store) ListInvoices(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Invoice, error) {
	rows, err := q.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.Invoice, error) { return scanInvoice(r) })
}

// MarkInvoiceSuperseded points an active invoice at its replacement. The
// foreign key is deferred so the replacement can be inserted afterwards.
func (s *Store) MarkInvoiceSuperseded(ctx context.Context, q db.DBTX, id, replacementID string) error {
	tag, err := q.Exec(ctx, `
		UPDATE invoices SET superseded_by = $2 WHERE id = $1 AND superseded_by IS NULL
	`, id, replacementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: invoice %s is already superseded", model.ErrInvalidInput, id)
	}
	return nil
}
