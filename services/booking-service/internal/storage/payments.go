package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

const intentColumns = `order_code, appointment_id::text, amount, currency, provider, COALESCE(checkout_ref, ''),
	COALESCE(checkout_url, ''), status, created_at, updated_at`

func scanIntent(row pgx.Row) (model.PaymentIntent, error) {
	var p model.PaymentIntent
	err := row.Scan(&p.OrderCode, &p.AppointmentID, &p.Amount, &p.Currency, &p.Provider, &p.CheckoutRef, &p.CheckoutURL, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// InsertPaymentIntent allocates the order code from payment_order_code_seq.
func (s *Store) InsertPaymentIntent(ctx context.Context, q db.DBTX, p *model.PaymentIntent) error {
	return q.QueryRow(ctx, `
		INSERT INTO payment_intents (appointment_id, amount, currency, provider, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING order_code, created_at, updated_at
	`, p.AppointmentID, p.Amount, p.Currency, p.Provider, string(p.Status)).Scan(&p.OrderCode, &p.CreatedAt, &p.UpdatedAt)
}

func (s *Store) GetPaymentIntent(ctx context.Context, q db.DBTX, orderCode int64) (model.PaymentIntent, error) {
	p, err := scanIntent(q.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_code = $1`, orderCode))
	if err != nil {
		return model.PaymentIntent{}, notFound(err, "payment intent", fmt.Sprint(orderCode))
	}
	return p, nil
}

func (s *Store) GetPaymentIntentForUpdate(ctx context.Context, q db.DBTX, orderCode int64) (model.PaymentIntent, error) {
	p, err := scanIntent(q.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_code = $1 FOR UPDATE`, orderCode))
	if err != nil {
		return model.PaymentIntent{}, notFound(err, "payment intent", fmt.Sprint(orderCode))
	}
	return p, nil
}

// FindOpenIntent returns the newest created or open intent for the appointment, if any.
func (s *Store) FindOpenIntent(ctx context.Context, q db.DBTX, appointmentID string) (model.PaymentIntent, bool, error) {
	p, err := scanIntent(q.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM payment_intents
		WHERE appointment_id = $1 AND status IN ('created', 'open')
		ORDER BY order_code DESC
		LIMIT 1
	`, appointmentID))
	if err != nil {
		if db.IsNotFound(err) {
			return model.PaymentIntent{}, false, nil
		}
		return model.PaymentIntent{}, false, err
	}
	return p, true, nil
}

func (s *Store) AttachCheckout(ctx context.Context, q db.DBTX, orderCode int64, ref, url string) error {
	_, err := q.Exec(ctx, `
		UPDATE payment_intents
		SET checkout_ref = $2, checkout_url = $3, status = 'open', updated_at = now()
		WHERE order_code = $1 AND status = 'created'
	`, orderCode, ref, url)
	return err
}

func (s *Store) SetIntentStatus(ctx context.Context, q db.DBTX, orderCode int64, status model.IntentStatus) error {
	_, err := q.Exec(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = now() WHERE order_code = $1
	`, orderCode, string(status))
	return err
}

// VoidOpenIntents voids every unpaid intent of the appointment.
func (s *Store) VoidOpenIntents(ctx context.Context, q db.DBTX, appointmentID string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE payment_intents SET status = 'void', updated_at = now()
		WHERE appointment_id = $1 AND status IN ('created', 'open')
	`, appointmentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

func (s *Store) InsertProviderEvent(ctx context.Context, q db.DBTX, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return fmt.Errorf("provider event payload: %w", err)
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

func (s *Store) InsertDiscrepancy(ctx context.Context, q db.DBTX, d *model.PaymentDiscrepancy) error {
	return q.QueryRow(ctx, `
		INSERT INTO payment_discrepancies (order_code, appointment_id, expected, received, reason, provider, provider_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, d.OrderCode, nullIfEmpty(d.AppointmentID), d.Expected, d.Received, d.Reason, d.Provider, d.ProviderRef).Scan(&d.ID, &d.CreatedAt)
}

func (s *Store) ListDiscrepancies(ctx context.Context, q db.DBTX, limit int) ([]model.PaymentDiscrepancy, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
		SELECT id, order_code, COALESCE(appointment_id::text, ''), expected, received, reason, provider, provider_ref, created_at
		FROM payment_discrepancies
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(r pgx.Rows) (model.PaymentDiscrepancy, error) {
		var d model.PaymentDiscrepancy
		err := r.Scan(&d.ID, &d.OrderCode, &d.AppointmentID, &d.Expected, &d.Received, &d.Reason, &d.Provider, &d.ProviderRef, &d.CreatedAt)
		return d, err
	})
}
