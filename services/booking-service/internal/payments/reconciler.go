package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptremind/libs/db"
	otelx "github.com/md-rashed-zaman/apptremind/libs/otel"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	GetAppointmentForUpdate(ctx context.Context, q db.DBTX, id string) (model.Appointment, error)
	ListInvoices(ctx context.Context, q db.DBTX, appointmentID string) ([]model.Invoice, error)
	InsertInvoice(ctx context.Context, q db.DBTX, inv *model.Invoice) error
	InsertPaymentIntent(ctx context.Context, q db.DBTX, p *model.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, q db.DBTX, orderCode int64) (model.PaymentIntent, error)
	GetPaymentIntentForUpdate(ctx context.Context, q db.DBTX, orderCode int64) (model.PaymentIntent, error)
	FindOpenIntent(ctx context.Context, q db.DBTX, appointmentID string) (model.PaymentIntent, bool, error)
	AttachCheckout(ctx context.Context, q db.DBTX, orderCode int64, ref, url string) error
	SetIntentStatus(ctx context.Context, q db.DBTX, orderCode int64, status model.IntentStatus) error
	InsertProviderEvent(ctx context.Context, q db.DBTX, evt storage.ProviderEvent) error
	InsertDiscrepancy(ctx context.Context, q db.DBTX, d *model.PaymentDiscrepancy) error
	ListDiscrepancies(ctx context.Context, q db.DBTX, limit int) ([]model.PaymentDiscrepancy, error)
	GetVoucher(ctx context.Context, q db.DBTX, id string) (model.Voucher, error)
	MembershipDiscountPercent(ctx context.Context, q db.DBTX, customerID string) (int, error)
}

type Transitioner interface {
	TransitionTx(ctx context.Context, q db.DBTX, req lifecycle.Request) (lifecycle.Result, error)
}

type EventWriter interface {
	Insert(ctx context.Context, q db.DBTX, evt outbox.Event) error
}

type Config struct {
	Currency string
}

type Reconciler struct {
	conn     db.Conn
	store    Store
	machine  Transitioner
	gateway  Gateway
	events   EventWriter
	metrics  *metrics.BookingMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
	currency string
	now      func() time.Time
}

func NewReconciler(conn db.Conn, store Store, machine Transitioner, gateway Gateway, events EventWriter, m *metrics.BookingMetrics, logger *slog.Logger, cfg Config) *Reconciler {
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Reconciler{
		conn:     conn,
		store:    store,
		machine:  machine,
		gateway:  gateway,
		events:   events,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("booking-service/payments"),
		currency: currency,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateDepositIntent opens (or reuses) a gateway checkout for the deposit of
// a confirmed appointment.
func (r *Reconciler) CreateDepositIntent(ctx context.Context, appointmentID string, actor model.Actor) (intent model.PaymentIntent, err error) {
	ctx, span := r.tracer.Start(ctx, "payments.create_deposit_intent", trace.WithAttributes(attribute.String("appointment_id", appointmentID)))
	defer func() {
		otelx.RecordError(span, err)
		span.End()
	}()

	intent, ready, err := r.prepareIntent(ctx, appointmentID, actor)
	if err != nil || ready {
		return intent, err
	}

	start := time.Now()
	co, err := r.gateway.CreateCheckout(ctx, CheckoutRequest{
		OrderCode:     intent.OrderCode,
		AppointmentID: appointmentID,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Description:   "Appointment deposit",
	})
	r.metrics.ObserveGateway("create_checkout", err, time.Since(start))
	if err != nil {
		if serr := r.store.SetIntentStatus(ctx, r.conn, intent.OrderCode, model.IntentFailed); serr != nil {
			r.logger.Error("failed to mark payment intent failed", "order_code", intent.OrderCode, "err", serr)
		}
		return model.PaymentIntent{}, fmt.Errorf("create checkout: %w", err)
	}

	if err := r.store.AttachCheckout(ctx, r.conn, intent.OrderCode, co.Ref, co.URL); err != nil {
		return model.PaymentIntent{}, err
	}
	intent.CheckoutRef, intent.CheckoutURL, intent.Status = co.Ref, co.URL, model.IntentOpen
	r.logger.Info("deposit intent opened", "appointment_id", appointmentID, "order_code", intent.OrderCode, "amount", intent.Amount)
	return intent, nil
}

// prepareIntent returns an intent with a checkout already attached (ready) or
// one that still needs a gateway call.
func (r *Reconciler) prepareIntent(ctx context.Context, appointmentID string, actor model.Actor) (model.PaymentIntent, bool, error) {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return model.PaymentIntent{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.store.GetAppointmentForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.PaymentIntent{}, false, err
	}
	if !actor.IsStaff() && !(actor.Kind == model.ActorCustomer && actor.ID == appt.CustomerID) {
		return model.PaymentIntent{}, false, model.ErrForbidden
	}
	if appt.Status != model.StatusConfirmed {
		return model.PaymentIntent{}, false, &model.TransitionError{From: appt.Status, To: model.StatusDeposited, Reason: "deposit is only collected for confirmed appointments"}
	}
	if appt.DepositAmount <= 0 {
		return model.PaymentIntent{}, false, fmt.Errorf("%w: appointment has no deposit to collect", model.ErrInvalidInput)
	}

	intent, found, err := r.store.FindOpenIntent(ctx, tx, appt.ID)
	if err != nil {
		return model.PaymentIntent{}, false, err
	}
	if found && intent.Amount == appt.DepositAmount {
		if err := tx.Commit(ctx); err != nil {
			return model.PaymentIntent{}, false, err
		}
		return intent, intent.CheckoutURL != "", nil
	}
	if found {
		if err := r.store.SetIntentStatus(ctx, tx, intent.OrderCode, model.IntentVoid); err != nil {
			return model.PaymentIntent{}, false, err
		}
	}

	intent = model.PaymentIntent{
		AppointmentID: appt.ID,
		Amount:        appt.DepositAmount,
		Currency:      r.currency,
		Provider:      r.gateway.Name(),
		Status:        model.IntentCreated,
	}
	if err := r.store.InsertPaymentIntent(ctx, tx, &intent); err != nil {
		return model.PaymentIntent{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.PaymentIntent{}, false, err
	}
	return intent, false, nil
}

type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeDiscrepancy Outcome = "discrepancy"
	OutcomeFailed      Outcome = "failed"
	OutcomePending     Outcome = "pending"
)

type Confirmation struct {
	Outcome     Outcome
	OrderCode   int64
	Appointment *model.Appointment
	Invoice     *model.Invoice
	Discrepancy *model.PaymentDiscrepancy
}

// OnDepositConfirmed applies a gateway callback. It is safe to call any number
// of times for the same order. A callback that cannot be applied is recorded
// as a discrepancy, committed, and reported as a *model.PaymentVerificationError
// alongside an OutcomeDiscrepancy confirmation.
func (r *Reconciler) OnDepositConfirmed(ctx context.Context, cb Callback) (conf Confirmation, err error) {
	ctx, span := r.tracer.Start(ctx, "payments.on_deposit_confirmed", trace.WithAttributes(
		attribute.String("provider", cb.Provider),
		attribute.Int64("order_code", cb.OrderCode),
	))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(conf.Outcome)))
		if conf.Outcome != OutcomeDiscrepancy {
			otelx.RecordError(span, err)
		}
		span.End()
	}()

	conf, err = r.applyCallback(ctx, cb)
	result := string(conf.Outcome)
	if err != nil && conf.Outcome == "" {
		result = "error"
	}
	r.metrics.ObserveCallback(cb.Provider, result)
	return conf, err
}

func (r *Reconciler) applyCallback(ctx context.Context, cb Callback) (Confirmation, error) {
	conf := Confirmation{OrderCode: cb.OrderCode}

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return Confirmation{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if cb.EventID != "" {
		payload := cb.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		err := r.store.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        cb.Provider,
			ProviderEventID: cb.EventID,
			EventType:       "deposit.callback",
			Payload:         payload,
		})
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			r.logger.Info("payment callback duplicate ignored", "provider", cb.Provider, "provider_event_id", cb.EventID)
			conf.Outcome = OutcomeDuplicate
			return conf, tx.Commit(ctx)
		}
		if err != nil {
			return Confirmation{}, err
		}
	}

	intent, err := r.store.GetPaymentIntentForUpdate(ctx, tx, cb.OrderCode)
	if errors.Is(err, model.ErrNotFound) {
		return r.discrepancy(ctx, tx, cb, model.PaymentIntent{OrderCode: cb.OrderCode}, 0, "unknown order code")
	}
	if err != nil {
		return Confirmation{}, err
	}

	if !cb.Paid {
		if intent.Status.IsOpen() {
			if err := r.store.SetIntentStatus(ctx, tx, intent.OrderCode, model.IntentFailed); err != nil {
				return Confirmation{}, err
			}
		}
		conf.Outcome = OutcomeFailed
		return conf, tx.Commit(ctx)
	}

	appt, err := r.store.GetAppointmentForUpdate(ctx, tx, intent.AppointmentID)
	if err != nil {
		return Confirmation{}, err
	}
	if intent.Status == model.IntentPaid || appt.Status.AtLeast(model.StatusDeposited) {
		conf.Outcome = OutcomeDuplicate
		conf.Appointment = &appt
		return conf, tx.Commit(ctx)
	}

	switch {
	case intent.Status == model.IntentVoid || intent.Status == model.IntentFailed:
		return r.discrepancy(ctx, tx, cb, intent, appt.DepositAmount, "payment intent is "+string(intent.Status))
	case appt.Status != model.StatusConfirmed:
		return r.discrepancy(ctx, tx, cb, intent, appt.DepositAmount, "appointment is "+string(appt.Status))
	case cb.Amount != appt.DepositAmount:
		return r.discrepancy(ctx, tx, cb, intent, appt.DepositAmount, "amount does not match deposit")
	}

	inv := model.Invoice{
		AppointmentID: appt.ID,
		Kind:          model.InvoiceDeposit,
		Total:         cb.Amount,
		FinalAmount:   cb.Amount,
		PaymentMethod: model.MethodGateway,
		ProcessedBy:   model.ReconcilerActor.ID,
		OrderCode:     intent.OrderCode,
		Lines:         model.LinesFromDetails(appt.Details),
	}
	if err := r.store.InsertInvoice(ctx, tx, &inv); err != nil {
		return Confirmation{}, err
	}
	res, err := r.machine.TransitionTx(ctx, tx, lifecycle.Request{
		AppointmentID: appt.ID,
		To:            model.StatusDeposited,
		Actor:         model.ReconcilerActor,
		Note:          fmt.Sprintf("%s order %d", cb.Provider, intent.OrderCode),
	})
	if err != nil {
		return Confirmation{}, err
	}
	if err := r.store.SetIntentStatus(ctx, tx, intent.OrderCode, model.IntentPaid); err != nil {
		return Confirmation{}, err
	}
	evt, err := outbox.NewAppointmentEvent(appt.ID, outbox.DepositConfirmed, map[string]any{
		"appointment_id": appt.ID,
		"customer_id":    appt.CustomerID,
		"order_code":     intent.OrderCode,
		"invoice_id":     inv.ID,
		"amount":         cb.Amount,
		"provider":       cb.Provider,
		"provider_ref":   cb.ProviderRef,
		"confirmed_at":   r.now().Format(time.RFC3339),
	})
	if err != nil {
		return Confirmation{}, err
	}
	if err := r.events.Insert(ctx, tx, evt); err != nil {
		return Confirmation{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Confirmation{}, err
	}

	r.logger.Info("deposit confirmed", "appointment_id", appt.ID, "order_code", intent.OrderCode, "provider", cb.Provider)
	conf.Outcome = OutcomeApplied
	conf.Appointment = &res.Appointment
	conf.Invoice = &inv
	return conf, nil
}

func (r *Reconciler) discrepancy(ctx context.Context, tx pgx.Tx, cb Callback, intent model.PaymentIntent, expected int64, reason string) (Confirmation, error) {
	d := model.PaymentDiscrepancy{
		OrderCode:     cb.OrderCode,
		AppointmentID: intent.AppointmentID,
		Expected:      expected,
		Received:      cb.Amount,
		Reason:        reason,
		Provider:      cb.Provider,
		ProviderRef:   cb.ProviderRef,
	}
	if err := r.store.InsertDiscrepancy(ctx, tx, &d); err != nil {
		return Confirmation{}, err
	}
	if intent.AppointmentID != "" {
		evt, err := outbox.NewAppointmentEvent(intent.AppointmentID, outbox.PaymentDiscrepancy, map[string]any{
			"discrepancy_id": d.ID,
			"appointment_id": intent.AppointmentID,
			"order_code":     cb.OrderCode,
			"expected":       expected,
			"received":       cb.Amount,
			"reason":         reason,
			"provider":       cb.Provider,
		})
		if err != nil {
			return Confirmation{}, err
		}
		if err := r.events.Insert(ctx, tx, evt); err != nil {
			return Confirmation{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Confirmation{}, err
	}

	r.logger.Warn("payment discrepancy recorded",
		"order_code", cb.OrderCode,
		"appointment_id", intent.AppointmentID,
		"expected", expected,
		"received", cb.Amount,
		"reason", reason,
	)
	return Confirmation{Outcome: OutcomeDiscrepancy, OrderCode: cb.OrderCode, Discrepancy: &d}, &model.PaymentVerificationError{
		OrderCode: cb.OrderCode,
		Expected:  expected,
		Received:  cb.Amount,
		Reason:    reason,
	}
}

// ReconcileIntent asks the gateway whether an open checkout was paid and
// applies it if so. It covers callbacks that never arrived.
func (r *Reconciler) ReconcileIntent(ctx context.Context, orderCode int64, actor model.Actor) (Confirmation, error) {
	if !actor.IsStaff() {
		return Confirmation{}, model.ErrForbidden
	}
	intent, err := r.store.GetPaymentIntent(ctx, r.conn, orderCode)
	if err != nil {
		return Confirmation{}, err
	}
	if intent.CheckoutRef == "" {
		return Confirmation{}, fmt.Errorf("%w: order %d has no checkout", model.ErrInvalidInput, orderCode)
	}

	start := time.Now()
	co, err := r.gateway.GetCheckout(ctx, intent.CheckoutRef)
	r.metrics.ObserveGateway("get_checkout", err, time.Since(start))
	if err != nil {
		return Confirmation{}, fmt.Errorf("get checkout: %w", err)
	}
	if !co.Paid {
		return Confirmation{Outcome: OutcomePending, OrderCode: orderCode}, nil
	}
	return r.OnDepositConfirmed(ctx, Callback{
		Provider:    r.gateway.Name(),
		OrderCode:   orderCode,
		Amount:      co.AmountPaid,
		Paid:        true,
		ProviderRef: co.Ref,
	})
}

func (r *Reconciler) ListDiscrepancies(ctx context.Context, limit int) ([]model.PaymentDiscrepancy, error) {
	return r.store.ListDiscrepancies(ctx, r.conn, limit)
}
