package payments

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	otelx "github.com/md-rashed-zaman/apptremind/libs/otel"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/pricing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateFinalSettlement writes the final invoice for an approved appointment
// and moves it to paid. The voucher and membership discounts are applied to
// the total and capped at the balance left after the deposit.
func (r *Reconciler) CreateFinalSettlement(ctx context.Context, appointmentID string, method model.PaymentMethod, actor model.Actor) (inv model.Invoice, err error) {
	ctx, span := r.tracer.Start(ctx, "payments.create_final_settlement", trace.WithAttributes(attribute.String("appointment_id", appointmentID)))
	defer func() {
		otelx.RecordError(span, err)
		span.End()
	}()

	if !actor.IsStaff() {
		return model.Invoice{}, model.ErrForbidden
	}
	if _, ok := model.ParsePaymentMethod(string(method)); !ok {
		return model.Invoice{}, fmt.Errorf("%w: unknown payment method %q", model.ErrInvalidInput, method)
	}

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return model.Invoice{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := r.store.GetAppointmentForUpdate(ctx, tx, appointmentID)
	if err != nil {
		return model.Invoice{}, err
	}
	if appt.Status != model.StatusApproved {
		return model.Invoice{}, &model.TransitionError{From: appt.Status, To: model.StatusPaid, Reason: "final settlement requires an approved appointment"}
	}

	discount, err := r.discount(ctx, tx, appt)
	if err != nil {
		return model.Invoice{}, err
	}
	s := pricing.Settle(appt.TotalAmount, appt.DepositAmount, discount)

	inv = model.Invoice{
		AppointmentID: appt.ID,
		Kind:          model.InvoiceFinal,
		Total:         s.Total,
		Discount:      s.Discount,
		FinalAmount:   s.FinalAmount,
		PaymentMethod: method,
		ProcessedBy:   actor.ID,
		Lines:         model.LinesFromDetails(appt.Details),
	}
	if err := r.store.InsertInvoice(ctx, tx, &inv); err != nil {
		return model.Invoice{}, err
	}
	if _, err := r.machine.TransitionTx(ctx, tx, lifecycle.Request{
		AppointmentID: appt.ID,
		To:            model.StatusPaid,
		Actor:         model.ReconcilerActor,
		Note:          fmt.Sprintf("final settlement by %s via %s", actor.ID, method),
	}); err != nil {
		return model.Invoice{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Invoice{}, err
	}

	r.logger.Info("final settlement recorded",
		"appointment_id", appt.ID,
		"invoice_id", inv.ID,
		"final_amount", inv.FinalAmount,
		"discount", inv.Discount,
		"payment_method", method,
	)
	return inv, nil
}

func (r *Reconciler) discount(ctx context.Context, q db.DBTX, appt model.Appointment) (int64, error) {
	var total int64
	if appt.VoucherID != "" {
		v, err := r.store.GetVoucher(ctx, q, appt.VoucherID)
		if err != nil {
			return 0, err
		}
		total += pricing.VoucherDiscount(v, appt.TotalAmount)
	}
	pct, err := r.store.MembershipDiscountPercent(ctx, q, appt.CustomerID)
	if err != nil {
		return 0, err
	}
	total += pricing.PercentDiscount(pct, appt.TotalAmount)
	return total, nil
}
