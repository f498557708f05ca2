package cancellation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	staff    = model.Actor{Kind: model.ActorStaff, ID: "staff-1"}
	customer = model.Actor{Kind: model.ActorCustomer, ID: "cust-1"}
	doctor   = model.Actor{Kind: model.ActorDoctor, ID: "doc-1"}
)

func newWorkflow(st *storagetest.Store) *Workflow {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := NewPolicy(st, st.Outbox(), nil)
	machine := lifecycle.NewMachine(st, st, availability.NewChecker(st), policy, st.Outbox(), nil, logger)
	return NewWorkflow(st, st, machine, st.Outbox(), nil, logger)
}

func seed(t *testing.T, st *storagetest.Store, status model.Status, invoices ...model.InvoiceKind) model.Appointment {
	t.Helper()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	appt := st.PutAppointment(model.Appointment{
		CustomerID:     customer.ID,
		PractitionerID: doctor.ID,
		StartTime:      start,
		EndTime:        start.Add(time.Hour),
		Status:         status,
		TotalAmount:    15001,
		DepositAmount:  7501,
	})
	for _, kind := range invoices {
		amount := appt.DepositAmount
		if kind == model.InvoiceFinal {
			amount = appt.TotalAmount - appt.DepositAmount
		}
		require.NoError(t, st.InsertInvoice(context.Background(), st, &model.Invoice{
			AppointmentID: appt.ID, Kind: kind, Total: amount, FinalAmount: amount, PaymentMethod: model.MethodGateway,
		}))
	}
	return appt
}

func TestCancelWithoutInvoiceOpensNoRefund(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	w := newWorkflow(st)
	appt := seed(t, st, model.StatusConfirmed)

	res, err := w.Cancel(ctx, appt.ID, "changed plans", customer)
	require.NoError(t, err)
	assert.Nil(t, res.Refund)
	assert.Equal(t, model.StatusCancelled, res.Appointment.Status)

	refunds, err := w.ListRefunds(ctx, appt.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestCancelAfterDepositOpensPendingRefund(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	w := newWorkflow(st)
	appt := seed(t, st, model.StatusDeposited, model.InvoiceDeposit)

	res, err := w.Cancel(ctx, appt.ID, "clinic closed", staff)
	require.NoError(t, err)
	require.NotNil(t, res.Refund)
	assert.Equal(t, int64(7501), res.Refund.Amount)
	assert.Equal(t, model.RefundPending, res.Refund.Status)
	assert.Equal(t, []string{outbox.RefundOpened, outbox.AppointmentStatusChanged}, st.EventTypes())

	_, err = w.MarkRefundProcessed(ctx, res.Refund.ID, Outcome{Status: model.RefundCompleted, Method: model.RefundQR}, customer)
	require.ErrorIs(t, err, model.ErrForbidden)

	_, err = w.MarkRefundProcessed(ctx, res.Refund.ID, Outcome{Status: model.RefundCompleted}, staff)
	require.ErrorIs(t, err, model.ErrInvalidInput, "completed refunds need a method")

	done, err := w.MarkRefundProcessed(ctx, res.Refund.ID, Outcome{Status: model.RefundCompleted, Method: model.RefundQR, Note: "sent via app"}, staff)
	require.NoError(t, err)
	assert.Equal(t, model.RefundCompleted, done.Status)
	assert.Equal(t, staff.ID, done.ProcessedBy)
	require.NotNil(t, done.ProcessedAt)

	_, err = w.MarkRefundProcessed(ctx, res.Refund.ID, Outcome{Status: model.RefundFailed}, staff)
	require.ErrorIs(t, err, model.ErrRefundProcessing)

	refunds, err := w.ListRefunds(ctx, appt.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, model.RefundCompleted, refunds[0].Status)
}

func TestRejectAfterDepositOpensRefund(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	machine := lifecycle.NewMachine(st, st, availability.NewChecker(st), NewPolicy(st, st.Outbox(), nil), st.Outbox(), nil, logger)
	appt := seed(t, st, model.StatusDeposited, model.InvoiceDeposit)

	res, err := machine.Transition(ctx, lifecycle.Request{AppointmentID: appt.ID, To: model.StatusRejected, Actor: doctor, Reason: "not indicated"})
	require.NoError(t, err)
	require.NotNil(t, res.Refund)
	assert.Equal(t, appt.DepositAmount, res.Refund.Amount)
}

func TestCancelAfterFinalSettlementIsRefused(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	w := newWorkflow(st)
	appt := seed(t, st, model.StatusPaid, model.InvoiceDeposit, model.InvoiceFinal)

	_, err := w.Cancel(ctx, appt.ID, "too late", staff)
	require.ErrorIs(t, err, model.ErrCancellationNotAllowed)

	got, err := st.GetAppointment(ctx, st, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, got.Status)
	refunds, err := w.ListRefunds(ctx, appt.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestDoctorCancelRequestFlow(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	w := newWorkflow(st)
	appt := seed(t, st, model.StatusDeposited, model.InvoiceDeposit)

	_, err := w.RequestDoctorCancel(ctx, appt.ID, "sick leave", model.Actor{Kind: model.ActorDoctor, ID: "doc-9"})
	require.ErrorIs(t, err, model.ErrForbidden)

	cr, err := w.RequestDoctorCancel(ctx, appt.ID, "sick leave", doctor)
	require.NoError(t, err)
	assert.Equal(t, model.CancelRequestPending, cr.Status)

	_, err = w.RequestDoctorCancel(ctx, appt.ID, "again", doctor)
	require.ErrorIs(t, err, model.ErrInvalidInput, "one pending request per appointment")

	_, err = w.ApproveDoctorCancel(ctx, cr.ID, doctor)
	require.ErrorIs(t, err, model.ErrForbidden)

	out, err := w.ApproveDoctorCancel(ctx, cr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, model.CancelRequestApproved, out.Request.Status)
	require.NotNil(t, out.Appointment)
	assert.Equal(t, model.StatusCancelled, out.Appointment.Status)
	assert.Equal(t, "sick leave", out.Appointment.CancelReason)
	require.NotNil(t, out.Refund)

	_, err = w.RejectDoctorCancel(ctx, cr.ID, staff)
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRejectedDoctorRequestLeavesAppointment(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	w := newWorkflow(st)
	appt := seed(t, st, model.StatusConfirmed)

	cr, err := w.RequestDoctorCancel(ctx, appt.ID, "double booked", doctor)
	require.NoError(t, err)

	out, err := w.RejectDoctorCancel(ctx, cr.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, model.CancelRequestRejected, out.Request.Status)
	assert.Nil(t, out.Appointment)

	got, err := st.GetAppointment(ctx, st, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
}
