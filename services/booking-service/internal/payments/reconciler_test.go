package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/db"
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
)

type noRefunds struct{}

func (noRefunds) OpenRefund(context.Context, db.DBTX, model.Appointment, []model.Invoice, model.Status, string) (*model.Refund, error) {
	return nil, nil
}

type fixture struct {
	st      *storagetest.Store
	gateway *LocalGateway
	rec     *Reconciler
}

func newFixture(gw Gateway) fixture {
	st := storagetest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	machine := lifecycle.NewMachine(st, st, availability.NewChecker(st), noRefunds{}, st.Outbox(), nil, logger)
	local, _ := gw.(*LocalGateway)
	return fixture{
		st:      st,
		gateway: local,
		rec:     NewReconciler(st, st, machine, gw, st.Outbox(), nil, logger, Config{Currency: "USD"}),
	}
}

func (f fixture) appointment(status model.Status) model.Appointment {
	start := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	return f.st.PutAppointment(model.Appointment{
		CustomerID:     customer.ID,
		PractitionerID: "doc-1",
		StartTime:      start,
		EndTime:        start.Add(45 * time.Minute),
		Status:         status,
		TotalAmount:    15001,
		DepositAmount:  7501,
		Details: []model.Detail{
			{ServiceID: "svc-consult", Quantity: 1, UnitPrice: 10001},
			{ServiceID: "svc-xray", Quantity: 2, UnitPrice: 2500},
		},
	})
}

func (f fixture) status(t *testing.T, id string) model.Status {
	t.Helper()
	got, err := f.st.GetAppointment(context.Background(), f.st, id)
	require.NoError(t, err)
	return got.Status
}

func TestDepositHappyPathAndReplays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway("https://pay.example/checkout"))
	appt := f.appointment(model.StatusConfirmed)

	intent, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, int64(7501), intent.Amount)
	assert.Equal(t, "usd", intent.Currency)
	assert.Equal(t, model.IntentOpen, intent.Status)
	assert.Contains(t, intent.CheckoutURL, "https://pay.example/checkout?order_code=")

	again, err := f.rec.CreateDepositIntent(ctx, appt.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, intent.OrderCode, again.OrderCode, "open intent is reused")

	cb := Callback{Provider: "local", EventID: "evt-1", OrderCode: intent.OrderCode, Amount: 7501, Paid: true, ProviderRef: intent.CheckoutRef, Payload: []byte(`{}`)}
	conf, err := f.rec.OnDepositConfirmed(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, conf.Outcome)
	require.NotNil(t, conf.Invoice)
	assert.Equal(t, model.InvoiceDeposit, conf.Invoice.Kind)
	assert.Len(t, conf.Invoice.Lines, 2)
	assert.Equal(t, model.StatusDeposited, f.status(t, appt.ID))

	conf, err = f.rec.OnDepositConfirmed(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, conf.Outcome, "same provider event")

	cb.EventID = "evt-2"
	conf, err = f.rec.OnDepositConfirmed(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, conf.Outcome, "appointment already past confirmed")

	invoices, err := f.st.ListInvoices(ctx, f.st, appt.ID)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
	assert.Equal(t, []string{outbox.AppointmentStatusChanged, outbox.DepositConfirmed}, f.st.EventTypes())

	stored, err := f.st.GetPaymentIntent(ctx, f.st, intent.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, model.IntentPaid, stored.Status)
}

func TestCallbackIsIdempotentUnderRepeats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))
	appt := f.appointment(model.StatusConfirmed)
	intent, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)

	applied := 0
	for i := 0; i < 5; i++ {
		conf, err := f.rec.OnDepositConfirmed(ctx, Callback{
			Provider: "local", EventID: fmt.Sprintf("evt-%d", i%2), OrderCode: intent.OrderCode, Amount: 7501, Paid: true,
		})
		require.NoError(t, err)
		if conf.Outcome == OutcomeApplied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	invoices, err := f.st.ListInvoices(ctx, f.st, appt.ID)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestAmountMismatchRecordsDiscrepancy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))
	appt := f.appointment(model.StatusConfirmed)
	intent, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)

	conf, err := f.rec.OnDepositConfirmed(ctx, Callback{Provider: "local", EventID: "evt-short", OrderCode: intent.OrderCode, Amount: 7000, Paid: true})
	var pve *model.PaymentVerificationError
	require.ErrorAs(t, err, &pve)
	assert.Equal(t, int64(7501), pve.Expected)
	assert.Equal(t, int64(7000), pve.Received)
	assert.Equal(t, OutcomeDiscrepancy, conf.Outcome)
	assert.Equal(t, model.StatusConfirmed, f.status(t, appt.ID))

	list, err := f.rec.ListDiscrepancies(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, appt.ID, list[0].AppointmentID)
	assert.Equal(t, []string{outbox.PaymentDiscrepancy}, f.st.EventTypes())

	_, err = f.rec.OnDepositConfirmed(ctx, Callback{Provider: "local", EventID: "evt-short", OrderCode: intent.OrderCode, Amount: 7000, Paid: true})
	require.NoError(t, err, "a replayed discrepancy is a duplicate")
}

func TestUnknownOrderAndVoidIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))

	conf, err := f.rec.OnDepositConfirmed(ctx, Callback{Provider: "local", EventID: "evt-x", OrderCode: 999999, Amount: 100, Paid: true})
	require.ErrorIs(t, err, model.ErrPaymentVerification)
	assert.Equal(t, OutcomeDiscrepancy, conf.Outcome)

	appt := f.appointment(model.StatusConfirmed)
	intent, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)
	_, err = f.st.VoidOpenIntents(ctx, f.st, appt.ID)
	require.NoError(t, err)

	_, err = f.rec.OnDepositConfirmed(ctx, Callback{Provider: "local", EventID: "evt-stale", OrderCode: intent.OrderCode, Amount: 7501, Paid: true})
	require.ErrorIs(t, err, model.ErrPaymentVerification)
	assert.Equal(t, model.StatusConfirmed, f.status(t, appt.ID))

	fresh, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)
	assert.NotEqual(t, intent.OrderCode, fresh.OrderCode)
}

func TestFailedPaymentMarksIntent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))
	appt := f.appointment(model.StatusConfirmed)
	intent, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)

	conf, err := f.rec.OnDepositConfirmed(ctx, Callback{Provider: "local", EventID: "evt-f", OrderCode: intent.OrderCode, Paid: false})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, conf.Outcome)

	stored, err := f.st.GetPaymentIntent(ctx, f.st, intent.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, model.IntentFailed, stored.Status)
	assert.Equal(t, model.StatusConfirmed, f.status(t, appt.ID))
}

type brokenGateway struct{ *LocalGateway }

func (*brokenGateway) CreateCheckout(context.Context, CheckoutRequest) (Checkout, error) {
	return Checkout{}, errors.New("gateway unavailable")
}

func TestCreateDepositIntentGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(&brokenGateway{LocalGateway: NewLocalGateway("")})

	pending := f.appointment(model.StatusPending)
	_, err := f.rec.CreateDepositIntent(ctx, pending.ID, customer)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	confirmed := f.appointment(model.StatusConfirmed)
	_, err = f.rec.CreateDepositIntent(ctx, confirmed.ID, model.Actor{Kind: model.ActorCustomer, ID: "cust-2"})
	require.ErrorIs(t, err, model.ErrForbidden)

	_, err = f.rec.CreateDepositIntent(ctx, confirmed.ID, customer)
	require.ErrorContains(t, err, "gateway unavailable")
	_, found, err := f.st.FindOpenIntent(ctx, f.st, confirmed.ID)
	require.NoError(t, err)
	assert.False(t, found, "failed checkout leaves no open intent")
}

func TestReconcileIntentAppliesPaidCheckout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))
	appt := f.appointment(model.StatusConfirmed)
	intent, err := f.rec.CreateDepositIntent(ctx, appt.ID, customer)
	require.NoError(t, err)

	_, err = f.rec.ReconcileIntent(ctx, intent.OrderCode, customer)
	require.ErrorIs(t, err, model.ErrForbidden)

	conf, err := f.rec.ReconcileIntent(ctx, intent.OrderCode, staff)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, conf.Outcome)

	require.NoError(t, f.gateway.Pay(intent.CheckoutRef, 0))
	conf, err = f.rec.ReconcileIntent(ctx, intent.OrderCode, staff)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, conf.Outcome)
	assert.Equal(t, model.StatusDeposited, f.status(t, appt.ID))
}

func TestFinalSettlementAppliesDiscounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))
	f.st.AddVoucher(model.Voucher{ID: "v-1", Code: "SPRING", DiscountAmount: 1000, IsActive: true})
	f.st.SetMembership(customer.ID, 10)

	appt := f.appointment(model.StatusApproved)
	appt.VoucherID = "v-1"
	appt = f.st.PutAppointment(appt)
	require.NoError(t, f.st.InsertInvoice(ctx, f.st, &model.Invoice{AppointmentID: appt.ID, Kind: model.InvoiceDeposit, Total: 7501, FinalAmount: 7501}))

	_, err := f.rec.CreateFinalSettlement(ctx, appt.ID, model.MethodCash, customer)
	require.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.rec.CreateFinalSettlement(ctx, appt.ID, "cheque", staff)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	inv, err := f.rec.CreateFinalSettlement(ctx, appt.ID, model.MethodCard, staff)
	require.NoError(t, err)
	assert.Equal(t, model.InvoiceFinal, inv.Kind)
	assert.Equal(t, int64(7500), inv.Total)
	assert.Equal(t, int64(1000+1500), inv.Discount)
	assert.Equal(t, int64(5000), inv.FinalAmount)
	assert.Equal(t, staff.ID, inv.ProcessedBy)
	assert.Equal(t, model.StatusPaid, f.status(t, appt.ID))

	_, err = f.rec.CreateFinalSettlement(ctx, appt.ID, model.MethodCard, staff)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestFinalSettlementNeverNegative(t *testing.T) {
	ctx := context.Background()
	f := newFixture(NewLocalGateway(""))
	f.st.AddVoucher(model.Voucher{ID: "v-big", Code: "FREE", DiscountAmount: 1_000_000, IsActive: true})

	appt := f.appointment(model.StatusApproved)
	appt.VoucherID = "v-big"
	appt = f.st.PutAppointment(appt)
	require.NoError(t, f.st.InsertInvoice(ctx, f.st, &model.Invoice{AppointmentID: appt.ID, Kind: model.InvoiceDeposit, Total: 7501, FinalAmount: 7501}))

	inv, err := f.rec.CreateFinalSettlement(ctx, appt.ID, model.MethodCash, staff)
	require.NoError(t, err)
	assert.Equal(t, int64(7500), inv.Discount)
	assert.Equal(t, int64(0), inv.FinalAmount)
}
