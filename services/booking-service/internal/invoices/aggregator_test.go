package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var staff = model.Actor{Kind: model.ActorStaff, ID: "staff-1"}

func seedAppointment(st *storagetest.Store) model.Appointment {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return st.PutAppointment(model.Appointment{
		CustomerID: "cust-1", PractitionerID: "doc-1", StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusApproved, TotalAmount: 12000, DepositAmount: 6000,
	})
}

func TestAggregateWithNoInvoices(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	appt := seedAppointment(st)

	s, err := NewAggregator(st, st).Aggregate(ctx, appt.ID)
	require.NoError(t, err)
	assert.Empty(t, s.Lines)
	assert.Zero(t, s.TotalPaid)
	assert.Empty(t, s.PaymentMethodsUsed)
	assert.Nil(t, s.DepositInvoice)
	assert.Nil(t, s.FinalInvoice)

	_, err = NewAggregator(st, st).Aggregate(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestAggregateFinalLinesWin(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	appt := seedAppointment(st)

	require.NoError(t, st.InsertInvoice(ctx, st, &model.Invoice{
		AppointmentID: appt.ID, Kind: model.InvoiceDeposit, Total: 6000, FinalAmount: 6000, PaymentMethod: model.MethodGateway,
		Lines: []model.InvoiceLine{{ServiceID: "svc-a", Quantity: 1, UnitPrice: 8000}, {ServiceID: "svc-b", Quantity: 1, UnitPrice: 4000}},
	}))
	require.NoError(t, st.InsertInvoice(ctx, st, &model.Invoice{
		AppointmentID: appt.ID, Kind: model.InvoiceFinal, Total: 6000, Discount: 1000, FinalAmount: 5000, PaymentMethod: model.MethodCash,
		Lines: []model.InvoiceLine{{ServiceID: "svc-b", Quantity: 2, UnitPrice: 4000}},
	}))

	s, err := NewAggregator(st, st).Aggregate(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, []Line{
		{ServiceID: "svc-a", Quantity: 1, UnitPrice: 8000, Total: 8000},
		{ServiceID: "svc-b", Quantity: 2, UnitPrice: 4000, Total: 8000},
	}, s.Lines)
	assert.Equal(t, int64(11000), s.TotalPaid)
	assert.Equal(t, int64(1000), s.TotalDiscount)
	assert.Equal(t, []model.PaymentMethod{model.MethodGateway, model.MethodCash}, s.PaymentMethodsUsed)
	require.NotNil(t, s.DepositInvoice)
	require.NotNil(t, s.FinalInvoice)
}

func TestSupersedeAppendsCorrection(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	appt := seedAppointment(st)
	agg := NewAggregator(st, st)

	orig := model.Invoice{AppointmentID: appt.ID, Kind: model.InvoiceFinal, Total: 6000, FinalAmount: 6000, PaymentMethod: model.MethodCash}
	require.NoError(t, st.InsertInvoice(ctx, st, &orig))

	_, err := agg.Supersede(ctx, orig.ID, Correction{}, model.Actor{Kind: model.ActorCustomer, ID: "cust-1"})
	require.ErrorIs(t, err, model.ErrForbidden)

	discount := int64(500)
	fixed, err := agg.Supersede(ctx, orig.ID, Correction{Discount: &discount, PaymentMethod: model.MethodCard}, staff)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, fixed.ID)
	assert.Equal(t, int64(5500), fixed.FinalAmount)
	assert.Equal(t, model.MethodCard, fixed.PaymentMethod)

	all, err := st.ListInvoices(ctx, st, appt.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, fixed.ID, all[0].SupersededBy, "original row is kept and points at the correction")
	assert.Equal(t, int64(6000), all[0].FinalAmount)

	s, err := agg.Aggregate(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5500), s.TotalPaid)
	assert.Equal(t, fixed.ID, s.FinalInvoice.ID)

	_, err = agg.Supersede(ctx, orig.ID, Correction{}, staff)
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSupersedeDerivesFinalAmount(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	appt := seedAppointment(st)
	agg := NewAggregator(st, st)

	// A row stored with a drifted final amount is brought back in line by any correction.
	orig := model.Invoice{AppointmentID: appt.ID, Kind: model.InvoiceFinal, Total: 6000, FinalAmount: 999999, PaymentMethod: model.MethodCash}
	require.NoError(t, st.InsertInvoice(ctx, st, &orig))

	fixed, err := agg.Supersede(ctx, orig.ID, Correction{PaymentMethod: model.MethodCard}, staff)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), fixed.Total)
	assert.Zero(t, fixed.Discount)
	assert.Equal(t, int64(6000), fixed.FinalAmount)

	discount := int64(6000)
	again, err := agg.Supersede(ctx, fixed.ID, Correction{Discount: &discount}, staff)
	require.NoError(t, err)
	assert.Zero(t, again.FinalAmount)

	over := int64(6001)
	_, err = agg.Supersede(ctx, again.ID, Correction{Discount: &over}, staff)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	s, err := agg.Aggregate(ctx, appt.ID)
	require.NoError(t, err)
	assert.Zero(t, s.TotalPaid)
	assert.Equal(t, int64(6000), s.TotalDiscount)
}
