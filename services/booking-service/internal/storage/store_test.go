package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestInsertAppointmentMapsExclusionViolation(t *testing.T) {
	mock := newMock(t)
	s := New()

	mock.ExpectQuery("INSERT INTO appointments").WithArgs(anyArgs(11)...).
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})

	err := s.InsertAppointment(context.Background(), mock, &model.Appointment{
		CustomerID:     "c1",
		PractitionerID: "d1",
		StartTime:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
		Status:         model.StatusPending,
		TotalAmount:    100,
		DepositAmount:  50,
	})
	assert.ErrorIs(t, err, model.ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAppointmentWritesDetails(t *testing.T) {
	mock := newMock(t)
	s := New()
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO appointments").WithArgs(anyArgs(11)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO appointment_details").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 0, "svc-a", 2, int64(150)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO appointment_details").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 1, "svc-b", 1, int64(200)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	appt := &model.Appointment{
		CustomerID: "c1",
		Status:     model.StatusPending,
		Details: []model.Detail{
			{ServiceID: "svc-a", Quantity: 2, UnitPrice: 150},
			{ServiceID: "svc-b", Quantity: 1, UnitPrice: 200},
		},
	}
	require.NoError(t, s.InsertAppointment(context.Background(), mock, appt))
	assert.NotEmpty(t, appt.ID)
	for _, d := range appt.Details {
		assert.Equal(t, appt.ID, d.AppointmentID)
		assert.NotEmpty(t, d.ID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAppointmentNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT id::text").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := New().GetAppointment(context.Background(), mock, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetAppointmentForUpdateLoadsDetails(t *testing.T) {
	mock := newMock(t)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cols := []string{"id", "customer_id", "practitioner_id", "assigned_staff_id", "start_time", "end_time", "status",
		"total_amount", "deposit_amount", "voucher_id", "note", "cancel_reason", "rejection_reason", "cancelled_at",
		"is_feedback_given", "created_at", "updated_at"}
	mock.ExpectQuery("FROM appointments WHERE id = \\$1 FOR UPDATE").WithArgs("a1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("a1", "c1", "d1", "", start, start.Add(time.Hour), "deposited",
			int64(500000), int64(250000), "", "", "", "", nil, false, start, start))
	mock.ExpectQuery("FROM appointment_details").WithArgs("a1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "service_id", "quantity", "unit_price"}).
			AddRow("d-1", "a1", "svc-a", 1, int64(500000)))

	appt, err := New().GetAppointmentForUpdate(context.Background(), mock, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeposited, appt.Status)
	assert.Nil(t, appt.CancelledAt)
	require.Len(t, appt.Details, 1)
	assert.Equal(t, int64(500000), appt.Details[0].LineTotal())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusDetectsConcurrentChange(t *testing.T) {
	mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec("UPDATE appointments").
		WithArgs("a1", "pending", "confirmed", "d1", nil, "", "", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := New().UpdateStatus(context.Background(), mock, model.StatusChange{
		AppointmentID:  "a1",
		From:           model.StatusPending,
		To:             model.StatusConfirmed,
		PractitionerID: "d1",
		At:             at,
	})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFeedbackGivenIsConditional(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("is_feedback_given = false").WithArgs("a1").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("is_feedback_given = false").WithArgs("a1").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	s := New()
	ok, err := s.MarkFeedbackGiven(context.Background(), mock, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkFeedbackGiven(context.Background(), mock, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertProviderEventDeduplicates(t *testing.T) {
	mock := newMock(t)
	s := New()
	evt := ProviderEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "checkout.session.completed", Payload: []byte(`{"id":"evt_1"}`)}

	mock.ExpectExec("INSERT INTO provider_events").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO provider_events").WithArgs(anyArgs(4)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.InsertProviderEvent(context.Background(), mock, evt))
	assert.ErrorIs(t, s.InsertProviderEvent(context.Background(), mock, evt), ErrDuplicateProviderEvent)

	evt.Payload = []byte("not json")
	assert.Error(t, s.InsertProviderEvent(context.Background(), mock, evt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOpenIntentNone(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("FROM payment_intents").WithArgs("a1").WillReturnError(pgx.ErrNoRows)

	_, ok, err := New().FindOpenIntent(context.Background(), mock, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockIdempotencyKeyInsertsWhenMissing(t *testing.T) {
	mock := newMock(t)
	cols := []string{"customer_id", "idempotency_key", "appointment_id", "status_code", "response_payload"}

	mock.ExpectQuery("FROM booking_idempotency_keys").WithArgs("c1", "k1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO booking_idempotency_keys").WithArgs("c1", "k1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FROM booking_idempotency_keys").WithArgs("c1", "k1").
		WillReturnRows(pgxmock.NewRows(cols).AddRow("c1", "k1", "", 0, ""))

	rec, existed, err := New().LockIdempotencyKey(context.Background(), mock, "c1", "k1")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.False(t, rec.Completed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceLinesRoundTripThroughJSON(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()
	cols := []string{"id", "appointment_id", "kind", "total", "discount", "final_amount", "payment_method",
		"processed_by", "order_code", "lines", "superseded_by", "created_at"}
	mock.ExpectQuery("FROM invoices").WithArgs("a1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("i1", "a1", "deposit", int64(250), int64(0), int64(250), "gateway", "", int64(100001),
				[]byte(`[{"service_id":"svc-a","quantity":2,"unit_price":125}]`), "", now))

	invoices, err := New().ListInvoices(context.Background(), mock, "a1")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, model.InvoiceDeposit, invoices[0].Kind)
	assert.Equal(t, []model.InvoiceLine{{ServiceID: "svc-a", Quantity: 2, UnitPrice: 125}}, invoices[0].Lines)
}
