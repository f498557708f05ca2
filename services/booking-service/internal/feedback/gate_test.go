package feedback

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customer = model.Actor{Kind: model.ActorCustomer, ID: "cust-1"}

func newGate(st *storagetest.Store) *Gate {
	return NewGate(st, st, st.Outbox(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seed(st *storagetest.Store, status model.Status) model.Appointment {
	start := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	return st.PutAppointment(model.Appointment{
		CustomerID: customer.ID, PractitionerID: "doc-1", StartTime: start, EndTime: start.Add(time.Hour),
		Status: status, TotalAmount: 9000, DepositAmount: 4500,
		Details: []model.Detail{
			{ServiceID: "svc-clean", Quantity: 1, UnitPrice: 5000},
			{ServiceID: "svc-polish", Quantity: 1, UnitPrice: 4000},
		},
	})
}

func TestSubmitOncePerAppointment(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	g := newGate(st)
	appt := seed(st, model.StatusCompleted)

	rows, err := g.Submit(ctx, appt.ID, []Item{
		{DetailID: appt.Details[0].ID, Rating: 5, Comment: " great "},
		{DetailID: appt.Details[1].ID, Rating: 3},
	}, customer)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "svc-clean", rows[0].ServiceID)
	assert.Equal(t, "great", rows[0].Comment)
	assert.Equal(t, model.ModerationPending, rows[0].Status)

	_, err = g.Submit(ctx, appt.ID, []Item{{DetailID: appt.Details[0].ID, Rating: 1}}, customer)
	require.ErrorIs(t, err, model.ErrDuplicateFeedback)

	got, err := st.GetAppointment(ctx, st, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.IsFeedbackGiven)
	assert.Equal(t, []string{outbox.FeedbackSubmitted}, st.EventTypes())
}

func TestSubmitEligibility(t *testing.T) {
	ctx := context.Background()
	for _, status := range []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusDeposited, model.StatusApproved, model.StatusCancelled, model.StatusRejected} {
		st := storagetest.New()
		appt := seed(st, status)
		_, err := newGate(st).Submit(ctx, appt.ID, []Item{{DetailID: appt.Details[0].ID, Rating: 4}}, customer)
		assert.ErrorIs(t, err, model.ErrNotEligible, status)
	}
}

func TestSubmitValidatesItems(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	g := newGate(st)
	appt := seed(st, model.StatusPaid)

	cases := map[string][]Item{
		"empty":           nil,
		"rating too low":  {{DetailID: appt.Details[0].ID, Rating: 0}},
		"rating too high": {{DetailID: appt.Details[0].ID, Rating: 6}},
		"foreign detail":  {{DetailID: "other", Rating: 4}},
		"rated twice":     {{DetailID: appt.Details[0].ID, Rating: 4}, {DetailID: appt.Details[0].ID, Rating: 2}},
	}
	for name, items := range cases {
		_, err := g.Submit(ctx, appt.ID, items, customer)
		assert.ErrorIs(t, err, model.ErrInvalidInput, name)
	}

	_, err := g.Submit(ctx, appt.ID, []Item{{DetailID: appt.Details[0].ID, Rating: 4}}, model.Actor{Kind: model.ActorCustomer, ID: "cust-2"})
	require.ErrorIs(t, err, model.ErrForbidden)

	got, err := st.GetAppointment(ctx, st, appt.ID)
	require.NoError(t, err)
	assert.False(t, got.IsFeedbackGiven, "rejected submissions leave the flag alone")
}

func TestConcurrentSubmissionsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	g := newGate(st)
	appt := seed(st, model.StatusPaid)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Submit(ctx, appt.ID, []Item{{DetailID: appt.Details[1].ID, Rating: 1 + i%5}}, customer)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, model.ErrDuplicateFeedback)
	}
	assert.Equal(t, 1, ok)

	rows, err := g.List(ctx, appt.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestModerate(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	g := newGate(st)
	appt := seed(st, model.StatusPaid)
	rows, err := g.Submit(ctx, appt.ID, []Item{{DetailID: appt.Details[0].ID, Rating: 2, Comment: "late"}}, customer)
	require.NoError(t, err)

	_, err = g.Moderate(ctx, rows[0].ID, model.ModerationApproved, customer)
	require.ErrorIs(t, err, model.ErrForbidden)
	_, err = g.Moderate(ctx, rows[0].ID, model.ModerationPending, model.Actor{Kind: model.ActorAdmin, ID: "admin"})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	f, err := g.Moderate(ctx, rows[0].ID, model.ModerationRejected, model.Actor{Kind: model.ActorAdmin, ID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, model.ModerationRejected, f.Status)
	assert.Equal(t, "admin", f.ModeratedBy)
}
