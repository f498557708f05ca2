package availability

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerReportsConflicts(t *testing.T) {
	ctx := context.Background()
	st := storagetest.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	booked := st.PutAppointment(model.Appointment{
		PractitionerID: "doc-1", StartTime: day.Add(10 * time.Hour), EndTime: day.Add(11 * time.Hour), Status: model.StatusPending,
	})
	st.PutAppointment(model.Appointment{
		PractitionerID: "doc-1", StartTime: day.Add(13 * time.Hour), EndTime: day.Add(14 * time.Hour), Status: model.StatusCancelled,
	})
	st.PutAppointment(model.Appointment{
		PractitionerID: "doc-2", StartTime: day.Add(10 * time.Hour), EndTime: day.Add(11 * time.Hour), Status: model.StatusApproved,
	})

	c := NewChecker(st)

	ids, err := c.Check(ctx, st, "doc-1", day.Add(10*time.Hour+30*time.Minute), day.Add(11*time.Hour+30*time.Minute), "")
	require.NoError(t, err)
	assert.Equal(t, []string{booked.ID}, ids)

	ids, err = c.Check(ctx, st, "doc-1", day.Add(11*time.Hour), day.Add(12*time.Hour), "")
	require.NoError(t, err)
	assert.Empty(t, ids, "back-to-back ranges are free")

	ids, err = c.Check(ctx, st, "doc-1", day.Add(13*time.Hour), day.Add(14*time.Hour), "")
	require.NoError(t, err)
	assert.Empty(t, ids, "cancelled appointments release their slot")

	ids, err = c.Check(ctx, st, "doc-1", day.Add(10*time.Hour), day.Add(11*time.Hour), booked.ID)
	require.NoError(t, err)
	assert.Empty(t, ids, "an appointment never conflicts with itself")

	err = c.Require(ctx, st, "doc-1", day.Add(9*time.Hour), day.Add(12*time.Hour), "")
	var sc *model.SlotConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, []string{booked.ID}, sc.IDs)
}

func TestCheckerRejectsInvalidRange(t *testing.T) {
	st := storagetest.New()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err := NewChecker(st).Check(context.Background(), st, "doc-1", start, start, "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = NewChecker(st).Check(context.Background(), st, "", start, start.Add(time.Hour), "")
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestFreeSlotsSkipsBookedTime(t *testing.T) {
	st := storagetest.New()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	st.PutAppointment(model.Appointment{
		PractitionerID: "doc-1", StartTime: day.Add(10 * time.Hour), EndTime: day.Add(11 * time.Hour), Status: model.StatusConfirmed,
	})

	window := Interval{Start: day.Add(9 * time.Hour), End: day.Add(12 * time.Hour)}
	slots, err := NewChecker(st).FreeSlots(context.Background(), st, "doc-1", window, time.Hour, 30*time.Minute, day)
	require.NoError(t, err)

	var starts []string
	for _, s := range slots {
		starts = append(starts, s.Start.Format("15:04"))
	}
	assert.Equal(t, []string{"09:00", "11:00"}, starts)
}
