package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/db"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type Store interface {
	ListBlocking(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time) ([]model.Appointment, error)
}

// Checker decides whether a practitioner's time range is free. It never writes.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// Check returns the ids of slot-holding appointments overlapping [start, end),
// skipping excludeID. An empty result means the range is free.
func (c *Checker) Check(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time, excludeID string) ([]string, error) {
	if practitionerID == "" {
		return nil, fmt.Errorf("%w: practitioner is required", model.ErrInvalidInput)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", model.ErrInvalidInput)
	}
	existing, err := c.store.ListBlocking(ctx, q, practitionerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list blocking appointments: %w", err)
	}
	return Conflicts(existing, start, end, excludeID), nil
}

// Require is Check turned into an error: *model.SlotConflictError when anything overlaps.
func (c *Checker) Require(ctx context.Context, q db.DBTX, practitionerID string, start, end time.Time, excludeID string) error {
	ids, err := c.Check(ctx, q, practitionerID, start, end, excludeID)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return &model.SlotConflictError{IDs: ids}
	}
	return nil
}

// Conflicts filters appointments down to the ones that hold a slot overlapping [start, end).
func Conflicts(existing []model.Appointment, start, end time.Time, excludeID string) []string {
	var ids []string
	for _, a := range existing {
		if a.ID == excludeID || !a.Status.BlocksSlot() {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// FreeSlots lists bookable [start, start+duration) ranges inside window that
// do not overlap any slot-holding appointment and do not start before now.
func (c *Checker) FreeSlots(ctx context.Context, q db.DBTX, practitionerID string, window Interval, duration, step time.Duration, now time.Time) ([]Interval, error) {
	existing, err := c.store.ListBlocking(ctx, q, practitionerID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("list blocking appointments: %w", err)
	}
	busy := make([]Interval, 0, len(existing))
	for _, a := range existing {
		busy = append(busy, Interval{Start: a.StartTime, End: a.EndTime})
	}
	starts := AvailableSlots(window.Start, window.End, duration, step, busy, now)
	out := make([]Interval, 0, len(starts))
	for _, s := range starts {
		out = append(out, Interval{Start: s, End: s.Add(duration)})
	}
	return out, nil
}
