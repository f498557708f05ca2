package availability

import (
	"errors"
	"time"
)

var errEmptyWindow = errors.New("work window end must be after start")

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps compares half-open ranges: [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1.
// Back-to-back ranges do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) || windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

// DayWindow builds the [from, to) work window of a calendar day. date is
// YYYY-MM-DD and from/to are HH:MM in loc.
func DayWindow(date, from, to string, loc *time.Location) (Interval, error) {
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return Interval{}, err
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+from, loc)
	if err != nil {
		return Interval{}, err
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", date+" "+to, loc)
	if err != nil {
		return Interval{}, err
	}
	if !end.After(start) || start.Before(day) {
		return Interval{}, errEmptyWindow
	}
	return Interval{Start: start, End: end}, nil
}
