package engine

import (
	"time"

	"github.com/ldi/tend/pkg/models"
)

// ValidatePattern checks a recurrence before it is used or stored.
func ValidatePattern(rec *models.Recurrence) error {
	if rec == nil {
		return newError(ErrInvalidRecurrencePattern, "", "recurrence is nil")
	}
	if rec.Interval <= 0 {
		return newError(ErrInvalidRecurrencePattern, "", "interval must be positive, got %d", rec.Interval)
	}
	switch rec.Unit {
	case models.UnitHours, models.UnitDays, models.UnitWeeks, models.UnitMonths:
	default:
		return newError(ErrInvalidRecurrencePattern, "", "unknown unit %q", rec.Unit)
	}

	switch rec.Kind {
	case models.RecurrenceFixedSchedule:
		if rec.AnchorDate == nil || rec.AnchorDate.IsZero() {
			return newError(ErrMissingAnchor, "", "fixed schedule %s has no anchor date", rec.ID)
		}
		seen := make(map[time.Weekday]bool, len(rec.ExcludeWeekdays))
		for _, d := range rec.ExcludeWeekdays {
			if d < time.Sunday || d > time.Saturday {
				return newError(ErrInvalidRecurrencePattern, "", "weekday %d out of range", d)
			}
			seen[d] = true
		}
		if len(seen) == 7 {
			return newError(ErrInvalidRecurrencePattern, "", "every weekday is excluded")
		}
	case models.RecurrenceAfterCompletion:
	default:
		return newError(ErrInvalidRecurrencePattern, "", "unknown kind %q", rec.Kind)
	}
	return nil
}

// NextDueDate computes when the next occurrence falls due after a completion
// at completedAt. currentDue is the due date of the occurrence being
// completed; a fixed schedule never produces a date at or before it, so an
// early completion cannot duplicate the occurrence it just closed.
func NextDueDate(rec *models.Recurrence, completedAt time.Time, currentDue *time.Time) (time.Time, error) {
	if err := ValidatePattern(rec); err != nil {
		return time.Time{}, err
	}

	if rec.Kind == models.RecurrenceAfterCompletion {
		return advance(completedAt, rec.Interval, rec.Unit), nil
	}

	floor := completedAt
	if currentDue != nil && currentDue.After(floor) {
		floor = *currentDue
	}
	return nextFixed(rec, floor), nil
}

// Upcoming lists the next n due dates strictly after the given instant,
// assuming each occurrence is completed exactly when it falls due.
func Upcoming(rec *models.Recurrence, after time.Time, n int) ([]time.Time, error) {
	if err := ValidatePattern(rec); err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	cur := after
	for i := 0; i < n; i++ {
		var next time.Time
		if rec.Kind == models.RecurrenceAfterCompletion {
			next = advance(cur, rec.Interval, rec.Unit)
		} else {
			next = nextFixed(rec, cur)
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

func nextFixed(rec *models.Recurrence, floor time.Time) time.Time {
	anchor := *rec.AnchorDate
	k := estimateSteps(anchor, floor, rec.Interval, rec.Unit)
	cand := advance(anchor, k*rec.Interval, rec.Unit)
	for !cand.After(floor) {
		k++
		cand = advance(anchor, k*rec.Interval, rec.Unit)
	}

	// Exclusions shift by single days, not by another full interval.
	for i := 0; i < 7 && rec.Excludes(cand.Weekday()); i++ {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand
}

// estimateSteps returns a step count whose candidate is known to be at or
// before floor, so the caller only walks the last few steps.
func estimateSteps(anchor, floor time.Time, interval int, unit models.Unit) int {
	if !floor.After(anchor) {
		return 1
	}

	var k int
	switch unit {
	case models.UnitMonths:
		ay, am, _ := anchor.Date()
		fy, fm, _ := floor.Date()
		diff := (fy-ay)*12 + int(fm-am)
		k = diff/interval - 1
	default:
		step := unitDuration(unit) * time.Duration(interval)
		k = int(floor.Sub(anchor)/step) - 2
	}
	if k < 1 {
		k = 1
	}
	return k
}

func unitDuration(unit models.Unit) time.Duration {
	switch unit {
	case models.UnitHours:
		return time.Hour
	case models.UnitWeeks:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// advance adds n units to t. Calendar units keep the wall-clock time of t.
func advance(t time.Time, n int, unit models.Unit) time.Time {
	switch unit {
	case models.UnitHours:
		return t.Add(time.Duration(n) * time.Hour)
	case models.UnitDays:
		return t.AddDate(0, 0, n)
	case models.UnitWeeks:
		return t.AddDate(0, 0, 7*n)
	case models.UnitMonths:
		return addMonthsClamped(t, n)
	}
	return t
}

// addMonthsClamped moves t by months, pinning the day to the last valid day
// of the target month instead of rolling over (Jan 31 + 1 month = Feb 28/29).
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()

	total := int(m) - 1 + months
	ty := y + floorDiv(total, 12)
	tm := time.Month(total-floorDiv(total, 12)*12 + 1)

	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
