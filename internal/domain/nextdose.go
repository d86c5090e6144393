package domain

import "time"

// NextDose computes the next due instant in UTC for a schedule given a
// reference instant. Pure and deterministic; dispatches once on the schedule
// kind. Ties (reference == candidate) are treated as not later — the result
// always strictly advances past the reference to avoid re-triggering a slot.
func NextDose(s Schedule, loc *time.Location, ref time.Time) (time.Time, error) {
	if err := s.Validate(); err != nil {
		return time.Time{}, err
	}
	switch s.Kind {
	case KindFixed:
		return nextFixed(s, loc, ref), nil
	default:
		return nextInterval(s, loc, ref), nil
	}
}

// nextFixed scans the ordered time-of-day list for the first entry strictly
// later than the local reference time, wrapping to the first entry of the
// following day when none remains.
func nextFixed(s Schedule, loc *time.Location, ref time.Time) time.Time {
	local := ref.In(loc)
	times := s.SortedTimes()
	for _, m := range times {
		cand := LocalDateAt(local, m)
		if cand.After(local) {
			return cand.UTC()
		}
	}
	// Wrap to the first slot tomorrow. AddDate keeps civil-day semantics
	// across timezone offset changes.
	next := LocalDateAt(local.AddDate(0, 0, 1), times[0])
	return next.UTC()
}

// nextInterval advances by the interval in pure UTC arithmetic, then shifts
// forward to the preferred window start if the result falls outside it.
func nextInterval(s Schedule, loc *time.Location, ref time.Time) time.Time {
	next := ref.Add(time.Duration(s.IntervalHours) * time.Hour)
	if !s.HasWindow {
		return next.UTC()
	}
	local := next.In(loc)
	if InWindow(MinutesOfDay(next, loc), s.WindowFromM, s.WindowToM) {
		return next.UTC()
	}
	start := LocalDateAt(local, s.WindowFromM)
	if !start.After(local) {
		start = start.AddDate(0, 0, 1)
	}
	return start.UTC()
}

// NextDoseFor computes the medication's next due instant for a user,
// applying the DND postpone-to-end step after the schedule branch.
func NextDoseFor(u *User, m *Medication, ref time.Time) (time.Time, error) {
	loc, err := UserLocation(u.TZ)
	if err != nil {
		return time.Time{}, err
	}
	next, err := NextDose(m.Schedule, loc, ref)
	if err != nil {
		return time.Time{}, err
	}
	return PostponeDND(u, next), nil
}

// NextAfterConfirmation computes the new planned instant after an intake
// confirmation at takenAt.
//
// Early intake (takenAt before the planned instant): the upcoming slot is
// already covered, so one slot is skipped — the calculator runs twice from the
// confirmation instant and the second result wins. For interval schedules the
// upcoming slot is the planned instant itself, so the skip lands exactly one
// interval past it, which also preserves strict spacing.
//
// On-time or late intake: fixed schedules scan from the actual intake instant;
// strict intervals always advance from the previous planned instant; non-strict
// intervals use the later of planned and actual intake as the base.
func NextAfterConfirmation(u *User, m *Medication, takenAt time.Time) (time.Time, error) {
	if takenAt.Before(m.NextDoseAt) {
		if m.Schedule.Kind == KindInterval {
			return NextDoseFor(u, m, m.NextDoseAt)
		}
		first, err := NextDoseFor(u, m, takenAt)
		if err != nil {
			return time.Time{}, err
		}
		return NextDoseFor(u, m, first)
	}

	base := takenAt
	if m.Schedule.Kind == KindInterval && m.Schedule.Strict {
		base = m.NextDoseAt
	}
	return NextDoseFor(u, m, base)
}
