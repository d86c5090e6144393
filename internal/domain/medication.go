package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrEmptyTimes     = errors.New("fixed schedule has no times")
	ErrBadInterval    = errors.New("interval must be positive")
	ErrUnknownKind    = errors.New("unknown schedule kind")
	ErrMedNotFound    = errors.New("medication not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEntry = errors.New("duplicate medication entry")
)

// ScheduleKind discriminates the two schedule variants.
type ScheduleKind string

const (
	KindFixed    ScheduleKind = "fixed"    // explicit list of daily clock times
	KindInterval ScheduleKind = "interval" // repeating duration since a reference instant
)

// Schedule is a tagged union: exactly one variant is meaningful per Kind.
type Schedule struct {
	Kind ScheduleKind

	// Fixed variant: minutes from midnight in the user's local time, sorted ascending.
	Times []int

	// Interval variant.
	IntervalHours int
	Strict        bool // next dose always computed from the previous planned instant
	HasWindow     bool // preferred local time-of-day window
	WindowFromM   int
	WindowToM     int
}

// Validate reports a malformed schedule definition as an error to the caller.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindFixed:
		if len(s.Times) == 0 {
			return ErrEmptyTimes
		}
		for _, m := range s.Times {
			if m < 0 || m > 1439 {
				return fmt.Errorf("time %d out of range", m)
			}
		}
	case KindInterval:
		if s.IntervalHours <= 0 {
			return ErrBadInterval
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
	return nil
}

// SortedTimes returns the fixed time list in ascending order.
func (s Schedule) SortedTimes() []int {
	out := make([]int, len(s.Times))
	copy(out, s.Times)
	sort.Ints(out)
	return out
}

// Medication is a single scheduled line owned by one user.
// NextDoseAt is always a concrete instant for a valid active medication and is
// recomputed after every state-changing event.
type Medication struct {
	ID       string // unique within user, opaque (uuid)
	Name     string
	Dosage   string // optional free text, "" if unset
	Schedule Schedule

	LastTaken  *time.Time // UTC, nullable; only ever advanced by normal operation
	NextDoseAt time.Time  // UTC

	// Outstanding reminder, at most one per medication. ReminderID is the
	// transport message reference; ReminderSentAt is the last send or edit.
	ReminderID     *int64
	ReminderSentAt *time.Time

	Active  bool // soft-delete flag
	Invalid bool // malformed schedule, excluded from due resolution until edited

	CreatedAt time.Time // UTC
}

// HasReminder reports whether an outstanding reminder reference exists.
func (m *Medication) HasReminder() bool {
	return m.ReminderID != nil
}

// ClearReminder drops the outstanding reminder reference.
func (m *Medication) ClearReminder() {
	m.ReminderID = nil
	m.ReminderSentAt = nil
}
