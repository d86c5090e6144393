package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadTimezone = errors.New("invalid timezone")

// UserLocation resolves a user timezone string into a *time.Location.
// Accepts IANA names ("Europe/Moscow") and fixed offsets ("+03:00", "-05:30").
func UserLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadTimezone)
	}
	if tz[0] == '+' || tz[0] == '-' {
		return fixedOffsetLocation(tz)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadTimezone, tz)
	}
	return loc, nil
}

// fixedOffsetLocation parses "+03:00" / "-05:30" into a fixed zone.
func fixedOffsetLocation(s string) (*time.Location, error) {
	if len(s) != 6 || s[3] != ':' {
		return nil, fmt.Errorf("%w: %s (want ±HH:MM)", ErrBadTimezone, s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	h, err := strconv.Atoi(s[1:3])
	if err != nil || h > 14 {
		return nil, fmt.Errorf("%w: %s", ErrBadTimezone, s)
	}
	m, err := strconv.Atoi(s[4:6])
	if err != nil || m > 59 {
		return nil, fmt.Errorf("%w: %s", ErrBadTimezone, s)
	}
	offset := sign * (h*3600 + m*60)
	return time.FixedZone("UTC"+s, offset), nil
}

// ValidateTZ normalizes and checks a timezone string, returning the canonical form.
func ValidateTZ(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz != "" && (tz[0] == '+' || tz[0] == '-') {
		if _, err := fixedOffsetLocation(tz); err != nil {
			return "", err
		}
		return tz, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBadTimezone, tz)
	}
	return loc.String(), nil
}

// MinutesOfDay returns minutes since local midnight for t rendered in loc.
func MinutesOfDay(t time.Time, loc *time.Location) int {
	lt := t.In(loc)
	return lt.Hour()*60 + lt.Minute()
}

// LocalDateAt builds the instant at the given minutes-from-midnight on the
// same local date as base.
func LocalDateAt(base time.Time, mins int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), mins/60, mins%60, 0, 0, base.Location())
}
