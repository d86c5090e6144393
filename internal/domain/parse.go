package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyInterval   = errors.New("empty interval")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrIntervalSmall   = errors.New("interval too small")
	ErrIntervalLarge   = errors.New("interval too large")
)

// ParseIntervalHours parses human-friendly interval specs like "8h", "8".
// Constraints: 1h <= d <= 72h.
func ParseIntervalHours(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrEmptyInterval
	}
	s = strings.TrimSuffix(s, "h")
	h, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, s)
	}
	if h < 1 {
		return 0, fmt.Errorf("%w: min 1h", ErrIntervalSmall)
	}
	if h > 72 {
		return 0, fmt.Errorf("%w: max 72h", ErrIntervalLarge)
	}
	return h, nil
}

// ParseTimeOfDay parses "HH:MM" into minutes since midnight.
func ParseTimeOfDay(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, errors.New("expected HH:MM")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.New("invalid hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.New("invalid minute")
	}
	return h*60 + m, nil
}

// ParseTimesList parses a comma-separated list of "HH:MM" entries.
func ParseTimesList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	var times []int
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m, err := ParseTimeOfDay(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		times = append(times, m)
	}
	if len(times) == 0 {
		return nil, ErrEmptyTimes
	}
	return times, nil
}

// ParseWindow parses "HH:MM–HH:MM" or "HH:MM-HH:MM" into minutes since midnight.
func ParseWindow(s string) (fromM, toM int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, errors.New("empty window")
	}
	sep := "–"
	if strings.Contains(s, "-") && !strings.Contains(s, "–") {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return 0, 0, errors.New("expected format HH:MM–HH:MM")
	}
	fromM, err = ParseTimeOfDay(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("from: %w", err)
	}
	toM, err = ParseTimeOfDay(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("to: %w", err)
	}
	return fromM, toM, nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// LocalizeTime formats t in the user's timezone as HH:MM.
func LocalizeTime(t time.Time, tz string) (string, error) {
	loc, err := UserLocation(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format("15:04"), nil
}
