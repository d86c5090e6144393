package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:30", 9*60 + 30, false},
		{"00:00", 0, false},
		{"23:59", 23*60 + 59, false},
		{"24:00", 0, true},
		{"09:60", 0, true},
		{"0930", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseTimeOfDay(c.in)
		if c.wantErr != (err != nil) {
			t.Errorf("ParseTimeOfDay(%q): unexpected err state: %v", c.in, err)
			continue
		}
		if !c.wantErr && got != c.want {
			t.Errorf("ParseTimeOfDay(%q): want %d, got %d", c.in, c.want, got)
		}
	}
}

func TestParseTimesList(t *testing.T) {
	times, err := ParseTimesList("10:00, 18:00")
	if err != nil {
		t.Fatalf("ParseTimesList: %v", err)
	}
	if len(times) != 2 || times[0] != 10*60 || times[1] != 18*60 {
		t.Fatalf("unexpected result: %v", times)
	}

	if _, err := ParseTimesList(""); !errors.Is(err, ErrEmptyTimes) {
		t.Fatalf("want ErrEmptyTimes, got %v", err)
	}
	if _, err := ParseTimesList("10:00,bad"); err == nil {
		t.Fatal("want error for malformed entry")
	}
}

func TestParseIntervalHours(t *testing.T) {
	for _, in := range []string{"8h", "8", " 8H "} {
		got, err := ParseIntervalHours(in)
		if err != nil || got != 8 {
			t.Errorf("ParseIntervalHours(%q): want 8, got %d (%v)", in, got, err)
		}
	}
	if _, err := ParseIntervalHours("0"); !errors.Is(err, ErrIntervalSmall) {
		t.Errorf("want ErrIntervalSmall, got %v", err)
	}
	if _, err := ParseIntervalHours("100h"); !errors.Is(err, ErrIntervalLarge) {
		t.Errorf("want ErrIntervalLarge, got %v", err)
	}
	if _, err := ParseIntervalHours(""); !errors.Is(err, ErrEmptyInterval) {
		t.Errorf("want ErrEmptyInterval, got %v", err)
	}
}

func TestParseWindow(t *testing.T) {
	fromM, toM, err := ParseWindow("22:00–08:00")
	if err != nil {
		t.Fatalf("ParseWindow: %v", err)
	}
	if fromM != 22*60 || toM != 8*60 {
		t.Fatalf("unexpected window: %d–%d", fromM, toM)
	}

	fromM, toM, err = ParseWindow("09:00-21:00")
	if err != nil {
		t.Fatalf("ParseWindow ascii dash: %v", err)
	}
	if fromM != 9*60 || toM != 21*60 {
		t.Fatalf("unexpected window: %d–%d", fromM, toM)
	}

	if _, _, err := ParseWindow("oops"); err == nil {
		t.Fatal("want error")
	}
}

func TestUserLocation_FixedOffset(t *testing.T) {
	loc, err := UserLocation("+03:00")
	if err != nil {
		t.Fatalf("UserLocation: %v", err)
	}
	at := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)
	if got := at.In(loc).Hour(); got != 13 {
		t.Fatalf("want local hour 13, got %d", got)
	}

	loc, err = UserLocation("-05:30")
	if err != nil {
		t.Fatalf("UserLocation: %v", err)
	}
	if got := at.In(loc).Hour(); got != 4 {
		t.Fatalf("want local hour 4, got %d", got)
	}
}

func TestUserLocation_Invalid(t *testing.T) {
	for _, in := range []string{"", "Mars/Olympus", "+25:00", "+3:00"} {
		if _, err := UserLocation(in); !errors.Is(err, ErrBadTimezone) {
			t.Errorf("UserLocation(%q): want ErrBadTimezone, got %v", in, err)
		}
	}
}

func TestValidateTZ(t *testing.T) {
	got, err := ValidateTZ("Europe/Moscow")
	if err != nil || got != "Europe/Moscow" {
		t.Fatalf("ValidateTZ: got %q, %v", got, err)
	}
	got, err = ValidateTZ(" +03:00 ")
	if err != nil || got != "+03:00" {
		t.Fatalf("ValidateTZ offset: got %q, %v", got, err)
	}
}

func TestFormatMinutes(t *testing.T) {
	if got := FormatMinutes(9*60 + 5); got != "09:05" {
		t.Fatalf("want 09:05, got %s", got)
	}
	if got := FormatMinutes(0); got != "00:00" {
		t.Fatalf("want 00:00, got %s", got)
	}
}

func TestLocalizeTime(t *testing.T) {
	at := time.Date(2025, time.May, 5, 10, 0, 0, 0, time.UTC)
	got, err := LocalizeTime(at, "+03:00")
	if err != nil || got != "13:00" {
		t.Fatalf("LocalizeTime: got %q, %v", got, err)
	}
}
