package domain

import "time"

// InWindow returns true if local time (minutes since midnight) is inside the window.
// Supports wrap-around windows like 23:00–07:00 (fromM > toM).
func InWindow(localM, fromM, toM int) bool {
	if fromM == toM {
		return false // zero-length window
	}
	if fromM < toM {
		return localM >= fromM && localM < toM
	}
	// wrap: [from..1440) U [0..to)
	return localM >= fromM || localM < toM
}

// DNDActive reports whether t falls inside the user's enabled DND window.
// A disabled configuration always returns false.
func DNDActive(u *User, t time.Time) bool {
	if !u.DNDEnabled {
		return false
	}
	loc, err := UserLocation(u.TZ)
	if err != nil {
		return false
	}
	return InWindow(MinutesOfDay(t, loc), u.DNDFromM, u.DNDToM)
}

// DNDEnd returns the end instant of the DND window containing t.
// Callers must check DNDActive first; for t outside the window the result is
// the next occurrence of the window end.
func DNDEnd(u *User, t time.Time) time.Time {
	loc, err := UserLocation(u.TZ)
	if err != nil {
		return t
	}
	local := t.In(loc)
	end := LocalDateAt(local, u.DNDToM)
	if !end.After(local) {
		// Civil-day advancement, so the end stays at the configured local
		// clock time across timezone offset changes.
		end = LocalDateAt(local.AddDate(0, 0, 1), u.DNDToM)
	}
	return end.UTC()
}

// PostponeDND applies the postpone-to-end policy: an instant inside an enabled
// DND window is advanced to the window's end. Recurses at most once — a DND
// window must not span a full day.
func PostponeDND(u *User, t time.Time) time.Time {
	if !u.DNDEnabled || !u.DNDPostpone {
		return t
	}
	if !DNDActive(u, t) {
		return t
	}
	shifted := DNDEnd(u, t)
	if DNDActive(u, shifted) {
		shifted = DNDEnd(u, shifted)
	}
	return shifted
}
