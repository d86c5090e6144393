package domain

import (
	"sort"
	"time"
)

// DueMedications returns the user's medications currently requiring a
// reminder, ordered by planned instant ascending with ties broken by
// medication id. Read-only: running it twice without an intervening mutation
// returns the same set.
//
// A medication is due iff its planned instant has arrived and no confirmation
// covers it: nextDoseAt <= now AND (lastTaken is nil OR lastTaken < nextDoseAt).
func DueMedications(u *User, now time.Time) []*Medication {
	var due []*Medication
	for _, m := range u.Medications {
		if !m.Active || m.Invalid {
			continue
		}
		if m.NextDoseAt.After(now) {
			continue
		}
		if m.LastTaken != nil && !m.LastTaken.Before(m.NextDoseAt) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDoseAt.Equal(due[j].NextDoseAt) {
			return due[i].NextDoseAt.Before(due[j].NextDoseAt)
		}
		return due[i].ID < due[j].ID
	})
	return due
}
