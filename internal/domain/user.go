package domain

import "time"

// User represents per-chat settings: timezone and the do-not-disturb window.
type User struct {
	ChatID      int64
	TZ          string // IANA zone ("Europe/Moscow") or fixed offset ("+03:00")
	DNDEnabled  bool
	DNDFromM    int  // minutes from midnight (0..1439)
	DNDToM      int  // minutes from midnight (0..1439)
	DNDPostpone bool // postpone reminders to window end instead of dropping the slot
	Medications []*Medication
	CreatedAt   time.Time // UTC
}

// Medication returns the user's medication with the given id, or nil.
func (u *User) Medication(id string) *Medication {
	for _, m := range u.Medications {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// ActiveMedications returns medications that are not soft-deleted.
func (u *User) ActiveMedications() []*Medication {
	var res []*Medication
	for _, m := range u.Medications {
		if m.Active {
			res = append(res, m)
		}
	}
	return res
}
