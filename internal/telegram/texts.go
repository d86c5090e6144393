package telegram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vvzvlad/medical-bot/internal/domain"
)

const startText = `Hi! I remind you to take your medications and track confirmations.

Commands:
/add <name> <HH:MM[,HH:MM]> [dosage] — fixed daily times
/add <name> <N>h [strict] [HH:MM-HH:MM] [dosage] — every N hours
/list — your schedule
/del <name> — remove a medication
/time <name> <HH:MM[,HH:MM] | Nh> — change the schedule
/dose <name> <dosage> — change the dosage
/tz <zone> — timezone (Europe/Moscow or +03:00)
/dnd <HH:MM-HH:MM> [postpone] | /dnd off — quiet hours

Press the button under a reminder when you take a dose.`

const (
	errGeneric   = "Something went wrong. Please try again later."
	errNoSuchMed = "I don't know that medication. Check /list."
	errDuplicate = "That medication is already scheduled at those times."
	errBadTime   = "I couldn't read the time. Use HH:MM, e.g. 09:30."
	errBadTZ     = "Unknown timezone. Try an IANA name (Europe/Moscow) or an offset (+03:00)."

	dndOffText  = "Quiet hours disabled."
	emptyList   = "Your schedule is empty. Add something with /add."
	confirmedOK = "Noted 👍"
)

// formatSchedule renders the user's schedule grouped by (name, dosage) with
// times joined, one numbered line per group.
func formatSchedule(u *domain.User) string {
	meds := u.ActiveMedications()
	if len(meds) == 0 {
		return emptyList
	}

	type key struct{ name, dosage string }
	grouped := make(map[key][]string)
	var order []key
	for _, m := range meds {
		k := key{m.Name, m.Dosage}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], describeSchedule(m))
	}

	var b strings.Builder
	b.WriteString("You are taking:")
	for i, k := range order {
		entries := grouped[k]
		sort.Strings(entries)
		dosage := ""
		if k.dosage != "" {
			dosage = " " + k.dosage
		}
		fmt.Fprintf(&b, "\n%d) %s — %s%s", i+1, strings.Join(entries, " and "), k.name, dosage)
	}
	return b.String()
}

// describeSchedule renders one medication's schedule definition.
func describeSchedule(m *domain.Medication) string {
	s := m.Schedule
	if s.Kind == domain.KindFixed {
		times := make([]string, 0, len(s.Times))
		for _, t := range s.SortedTimes() {
			times = append(times, domain.FormatMinutes(t))
		}
		return "at " + strings.Join(times, ", ")
	}
	out := fmt.Sprintf("every %dh", s.IntervalHours)
	if s.Strict {
		out += " strictly"
	}
	if s.HasWindow {
		out += fmt.Sprintf(" within %s–%s", domain.FormatMinutes(s.WindowFromM), domain.FormatMinutes(s.WindowToM))
	}
	return out
}
