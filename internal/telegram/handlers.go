package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vvzvlad/medical-bot/internal/domain"
)

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	if _, err := r.mgr.EnsureUser(ctx, chatID); err != nil {
		r.log.Error("ensure user failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}
	r.sendText(chatID, startText)
}

func (r *Router) handleList(ctx context.Context, chatID int64) {
	u, err := r.mgr.EnsureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensure user failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}
	r.sendText(chatID, formatSchedule(u))
}

func (r *Router) handleAdd(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		r.sendText(chatID, "Usage: /add <name> <HH:MM[,HH:MM] | Nh> [dosage]")
		return
	}
	name := fields[0]
	sched, consumed, err := parseScheduleSpec(fields[1:])
	if err != nil {
		r.sendText(chatID, errBadTime)
		return
	}
	dosage := strings.Join(fields[1+consumed:], " ")

	if _, err := r.mgr.EnsureUser(ctx, chatID); err != nil {
		r.log.Error("ensure user failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}

	m, skipped, err := r.mgr.AddMedication(ctx, chatID, name, dosage, sched)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEntry) {
			r.sendText(chatID, errDuplicate)
			return
		}
		r.log.Error("add medication failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}

	reply := fmt.Sprintf("Added %s, %s.", m.Name, describeSchedule(m))
	if next, err := domain.LocalizeTime(m.NextDoseAt, r.userTZ(ctx, chatID)); err == nil {
		reply += " Next reminder at " + next + "."
	}
	if len(skipped) > 0 {
		reply += " Skipped duplicates: " + strings.Join(skipped, ", ") + "."
	}
	r.sendText(chatID, reply)
}

func (r *Router) handleDelete(ctx context.Context, chatID int64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		r.sendText(chatID, "Usage: /del <name>")
		return
	}
	u, err := r.mgr.EnsureUser(ctx, chatID)
	if err != nil {
		r.sendText(chatID, errGeneric)
		return
	}
	ids := idsByName(u, name)
	if len(ids) == 0 {
		r.sendText(chatID, errNoSuchMed)
		return
	}
	n, err := r.mgr.RemoveMedications(ctx, chatID, ids)
	if err != nil {
		r.log.Error("remove medications failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}
	r.sendText(chatID, fmt.Sprintf("Removed %d entr%s for %s.", n, plural(n, "y", "ies"), name))
}

func (r *Router) handleChangeTime(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		r.sendText(chatID, "Usage: /time <name> <HH:MM[,HH:MM] | Nh>")
		return
	}
	name := fields[0]
	sched, _, err := parseScheduleSpec(fields[1:])
	if err != nil {
		r.sendText(chatID, errBadTime)
		return
	}
	u, err := r.mgr.EnsureUser(ctx, chatID)
	if err != nil {
		r.sendText(chatID, errGeneric)
		return
	}
	ids := idsByName(u, name)
	if len(ids) == 0 {
		r.sendText(chatID, errNoSuchMed)
		return
	}
	m, err := r.mgr.ChangeTime(ctx, chatID, ids[0], sched)
	if err != nil {
		r.log.Error("change time failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}
	r.sendText(chatID, fmt.Sprintf("Updated %s: now %s.", m.Name, describeSchedule(m)))
}

func (r *Router) handleChangeDosage(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		r.sendText(chatID, "Usage: /dose <name> <dosage>")
		return
	}
	name := fields[0]
	dosage := strings.Join(fields[1:], " ")

	u, err := r.mgr.EnsureUser(ctx, chatID)
	if err != nil {
		r.sendText(chatID, errGeneric)
		return
	}
	ids := idsByName(u, name)
	if len(ids) == 0 {
		r.sendText(chatID, errNoSuchMed)
		return
	}
	m, err := r.mgr.ChangeDosage(ctx, chatID, ids[0], dosage)
	if err != nil {
		r.log.Error("change dosage failed", zap.Error(err), zap.Int64("chatID", chatID))
		r.sendText(chatID, errGeneric)
		return
	}
	r.sendText(chatID, fmt.Sprintf("Updated %s: dosage %s.", m.Name, m.Dosage))
}

func (r *Router) handleTimezone(ctx context.Context, chatID int64, args string) {
	tz := strings.TrimSpace(args)
	if tz == "" {
		r.sendText(chatID, "Usage: /tz <zone>, e.g. /tz Europe/Moscow or /tz +03:00")
		return
	}
	if _, err := r.mgr.EnsureUser(ctx, chatID); err != nil {
		r.sendText(chatID, errGeneric)
		return
	}
	if err := r.mgr.SetTimezone(ctx, chatID, tz); err != nil {
		r.sendText(chatID, errBadTZ)
		return
	}
	r.sendText(chatID, "Timezone set to "+tz+".")
}

func (r *Router) handleDND(ctx context.Context, chatID int64, args string) {
	if _, err := r.mgr.EnsureUser(ctx, chatID); err != nil {
		r.sendText(chatID, errGeneric)
		return
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		r.sendText(chatID, "Usage: /dnd <HH:MM-HH:MM> [postpone] or /dnd off")
		return
	}
	if strings.EqualFold(fields[0], "off") {
		if err := r.mgr.SetDND(ctx, chatID, false, 0, 0, false); err != nil {
			r.sendText(chatID, errGeneric)
			return
		}
		r.sendText(chatID, dndOffText)
		return
	}

	fromM, toM, err := domain.ParseWindow(fields[0])
	if err != nil {
		r.sendText(chatID, errBadTime)
		return
	}
	postpone := len(fields) > 1 && strings.EqualFold(fields[1], "postpone")
	if err := r.mgr.SetDND(ctx, chatID, true, fromM, toM, postpone); err != nil {
		r.sendText(chatID, errGeneric)
		return
	}
	reply := fmt.Sprintf("Quiet hours %s–%s.", domain.FormatMinutes(fromM), domain.FormatMinutes(toM))
	if postpone {
		reply += " Reminders inside the window move to its end."
	}
	r.sendText(chatID, reply)
}

// handleTaken is the inbound confirmation path: the button press under a
// reminder message.
func (r *Router) handleTaken(ctx context.Context, chatID int64, medID, callbackID string, takenAt time.Time) {
	if err := r.mgr.Confirm(ctx, chatID, medID, takenAt); err != nil {
		if errors.Is(err, domain.ErrMedNotFound) {
			r.answerCallback(callbackID, errNoSuchMed)
			return
		}
		r.log.Error("confirm failed", zap.Error(err),
			zap.Int64("chatID", chatID), zap.String("medID", medID))
		r.answerCallback(callbackID, errGeneric)
		return
	}
	r.answerCallback(callbackID, confirmedOK)
}

// userTZ returns the user's timezone for display, falling back to UTC.
func (r *Router) userTZ(ctx context.Context, chatID int64) string {
	u, err := r.mgr.UserSchedule(ctx, chatID)
	if err != nil {
		return "UTC"
	}
	return u.TZ
}

// parseScheduleSpec reads a schedule definition from command tokens: either a
// comma-separated list of daily times ("10:00,18:00") or an interval ("8h"),
// optionally followed by "strict" and a preferred window ("09:00-21:00").
// Returns the number of tokens consumed.
func parseScheduleSpec(tokens []string) (domain.Schedule, int, error) {
	if len(tokens) == 0 {
		return domain.Schedule{}, 0, domain.ErrEmptyTimes
	}

	if strings.Contains(tokens[0], ":") {
		times, err := domain.ParseTimesList(tokens[0])
		if err != nil {
			return domain.Schedule{}, 0, err
		}
		return domain.Schedule{Kind: domain.KindFixed, Times: times}, 1, nil
	}

	hours, err := domain.ParseIntervalHours(tokens[0])
	if err != nil {
		return domain.Schedule{}, 0, err
	}
	sched := domain.Schedule{Kind: domain.KindInterval, IntervalHours: hours}
	consumed := 1
	for consumed < len(tokens) {
		tok := tokens[consumed]
		if strings.EqualFold(tok, "strict") {
			sched.Strict = true
			consumed++
			continue
		}
		if strings.Contains(tok, ":") && (strings.Contains(tok, "-") || strings.Contains(tok, "–")) {
			fromM, toM, err := domain.ParseWindow(tok)
			if err != nil {
				return domain.Schedule{}, 0, err
			}
			sched.HasWindow = true
			sched.WindowFromM = fromM
			sched.WindowToM = toM
			consumed++
			continue
		}
		break
	}
	return sched, consumed, nil
}

// idsByName collects active medication ids matching a name, case-insensitive.
func idsByName(u *domain.User, name string) []string {
	var ids []string
	for _, m := range u.ActiveMedications() {
		if strings.EqualFold(m.Name, name) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
