package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vvzvlad/medical-bot/internal/domain"
	"github.com/vvzvlad/medical-bot/internal/store"
)

// Dispatcher owns the reminder lifecycle for one user's due medications:
// Idle → Sent → Reminding → Resolved. It sends a fresh message for newly due
// items, edits the existing message in place for the repeat cycle, and retires
// messages on confirmation. Medications grouped by trigger instant share one
// message; per-medication confirmation buttons resolve members one by one.
type Dispatcher struct {
	repo      store.Repo
	transport Transport
	log       *zap.Logger
	remindGap time.Duration // repeat interval for unconfirmed reminders
}

// NewDispatcher creates a dispatcher. remindGap is the repeat interval for
// unconfirmed reminders (default one hour at the config layer).
func NewDispatcher(repo store.Repo, transport Transport, log *zap.Logger, remindGap time.Duration) *Dispatcher {
	if remindGap <= 0 {
		remindGap = time.Hour
	}
	return &Dispatcher{repo: repo, transport: transport, log: log, remindGap: remindGap}
}

// ProcessUser runs one dispatch unit for a loaded user: flag invalid
// schedules, auto-resolve superseded occurrences, gate on DND, send new
// reminders for due items and repeat-edit outstanding ones. The caller holds
// the user's lock. Occurrences planned before missedBefore are rendered with
// a missed annotation (recovery pass); pass the zero time for normal ticks.
func (d *Dispatcher) ProcessUser(ctx context.Context, u *domain.User, now time.Time, missedBefore time.Time) error {
	dirty := d.flagInvalid(u)

	// Auto-resolution on schedule advance: a later due time for the same
	// medication arrived while the previous occurrence is still unconfirmed.
	// The earlier occurrence is counted as taken and its message retired. The
	// boundary occurrence stays unconfirmed so it flows through the normal
	// due path below and keeps being retried until it actually sends.
	for _, m := range u.ActiveMedications() {
		if m.Invalid || !m.HasReminder() || !unconfirmed(m) {
			continue
		}
		boundary, err := domain.NextDoseFor(u, m, m.NextDoseAt)
		if err != nil {
			continue // flagged invalid on the next pass
		}
		if boundary.After(now) {
			continue
		}
		d.deleteMessage(ctx, u.ChatID, *m.ReminderID)
		taken := m.NextDoseAt
		m.LastTaken = &taken
		m.NextDoseAt = boundary
		m.ClearReminder()
		dirty = true
		d.log.Info("auto-resolved superseded dose",
			zap.Int64("chatID", u.ChatID),
			zap.String("medication", m.Name),
			zap.Time("boundary", boundary))
	}

	if domain.DNDActive(u, now) {
		// Suppressed: items remain due and fire after the window ends.
		if dirty {
			return d.repo.SaveUser(ctx, u)
		}
		return nil
	}

	// Due items with an outstanding message are handled by the repeat cycle;
	// everything else gets a fresh send, grouped by trigger instant so
	// colliding medications share one message and one reminder reference.
	// DueMedications already orders by (instant, id).
	var toSend []*domain.Medication
	for _, m := range domain.DueMedications(u, now) {
		if !m.HasReminder() {
			toSend = append(toSend, m)
		}
	}

	for _, group := range groupByInstant(toSend) {
		missed := group[0].NextDoseAt.Before(missedBefore)
		text := reminderText(group, missed)
		ref, err := d.send(ctx, u.ChatID, text, actionsFor(group))
		if err != nil {
			if errors.Is(err, ErrRecipientGone) {
				return d.deactivate(ctx, u)
			}
			d.log.Warn("reminder send failed, will retry next tick",
				zap.Error(err), zap.Int64("chatID", u.ChatID))
			continue
		}
		sentAt := now
		for _, m := range group {
			r := ref
			m.ReminderID = &r
			m.ReminderSentAt = &sentAt
		}
		dirty = true
	}

	// Repeat cycle: refresh outstanding unconfirmed messages in place once
	// the repeat interval elapses. Never creates a duplicate; if the message
	// is gone, a replacement is sent and the reference swapped.
	for ref, group := range outstandingGroups(u) {
		sentAt := group[0].ReminderSentAt
		if sentAt == nil || now.Sub(*sentAt) < d.remindGap {
			continue
		}
		text := nagText(u, group)
		err := d.edit(ctx, u.ChatID, ref, text, actionsFor(group))
		if errors.Is(err, ErrMessageGone) {
			newRef, sendErr := d.send(ctx, u.ChatID, text, actionsFor(group))
			if sendErr != nil {
				if errors.Is(sendErr, ErrRecipientGone) {
					return d.deactivate(ctx, u)
				}
				d.log.Warn("reminder resend failed",
					zap.Error(sendErr), zap.Int64("chatID", u.ChatID))
				continue
			}
			for _, m := range group {
				r := newRef
				m.ReminderID = &r
			}
			err = nil
		}
		if err != nil {
			if errors.Is(err, ErrRecipientGone) {
				return d.deactivate(ctx, u)
			}
			d.log.Warn("reminder edit failed",
				zap.Error(err), zap.Int64("chatID", u.ChatID))
			continue
		}
		at := now
		for _, m := range group {
			m.ReminderSentAt = &at
		}
		dirty = true
	}

	if dirty {
		return d.repo.SaveUser(ctx, u)
	}
	return nil
}

// flagInvalid marks medications with malformed schedule definitions so they
// are excluded from due resolution until corrected by an edit. Never a crash.
func (d *Dispatcher) flagInvalid(u *domain.User) bool {
	dirty := false
	for _, m := range u.ActiveMedications() {
		if m.Invalid {
			continue
		}
		if err := m.Schedule.Validate(); err != nil {
			m.Invalid = true
			dirty = true
			d.log.Warn("medication schedule invalid, excluded until edited",
				zap.Int64("chatID", u.ChatID),
				zap.String("medication", m.Name),
				zap.Error(err))
		}
	}
	return dirty
}

// deactivate handles a permanent delivery failure: every medication of the
// user is soft-deleted and no further dispatch is attempted.
func (d *Dispatcher) deactivate(ctx context.Context, u *domain.User) error {
	d.log.Warn("recipient unreachable, deactivating user schedule",
		zap.Int64("chatID", u.ChatID))
	for _, m := range u.Medications {
		m.Active = false
		m.ClearReminder()
	}
	return d.repo.DeactivateAll(ctx, u.ChatID)
}

func unconfirmed(m *domain.Medication) bool {
	return m.LastTaken == nil || m.LastTaken.Before(m.NextDoseAt)
}

// groupByInstant buckets medications sharing an identical trigger point.
// Input must be sorted by instant.
func groupByInstant(meds []*domain.Medication) [][]*domain.Medication {
	var groups [][]*domain.Medication
	for _, m := range meds {
		n := len(groups)
		if n > 0 && groups[n-1][0].NextDoseAt.Equal(m.NextDoseAt) {
			groups[n-1] = append(groups[n-1], m)
			continue
		}
		groups = append(groups, []*domain.Medication{m})
	}
	return groups
}

// outstandingGroups collects active unconfirmed medications by shared
// reminder reference.
func outstandingGroups(u *domain.User) map[int64][]*domain.Medication {
	groups := make(map[int64][]*domain.Medication)
	for _, m := range u.ActiveMedications() {
		if m.Invalid || !m.HasReminder() || !unconfirmed(m) {
			continue
		}
		groups[*m.ReminderID] = append(groups[*m.ReminderID], m)
	}
	return groups
}

// --- transport calls with bounded exponential backoff ---

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, actions []Action) (int64, error) {
	var ref int64
	err := retry.Do(ctx, transientBackoff(), func(ctx context.Context) error {
		id, err := d.transport.Send(ctx, chatID, text, actions)
		if err != nil {
			return classify(err)
		}
		ref = id
		return nil
	})
	return ref, err
}

func (d *Dispatcher) edit(ctx context.Context, chatID, messageID int64, text string, actions []Action) error {
	return retry.Do(ctx, transientBackoff(), func(ctx context.Context) error {
		return classify(d.transport.Edit(ctx, chatID, messageID, text, actions))
	})
}

// deleteMessage removes a message, tolerating an already-gone target.
func (d *Dispatcher) deleteMessage(ctx context.Context, chatID, messageID int64) {
	err := retry.Do(ctx, transientBackoff(), func(ctx context.Context) error {
		return classify(d.transport.Delete(ctx, chatID, messageID))
	})
	if err != nil && !errors.Is(err, ErrMessageGone) {
		d.log.Debug("could not delete old reminder message",
			zap.Error(err), zap.Int64("chatID", chatID))
	}
}

// transientBackoff bounds retries of transient delivery errors.
func transientBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
}

// classify marks everything except the permanent sentinels as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrMessageGone) || errors.Is(err, ErrRecipientGone) {
		return err
	}
	return retry.RetryableError(err)
}

// --- message rendering ---

// reminderText renders the initial reminder for a group of medications due at
// the same instant. The missed flag is purely presentational.
func reminderText(meds []*domain.Medication, missed bool) string {
	var b strings.Builder
	if missed {
		b.WriteString("Time to take (missed):")
	} else {
		b.WriteString("Time to take:")
	}
	for _, m := range meds {
		b.WriteString("\n")
		b.WriteString(medLine(m))
	}
	return b.String()
}

// nagText renders the repeat reminder, reflecting how long the dose has been
// pending in the user's local time.
func nagText(u *domain.User, meds []*domain.Medication) string {
	var b strings.Builder
	b.WriteString("Reminder, still not taken")
	if since, err := domain.LocalizeTime(meds[0].NextDoseAt, u.TZ); err == nil {
		fmt.Fprintf(&b, " (due %s)", since)
	}
	b.WriteString(":")
	for _, m := range meds {
		b.WriteString("\n")
		b.WriteString(medLine(m))
	}
	return b.String()
}

// confirmedText is the terminal rendering of a fully resolved message.
func confirmedText() string {
	return "Taken ✅"
}

func medLine(m *domain.Medication) string {
	if m.Dosage != "" {
		return m.Name + " (" + m.Dosage + ")"
	}
	return m.Name
}

func actionsFor(meds []*domain.Medication) []Action {
	actions := make([]Action, 0, len(meds))
	for _, m := range meds {
		actions = append(actions, Action{MedicationID: m.ID, Label: m.Name})
	}
	return actions
}
