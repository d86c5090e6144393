package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vvzvlad/medical-bot/internal/domain"
	"github.com/vvzvlad/medical-bot/internal/store"
)

// Manager is the mutation entry point for user schedules: intake
// confirmations plus the validated structured operations (add, remove, time
// change, dosage change, timezone, DND). Every mutation runs under the
// per-user lock, recomputes the planned instant immediately and resolves or
// rewrites any active reminder before persisting.
type Manager struct {
	repo      store.Repo
	disp      *Dispatcher
	locks     *UserLocks
	log       *zap.Logger
	defaultTZ string
	now       func() time.Time
}

// NewManager creates a schedule manager sharing the scheduler's lock registry.
func NewManager(repo store.Repo, disp *Dispatcher, locks *UserLocks, log *zap.Logger, defaultTZ string) *Manager {
	return &Manager{
		repo:      repo,
		disp:      disp,
		locks:     locks,
		log:       log,
		defaultTZ: defaultTZ,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// EnsureUser loads the user record, creating it with defaults on first
// interaction.
func (s *Manager) EnsureUser(ctx context.Context, chatID int64) (*domain.User, error) {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	u = &domain.User{ChatID: chatID, TZ: s.defaultTZ, CreatedAt: s.now()}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("created user", zap.Int64("chatID", chatID), zap.String("tz", u.TZ))
	return u, nil
}

// UserSchedule returns the user record with medications for display.
func (s *Manager) UserSchedule(ctx context.Context, chatID int64) (*domain.User, error) {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)
	return s.repo.GetUser(ctx, chatID)
}

// Confirm records an intake confirmation for a medication. It retires or
// trims the shared reminder message, advances lastTaken (never rewinds it)
// and recomputes the planned instant.
//
// An early confirmation (before the planned instant) skips one slot: the dose
// is treated as covering the upcoming occurrence, so the slot after it
// becomes the new plan. See domain.NextAfterConfirmation.
func (s *Manager) Confirm(ctx context.Context, chatID int64, medID string, takenAt time.Time) error {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return err
	}
	m := u.Medication(medID)
	if m == nil || !m.Active {
		return domain.ErrMedNotFound
	}

	takenAt = takenAt.UTC()
	if m.LastTaken != nil && takenAt.Before(*m.LastTaken) {
		takenAt = *m.LastTaken
	}

	next, calcErr := domain.NextAfterConfirmation(u, m, takenAt)

	if m.HasReminder() {
		s.resolveReminder(ctx, u, m)
	}

	m.LastTaken = &takenAt
	if calcErr != nil {
		m.Invalid = true
		s.log.Warn("schedule recomputation failed on confirm",
			zap.Int64("chatID", chatID),
			zap.String("medication", m.Name),
			zap.Error(calcErr))
	} else {
		m.NextDoseAt = next
	}

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return err
	}
	s.log.Info("dose confirmed",
		zap.Int64("chatID", chatID),
		zap.String("medication", m.Name),
		zap.Time("takenAt", takenAt),
		zap.Time("nextDose", m.NextDoseAt))
	return nil
}

// resolveReminder clears the medication's reminder reference and updates the
// shared message: remaining unconfirmed members keep the message with this
// item removed; the last confirmation edits it into the terminal state.
func (s *Manager) resolveReminder(ctx context.Context, u *domain.User, m *domain.Medication) {
	ref := *m.ReminderID
	m.ClearReminder()

	var remaining []*domain.Medication
	for _, other := range u.ActiveMedications() {
		if other.ID != m.ID && other.HasReminder() && *other.ReminderID == ref && unconfirmed(other) {
			remaining = append(remaining, other)
		}
	}

	var err error
	if len(remaining) > 0 {
		err = s.disp.edit(ctx, u.ChatID, ref, reminderText(remaining, false), actionsFor(remaining))
	} else {
		err = s.disp.edit(ctx, u.ChatID, ref, confirmedText(), nil)
	}
	if err != nil && !errors.Is(err, ErrMessageGone) {
		s.log.Debug("reminder message update failed on confirm",
			zap.Error(err), zap.Int64("chatID", u.ChatID))
	}
}

// AddMedication creates a medication for the user, deduplicating against
// existing entries. For fixed schedules the dedup key is (name, time): times
// already scheduled under the same name are skipped and reported back. For
// interval schedules the key is (name): a second interval entry with the same
// name is rejected outright.
func (s *Manager) AddMedication(ctx context.Context, chatID int64, name, dosage string, sched domain.Schedule) (*domain.Medication, []string, error) {
	if err := sched.Validate(); err != nil {
		return nil, nil, err
	}

	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}

	var skipped []string
	if sched.Kind == domain.KindFixed {
		taken := existingTimes(u, name)
		var keep []int
		for _, t := range sched.SortedTimes() {
			if taken[t] {
				skipped = append(skipped, domain.FormatMinutes(t))
				continue
			}
			keep = append(keep, t)
		}
		if len(keep) == 0 {
			return nil, skipped, domain.ErrDuplicateEntry
		}
		sched.Times = keep
	} else {
		for _, other := range u.ActiveMedications() {
			if other.Schedule.Kind == domain.KindInterval && strings.EqualFold(other.Name, name) {
				return nil, nil, domain.ErrDuplicateEntry
			}
		}
	}

	now := s.now()
	m := &domain.Medication{
		ID:        uuid.NewString(),
		Name:      name,
		Dosage:    dosage,
		Schedule:  sched,
		Active:    true,
		CreatedAt: now,
	}
	u.Medications = append(u.Medications, m)

	next, err := domain.NextDoseFor(u, m, now)
	if err != nil {
		return nil, skipped, err
	}
	m.NextDoseAt = next

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, skipped, err
	}
	s.log.Info("medication added",
		zap.Int64("chatID", chatID),
		zap.String("medication", name),
		zap.Time("nextDose", next))
	return m, skipped, nil
}

// RemoveMedications soft-deletes medications by id and retires their
// reminders. Returns the number of medications removed.
func (s *Manager) RemoveMedications(ctx context.Context, chatID int64, ids []string) (int, error) {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		m := u.Medication(id)
		if m == nil || !m.Active {
			continue
		}
		if m.HasReminder() {
			s.disp.deleteMessage(ctx, chatID, *m.ReminderID)
			m.ClearReminder()
		}
		m.Active = false
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.repo.SaveUser(ctx, u); err != nil {
		return 0, err
	}
	s.log.Info("medications removed", zap.Int64("chatID", chatID), zap.Int("count", removed))
	return removed, nil
}

// ChangeTime replaces a medication's schedule definition. The intake history
// marker and any active reminder are reset and the planned instant is
// recomputed from now.
func (s *Manager) ChangeTime(ctx context.Context, chatID int64, medID string, sched domain.Schedule) (*domain.Medication, error) {
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m := u.Medication(medID)
	if m == nil || !m.Active {
		return nil, domain.ErrMedNotFound
	}

	if m.HasReminder() {
		s.disp.deleteMessage(ctx, chatID, *m.ReminderID)
		m.ClearReminder()
	}
	m.Schedule = sched
	m.LastTaken = nil
	m.Invalid = false

	next, err := domain.NextDoseFor(u, m, s.now())
	if err != nil {
		return nil, err
	}
	m.NextDoseAt = next

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("medication time changed",
		zap.Int64("chatID", chatID),
		zap.String("medication", m.Name),
		zap.Time("nextDose", next))
	return m, nil
}

// ChangeDosage updates the dosage text. The schedule definition is unchanged,
// so the planned instant stays put; an outstanding reminder is rewritten in
// place to show the new dosage.
func (s *Manager) ChangeDosage(ctx context.Context, chatID int64, medID, dosage string) (*domain.Medication, error) {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m := u.Medication(medID)
	if m == nil || !m.Active {
		return nil, domain.ErrMedNotFound
	}

	m.Dosage = dosage
	if m.HasReminder() {
		ref := *m.ReminderID
		var members []*domain.Medication
		for _, other := range u.ActiveMedications() {
			if other.HasReminder() && *other.ReminderID == ref && unconfirmed(other) {
				members = append(members, other)
			}
		}
		if len(members) > 0 {
			err := s.disp.edit(ctx, chatID, ref, reminderText(members, false), actionsFor(members))
			if err != nil && !errors.Is(err, ErrMessageGone) {
				s.log.Debug("reminder rewrite failed on dosage change",
					zap.Error(err), zap.Int64("chatID", chatID))
			}
		}
	}

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return nil, err
	}
	return m, nil
}

// SetTimezone updates the user's timezone and recomputes planned instants,
// which are defined in local civil time for fixed schedules. Medications with
// an outstanding unconfirmed reminder keep their plan so a pending due item
// is not silently pushed into the future.
func (s *Manager) SetTimezone(ctx context.Context, chatID int64, tz string) error {
	canonical, err := domain.ValidateTZ(tz)
	if err != nil {
		return err
	}

	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return err
	}
	u.TZ = canonical

	now := s.now()
	for _, m := range u.ActiveMedications() {
		if m.Invalid || m.HasReminder() {
			continue
		}
		next, err := domain.NextDoseFor(u, m, now)
		if err != nil {
			m.Invalid = true
			continue
		}
		m.NextDoseAt = next
	}

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return err
	}
	s.log.Info("timezone updated", zap.Int64("chatID", chatID), zap.String("tz", canonical))
	return nil
}

// SetDND updates the do-not-disturb window. With postpone enabled, planned
// instants already inside the window are shifted to its end.
func (s *Manager) SetDND(ctx context.Context, chatID int64, enabled bool, fromM, toM int, postpone bool) error {
	s.locks.Lock(chatID)
	defer s.locks.Unlock(chatID)

	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return err
	}
	u.DNDEnabled = enabled
	u.DNDFromM = fromM
	u.DNDToM = toM
	u.DNDPostpone = postpone

	if enabled && postpone {
		for _, m := range u.ActiveMedications() {
			if m.Invalid || m.HasReminder() {
				continue
			}
			m.NextDoseAt = domain.PostponeDND(u, m.NextDoseAt)
		}
	}

	if err := s.repo.SaveUser(ctx, u); err != nil {
		return err
	}
	s.log.Info("dnd updated",
		zap.Int64("chatID", chatID),
		zap.Bool("enabled", enabled),
		zap.String("window", fmt.Sprintf("%s–%s", domain.FormatMinutes(fromM), domain.FormatMinutes(toM))))
	return nil
}

// existingTimes collects fixed slots already scheduled under the given name
// (case-insensitive) across the user's active medications.
func existingTimes(u *domain.User, name string) map[int]bool {
	taken := make(map[int]bool)
	for _, other := range u.ActiveMedications() {
		if other.Schedule.Kind != domain.KindFixed || !strings.EqualFold(other.Name, name) {
			continue
		}
		for _, t := range other.Schedule.Times {
			taken[t] = true
		}
	}
	return taken
}

