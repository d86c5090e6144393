package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vvzvlad/medical-bot/internal/domain"
	"github.com/vvzvlad/medical-bot/internal/store"
)

type txMsg struct {
	chatID  int64
	msgID   int64
	text    string
	actions []Action
}

// fakeTransport records every call and returns injected errors.
type fakeTransport struct {
	mu        sync.Mutex
	nextID    int64
	sends     []txMsg
	edits     []txMsg
	deletes   []int64
	sendErr   error
	editErr   error
	deleteErr error
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, text string, actions []Action) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.sends = append(f.sends, txMsg{chatID: chatID, msgID: f.nextID, text: text, actions: actions})
	return f.nextID, nil
}

func (f *fakeTransport) Edit(_ context.Context, chatID, messageID int64, text string, actions []Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, txMsg{chatID: chatID, msgID: messageID, text: text, actions: actions})
	return nil
}

func (f *fakeTransport) Delete(_ context.Context, _, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, messageID)
	return nil
}

func newTestEnv(t *testing.T) (*store.SQLiteRepo, *fakeTransport, *Dispatcher) {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	tr := &fakeTransport{}
	return repo, tr, NewDispatcher(repo, tr, zap.NewNop(), time.Hour)
}

func schedUser(chatID int64) *domain.User {
	return &domain.User{
		ChatID:    chatID,
		TZ:        "UTC",
		CreatedAt: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fixedMed(id, name string, nextAt time.Time, times ...int) *domain.Medication {
	return &domain.Medication{
		ID:         id,
		Name:       name,
		Schedule:   domain.Schedule{Kind: domain.KindFixed, Times: times},
		NextDoseAt: nextAt,
		Active:     true,
		CreatedAt:  time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProcessUser_GroupedSendSharesMessage(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2025, time.May, 5, 9, 1, 0, 0, time.UTC)
	at9 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	at8 := time.Date(2025, time.May, 5, 8, 0, 0, 0, time.UTC)

	u := schedUser(1)
	u.Medications = []*domain.Medication{
		fixedMed("a", "Aspirin", at9, 9*60),
		fixedMed("b", "Botulin", at9, 9*60),
		fixedMed("c", "Calcium", at8, 8*60),
	}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))

	require.Len(t, tr.sends, 2)
	// Earlier instant sends first; the colliding pair shares the second message.
	assert.Len(t, tr.sends[0].actions, 1)
	assert.Len(t, tr.sends[1].actions, 2)
	assert.Contains(t, tr.sends[1].text, "Aspirin")
	assert.Contains(t, tr.sends[1].text, "Botulin")

	got, err := repo.GetUser(ctx, 1)
	require.NoError(t, err)
	a, b, c := got.Medication("a"), got.Medication("b"), got.Medication("c")
	require.NotNil(t, a.ReminderID)
	require.NotNil(t, b.ReminderID)
	require.NotNil(t, c.ReminderID)
	assert.Equal(t, *a.ReminderID, *b.ReminderID)
	assert.NotEqual(t, *a.ReminderID, *c.ReminderID)
}

func TestProcessUser_RepeatEditsInPlace(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2025, time.May, 5, 11, 30, 0, 0, time.UTC)
	planned := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	ref := int64(77)
	sentAt := planned

	u := schedUser(2)
	m := fixedMed("a", "Aspirin", planned, 9*60)
	m.ReminderID = &ref
	m.ReminderSentAt = &sentAt
	u.Medications = []*domain.Medication{m}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))

	assert.Empty(t, tr.sends, "repeat must never create a duplicate message")
	require.Len(t, tr.edits, 1)
	assert.Equal(t, ref, tr.edits[0].msgID)
	assert.Contains(t, tr.edits[0].text, "still not taken")

	got, err := repo.GetUser(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, got.Medication("a").ReminderSentAt)
	assert.True(t, got.Medication("a").ReminderSentAt.Equal(now))
}

func TestProcessUser_RepeatWithinGapIsQuiet(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	planned := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	now := planned.Add(20 * time.Minute)
	ref := int64(77)
	sentAt := planned

	u := schedUser(3)
	m := fixedMed("a", "Aspirin", planned, 9*60)
	m.ReminderID = &ref
	m.ReminderSentAt = &sentAt
	u.Medications = []*domain.Medication{m}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))
	assert.Empty(t, tr.sends)
	assert.Empty(t, tr.edits)
}

func TestProcessUser_ResendWhenMessageGone(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	planned := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	now := planned.Add(2 * time.Hour)
	ref := int64(77)
	sentAt := planned

	u := schedUser(4)
	m := fixedMed("a", "Aspirin", planned, 9*60)
	m.ReminderID = &ref
	m.ReminderSentAt = &sentAt
	u.Medications = []*domain.Medication{m}
	require.NoError(t, repo.SaveUser(ctx, u))

	tr.editErr = ErrMessageGone
	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))

	require.Len(t, tr.sends, 1)
	got, err := repo.GetUser(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, got.Medication("a").ReminderID)
	assert.Equal(t, tr.sends[0].msgID, *got.Medication("a").ReminderID)
	assert.NotEqual(t, ref, *got.Medication("a").ReminderID)
}

func TestProcessUser_RecipientGoneDeactivatesAll(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2025, time.May, 5, 9, 1, 0, 0, time.UTC)
	planned := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

	u := schedUser(5)
	u.Medications = []*domain.Medication{
		fixedMed("a", "Aspirin", planned, 9*60),
		fixedMed("b", "Botulin", planned.Add(-time.Hour), 8*60),
	}
	require.NoError(t, repo.SaveUser(ctx, u))

	tr.sendErr = ErrRecipientGone
	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))

	got, err := repo.GetUser(ctx, 5)
	require.NoError(t, err)
	for _, m := range got.Medications {
		assert.False(t, m.Active, "medication %s must be deactivated", m.Name)
		assert.Nil(t, m.ReminderID)
	}
}

func TestProcessUser_TransientSendLeavesItemDue(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2025, time.May, 5, 9, 1, 0, 0, time.UTC)
	planned := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)

	u := schedUser(6)
	u.Medications = []*domain.Medication{fixedMed("a", "Aspirin", planned, 9*60)}
	require.NoError(t, repo.SaveUser(ctx, u))

	tr.sendErr = errors.New("telegram: 502")
	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))

	got, err := repo.GetUser(ctx, 6)
	require.NoError(t, err)
	m := got.Medication("a")
	assert.True(t, m.Active)
	assert.Nil(t, m.ReminderID, "failed send must not record a reference")
	assert.NotEmpty(t, domain.DueMedications(got, now), "item stays due for the next cycle")
}

func TestProcessUser_DNDSuppressesDispatch(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2025, time.May, 5, 23, 0, 0, 0, time.UTC)
	planned := time.Date(2025, time.May, 5, 22, 30, 0, 0, time.UTC)

	u := schedUser(7)
	u.DNDEnabled = true
	u.DNDFromM = 22 * 60
	u.DNDToM = 8 * 60
	u.Medications = []*domain.Medication{fixedMed("a", "Aspirin", planned, 22*60+30)}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))
	assert.Empty(t, tr.sends)
	assert.Empty(t, tr.edits)

	// After the window the same item dispatches normally.
	after := time.Date(2025, time.May, 6, 8, 30, 0, 0, time.UTC)
	got, err := repo.GetUser(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, d.ProcessUser(ctx, got, after, time.Time{}))
	assert.Len(t, tr.sends, 1)
}

func TestProcessUser_AutoResolvesSuperseded(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	planned := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	boundary := time.Date(2025, time.May, 6, 9, 0, 0, 0, time.UTC)
	now := boundary.Add(30 * time.Minute)
	ref := int64(55)
	sentAt := planned

	u := schedUser(8)
	m := fixedMed("a", "Aspirin", planned, 9*60)
	m.ReminderID = &ref
	m.ReminderSentAt = &sentAt
	u.Medications = []*domain.Medication{m}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))

	require.Len(t, tr.deletes, 1)
	assert.Equal(t, ref, tr.deletes[0])
	require.Len(t, tr.sends, 1, "new occurrence must be dispatched in the same pass")

	got, err := repo.GetUser(ctx, 8)
	require.NoError(t, err)
	gm := got.Medication("a")
	require.NotNil(t, gm.LastTaken)
	assert.True(t, gm.LastTaken.Equal(planned), "earlier occurrence counted as taken")
	assert.True(t, gm.NextDoseAt.Equal(boundary))
	assert.True(t, gm.LastTaken.Before(gm.NextDoseAt), "boundary occurrence stays unconfirmed")
	require.NotNil(t, gm.ReminderID)
	assert.Equal(t, tr.sends[0].msgID, *gm.ReminderID)
}

func TestProcessUser_SupersededReplacementKeepsCycling(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	day1 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, time.May, 6, 9, 0, 0, 0, time.UTC)
	day3 := time.Date(2025, time.May, 7, 9, 0, 0, 0, time.UTC)
	ref := int64(55)
	sentAt := day1

	u := schedUser(12)
	m := fixedMed("a", "Aspirin", day1, 9*60)
	m.ReminderID = &ref
	m.ReminderSentAt = &sentAt
	u.Medications = []*domain.Medication{m}
	require.NoError(t, repo.SaveUser(ctx, u))

	// Day 2: the old occurrence is auto-resolved and a replacement sent.
	require.NoError(t, d.ProcessUser(ctx, u, day2.Add(30*time.Minute), time.Time{}))
	require.Len(t, tr.sends, 1)

	// Two hours later the replacement must enter the repeat cycle.
	got, err := repo.GetUser(ctx, 12)
	require.NoError(t, err)
	require.NoError(t, d.ProcessUser(ctx, got, day2.Add(2*time.Hour), time.Time{}))
	require.Len(t, tr.edits, 1, "replacement reminder must be nagged after the repeat interval")
	assert.Equal(t, tr.sends[0].msgID, tr.edits[0].msgID)

	// Day 3: the still-unconfirmed replacement is superseded in turn.
	got, err = repo.GetUser(ctx, 12)
	require.NoError(t, err)
	require.NoError(t, d.ProcessUser(ctx, got, day3.Add(30*time.Minute), time.Time{}))
	require.Len(t, tr.sends, 2)
	assert.Contains(t, tr.deletes, tr.sends[0].msgID)

	final, err := repo.GetUser(ctx, 12)
	require.NoError(t, err)
	fm := final.Medication("a")
	assert.True(t, fm.NextDoseAt.Equal(day3), "plan must keep advancing without a confirmation")
	require.NotNil(t, fm.LastTaken)
	assert.True(t, fm.LastTaken.Equal(day2))
}

func TestProcessUser_AutoResolveSendFailureRetriesNextTick(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	day1 := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, time.May, 6, 9, 0, 0, 0, time.UTC)
	ref := int64(55)
	sentAt := day1

	u := schedUser(13)
	m := fixedMed("a", "Aspirin", day1, 9*60)
	m.ReminderID = &ref
	m.ReminderSentAt = &sentAt
	u.Medications = []*domain.Medication{m}
	require.NoError(t, repo.SaveUser(ctx, u))

	tr.sendErr = errors.New("telegram: 502")
	require.NoError(t, d.ProcessUser(ctx, u, day2.Add(30*time.Minute), time.Time{}))
	assert.Empty(t, tr.sends)

	got, err := repo.GetUser(ctx, 13)
	require.NoError(t, err)
	assert.NotEmpty(t, domain.DueMedications(got, day2.Add(30*time.Minute)),
		"boundary occurrence must remain due after a failed send")

	tr.sendErr = nil
	require.NoError(t, d.ProcessUser(ctx, got, day2.Add(31*time.Minute), time.Time{}))
	require.Len(t, tr.sends, 1)
}

func TestProcessUser_MissedAnnotationAndIdempotence(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	boot := time.Date(2025, time.May, 5, 12, 0, 0, 0, time.UTC)
	planned := boot.Add(-3 * time.Hour)

	u := schedUser(9)
	u.Medications = []*domain.Medication{fixedMed("a", "Aspirin", planned, 9*60)}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, boot, boot))
	require.Len(t, tr.sends, 1)
	assert.True(t, strings.HasPrefix(tr.sends[0].text, "Time to take (missed):"))

	// Repeating the recovery pass must not send or edit again.
	got, err := repo.GetUser(ctx, 9)
	require.NoError(t, err)
	require.NoError(t, d.ProcessUser(ctx, got, boot, boot))
	assert.Len(t, tr.sends, 1)
	assert.Empty(t, tr.edits)
}

func TestProcessUser_CurrentDueIsNotMissed(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	boot := time.Date(2025, time.May, 5, 9, 0, 30, 0, time.UTC)
	planned := time.Date(2025, time.May, 5, 9, 0, 30, 0, time.UTC)

	u := schedUser(10)
	u.Medications = []*domain.Medication{fixedMed("a", "Aspirin", planned, 9*60)}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, boot, boot))
	require.Len(t, tr.sends, 1)
	assert.True(t, strings.HasPrefix(tr.sends[0].text, "Time to take:"))
}

func TestProcessUser_FlagsInvalidSchedule(t *testing.T) {
	repo, tr, d := newTestEnv(t)
	ctx := context.Background()

	now := time.Date(2025, time.May, 5, 9, 1, 0, 0, time.UTC)
	u := schedUser(11)
	bad := fixedMed("a", "Aspirin", now.Add(-time.Hour))
	bad.Schedule.Times = nil
	u.Medications = []*domain.Medication{bad}
	require.NoError(t, repo.SaveUser(ctx, u))

	require.NoError(t, d.ProcessUser(ctx, u, now, time.Time{}))
	assert.Empty(t, tr.sends)

	got, err := repo.GetUser(ctx, 11)
	require.NoError(t, err)
	assert.True(t, got.Medication("a").Invalid)
}
