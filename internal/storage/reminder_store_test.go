package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahxzhu/pillbox/internal/model"
)

type memKV struct {
	mu     sync.Mutex
	data   map[string][]byte
	putErr error
	puts   int
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Close() error { return nil }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var day = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func clockAt(hh, mm int) *fakeClock {
	return &fakeClock{t: day.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)}
}

func dailyAt(times ...string) model.NewReminder {
	return model.NewReminder{Name: "Ibuprofen", Dosage: "200mg", Times: times, Repeat: model.RepeatDaily}
}

func newTestStore(t *testing.T, clock *fakeClock) (*ReminderStore, *memKV) {
	t.Helper()
	kv := newMemKV()
	s := NewReminderStore(kv, WithClock(clock.Now))
	s.Load(context.Background())
	return s, kv
}

func persisted(t *testing.T, kv *memKV) []model.Reminder {
	t.Helper()
	data, err := kv.Get(context.Background(), ReminderKey)
	require.NoError(t, err)
	var out []model.Reminder
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestAddComputesNextAt(t *testing.T) {
	clock := clockAt(8, 0)
	s, kv := newTestStore(t, clock)

	r, err := s.Add(context.Background(), dailyAt("09:00"))
	require.NoError(t, err)

	require.NotNil(t, r.NextAt)
	assert.Equal(t, day.Add(9*time.Hour), *r.NextAt)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Paused)
	assert.Equal(t, clock.Now(), r.CreatedAt)

	stored := persisted(t, kv)
	require.Len(t, stored, 1)
	assert.Equal(t, r.ID, stored[0].ID)
	assert.True(t, stored[0].NextAt.Equal(*r.NextAt))
}

func TestAddValidation(t *testing.T) {
	s, kv := newTestStore(t, clockAt(8, 0))
	ctx := context.Background()

	cases := []model.NewReminder{
		{Name: "  ", Times: []string{"09:00"}},
		{Name: "A", Times: nil},
		{Name: "A", Times: []string{"9am"}},
		{Name: "A", Times: []string{"09:00"}, Repeat: "weekly"},
	}
	for _, in := range cases {
		_, err := s.Add(ctx, in)
		assert.ErrorIs(t, err, model.ErrInvalidReminder, "input %+v", in)
	}
	assert.Empty(t, s.List())
	assert.Zero(t, kv.puts)
}

func TestAddDefaultsAndSMSRequiresPhone(t *testing.T) {
	s, _ := newTestStore(t, clockAt(8, 0))

	r, err := s.Add(context.Background(), model.NewReminder{Name: "A", Times: []string{"10:00"}, SendSMS: true})
	require.NoError(t, err)
	assert.Equal(t, model.RepeatDaily, r.Repeat)
	assert.False(t, r.SendSMS)
}

func TestOnceReminderAfterAllTimesHasNoNextAt(t *testing.T) {
	s, _ := newTestStore(t, clockAt(22, 0))

	r, err := s.Add(context.Background(), model.NewReminder{Name: "A", Times: []string{"09:00"}, Repeat: model.RepeatOnce})
	require.NoError(t, err)
	assert.Nil(t, r.NextAt)
	assert.Empty(t, s.Upcoming())
}

func TestMarkTakenDailyAdvances(t *testing.T) {
	clock := clockAt(8, 0)
	s, _ := newTestStore(t, clock)
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	clock.Set(day.Add(9 * time.Hour))
	_, removed, err := s.RecordFiring(ctx, r.ID, clock.Now())
	require.NoError(t, err)
	require.False(t, removed)

	clock.Set(day.Add(9*time.Hour + 5*time.Minute))
	got, removed, err := s.MarkTaken(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	require.NotNil(t, got.NextAt)
	assert.Equal(t, day.AddDate(0, 0, 1).Add(9*time.Hour), *got.NextAt)

	last := got.History[len(got.History)-1]
	assert.Equal(t, model.HistoryTaken, last.Type)
	assert.Equal(t, clock.Now(), last.At)
}

func TestMarkTakenOnceRemoves(t *testing.T) {
	s, kv := newTestStore(t, clockAt(8, 0))
	ctx := context.Background()

	r, err := s.Add(ctx, model.NewReminder{Name: "A", Times: []string{"09:00"}, Repeat: model.RepeatOnce})
	require.NoError(t, err)

	_, removed, err := s.MarkTaken(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok := s.Get(r.ID)
	assert.False(t, ok)
	assert.Empty(t, persisted(t, kv))
}

func TestSnooze(t *testing.T) {
	clock := clockAt(9, 0)
	s, _ := newTestStore(t, clock)
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	got, err := s.Snooze(ctx, r.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Minute), *got.NextAt)

	require.Len(t, got.History, 1)
	assert.Equal(t, model.HistorySnoozed, got.History[0].Type)
	require.NotNil(t, got.History[0].Meta)
	assert.Equal(t, 10, got.History[0].Meta.Minutes)

	_, err = s.Snooze(ctx, r.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidReminder)
}

func TestSnoozeBound(t *testing.T) {
	clock := clockAt(9, 0)
	s, _ := newTestStore(t, clock)
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	got, err := s.Snooze(ctx, r.ID, MaxSnoozeMinutes)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(24*time.Hour), *got.NextAt)

	for _, minutes := range []int{MaxSnoozeMinutes + 1, 1 << 40} {
		_, err = s.Snooze(ctx, r.ID, minutes)
		assert.ErrorIs(t, err, model.ErrInvalidReminder, "minutes=%d", minutes)
	}
	after, ok := s.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, *got.NextAt, *after.NextAt)
	assert.Len(t, after.History, 1)
}

func TestTogglePause(t *testing.T) {
	clock := clockAt(8, 0)
	s, _ := newTestStore(t, clock)
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	paused, err := s.TogglePause(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, paused.Paused)
	assert.False(t, paused.Armed())
	assert.Empty(t, s.Upcoming())

	// Resume two days later: the stale occurrence is recomputed.
	clock.Set(day.AddDate(0, 0, 2).Add(10 * time.Hour))
	resumed, err := s.TogglePause(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	assert.Equal(t, day.AddDate(0, 0, 3).Add(9*time.Hour), *resumed.NextAt)

	types := []model.HistoryType{resumed.History[0].Type, resumed.History[1].Type}
	assert.Equal(t, []model.HistoryType{model.HistoryPaused, model.HistoryResumed}, types)
}

func TestAddNoteAndMarkMissed(t *testing.T) {
	s, _ := newTestStore(t, clockAt(8, 0))
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	got, err := s.AddNote(ctx, r.ID, "after breakfast")
	require.NoError(t, err)
	assert.Equal(t, "after breakfast", got.Notes)
	assert.Equal(t, "after breakfast", got.History[0].Meta.Note)

	got, err = s.MarkMissed(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HistoryMissed, got.History[1].Type)
}

func TestUpdatePatch(t *testing.T) {
	clock := clockAt(8, 0)
	s, _ := newTestStore(t, clock)
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	name := "Paracetamol"
	got, err := s.Update(ctx, r.ID, model.Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Paracetamol", got.Name)
	assert.Equal(t, *r.NextAt, *got.NextAt, "unrelated patch keeps nextAt")

	times := []string{"12:00", "08:30"}
	got, err = s.Update(ctx, r.ID, model.Patch{Times: &times})
	require.NoError(t, err)
	assert.Equal(t, []string{"08:30", "12:00"}, got.Times)
	assert.Equal(t, day.Add(8*time.Hour+30*time.Minute), *got.NextAt)

	empty := []string{}
	_, err = s.Update(ctx, r.ID, model.Patch{Times: &empty})
	assert.ErrorIs(t, err, model.ErrInvalidReminder)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestStore(t, clockAt(8, 0))
	ctx := context.Background()

	assert.ErrorIs(t, s.Remove(ctx, "nope"), ErrNotFound)
	_, err := s.Snooze(ctx, "nope", 5)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.MarkTaken(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TogglePause(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistFailureLeavesMemoryUnchanged(t *testing.T) {
	s, kv := newTestStore(t, clockAt(8, 0))
	ctx := context.Background()

	r, err := s.Add(ctx, dailyAt("09:00"))
	require.NoError(t, err)

	kv.putErr = errors.New("disk full")
	_, err = s.Snooze(ctx, r.ID, 10)
	require.Error(t, err)

	got, ok := s.Get(r.ID)
	require.True(t, ok)
	assert.Equal(t, *r.NextAt, *got.NextAt)
	assert.Empty(t, got.History)
}

func TestReturnedRemindersAreCopies(t *testing.T) {
	s, _ := newTestStore(t, clockAt(8, 0))
	r, err := s.Add(context.Background(), dailyAt("09:00"))
	require.NoError(t, err)

	r.Times[0] = "23:59"
	list := s.List()
	list[0].Name = "changed"

	got, _ := s.Get(r.ID)
	assert.Equal(t, "09:00", got.Times[0])
	assert.Equal(t, "Ibuprofen", got.Name)
}

func TestLoadCorruptDataIsEmpty(t *testing.T) {
	kv := newMemKV()
	kv.data[ReminderKey] = []byte("{{{")
	s := NewReminderStore(kv)
	s.Load(context.Background())
	assert.Empty(t, s.List())
}

func TestLoadAndReconcile(t *testing.T) {
	clock := clockAt(8, 0)
	path := filepath.Join(t.TempDir(), "pillbox.json")
	ctx := context.Background()

	s := NewReminderStore(NewFileKV(path), WithClock(clock.Now))
	s.Load(ctx)
	daily, err := s.Add(ctx, dailyAt("09:00", "21:00"))
	require.NoError(t, err)
	once, err := s.Add(ctx, model.NewReminder{Name: "B", Times: []string{"10:00"}, Repeat: model.RepeatOnce})
	require.NoError(t, err)
	paused, err := s.Add(ctx, dailyAt("07:00"))
	require.NoError(t, err)
	_, err = s.TogglePause(ctx, paused.ID)
	require.NoError(t, err)

	// Process restarts the next day at 12:00; nothing is fired retroactively.
	clock.Set(day.AddDate(0, 0, 1).Add(12 * time.Hour))
	reloaded := NewReminderStore(NewFileKV(path), WithClock(clock.Now))
	reloaded.Load(ctx)
	require.Len(t, reloaded.List(), 3)

	n, err := reloaded.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := reloaded.Get(daily.ID)
	assert.Equal(t, day.AddDate(0, 0, 1).Add(21*time.Hour), *got.NextAt)
	assert.Empty(t, got.History)

	got, _ = reloaded.Get(once.ID)
	assert.Nil(t, got.NextAt)

	got, _ = reloaded.Get(paused.ID)
	assert.True(t, got.Paused)

	n, err = reloaded.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second reconcile is a no-op")
}
