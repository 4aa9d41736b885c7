package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noahxzhu/pillbox/internal/model"
	"github.com/noahxzhu/pillbox/internal/occurrence"
)

// ReminderKey is the fixed key the reminder collection is persisted under.
const ReminderKey = "pillbox.reminders.v1"

// MaxSnoozeMinutes caps a single snooze at one day.
const MaxSnoozeMinutes = 24 * 60

// ErrNotFound is returned when no reminder has the requested id.
var ErrNotFound = errors.New("reminder not found")

// ReminderStore owns the reminder collection. Every mutation builds a new
// slice, persists it and only then swaps it in, so the stored snapshot and
// memory never disagree.
type ReminderStore struct {
	mu        sync.RWMutex
	kv        KV
	key       string
	now       func() time.Time
	reminders []model.Reminder
}

type Option func(*ReminderStore)

// WithClock replaces time.Now for every timestamp the store records.
func WithClock(now func() time.Time) Option {
	return func(s *ReminderStore) { s.now = now }
}

// WithKey overrides ReminderKey.
func WithKey(key string) Option {
	return func(s *ReminderStore) { s.key = key }
}

func NewReminderStore(kv KV, opts ...Option) *ReminderStore {
	s := &ReminderStore{
		kv:        kv,
		key:       ReminderKey,
		now:       time.Now,
		reminders: []model.Reminder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted collection. Missing or unreadable data leaves
// the store empty; it is never fatal.
func (s *ReminderStore) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reminders = []model.Reminder{}

	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			slog.Warn("Failed to read reminders, starting empty", "key", s.key, "error", err)
		}
		return
	}

	var loaded []model.Reminder
	if err := json.Unmarshal(data, &loaded); err != nil {
		slog.Warn("Stored reminders are corrupt, starting empty", "key", s.key, "error", err)
		return
	}

	for _, r := range loaded {
		if r.ID == "" {
			slog.Warn("Skipping stored reminder without id", "name", r.Name)
			continue
		}
		s.reminders = append(s.reminders, r)
	}
	slog.Info("Reminders loaded", "count", len(s.reminders))
}

// Reconcile advances every active reminder whose next occurrence is unset
// or already in the past. Occurrences missed while the process was down
// are skipped, not fired.
func (s *ReminderStore) Reconcile(ctx context.Context) (int, error) {
	now := s.now()
	changed := 0
	err := s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		for i := range list {
			r := &list[i]
			if r.Paused {
				continue
			}
			if r.NextAt != nil && !r.NextAt.Before(now) {
				continue
			}
			next := nextAt(r.Times, r.Repeat, now)
			if next == nil && r.NextAt == nil {
				continue
			}
			r.NextAt = next
			changed++
		}
		if changed == 0 {
			return nil, errUnchanged
		}
		return list, nil
	})
	if errors.Is(err, errUnchanged) {
		return 0, nil
	}
	return changed, err
}

// List returns a copy of every reminder in insertion order.
func (s *ReminderStore) List() []model.Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.reminders)
}

func (s *ReminderStore) Get(id string) (model.Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reminders {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return model.Reminder{}, false
}

// Upcoming returns active reminders ordered by their next occurrence.
func (s *ReminderStore) Upcoming() []model.Reminder {
	out := []model.Reminder{}
	for _, r := range s.List() {
		if r.Armed() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextAt.Before(*out[j].NextAt)
	})
	return out
}

func (s *ReminderStore) Add(ctx context.Context, in model.NewReminder) (model.Reminder, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Reminder{}, fmt.Errorf("%w: medicine name is required", model.ErrInvalidReminder)
	}
	times, err := occurrence.ValidateTimes(in.Times)
	if err != nil {
		return model.Reminder{}, err
	}
	repeat := in.Repeat
	if repeat == "" {
		repeat = model.RepeatDaily
	}
	if !repeat.Valid() {
		return model.Reminder{}, fmt.Errorf("%w: unknown repeat %q", model.ErrInvalidReminder, repeat)
	}
	if in.PatientAge != nil && *in.PatientAge < 0 {
		return model.Reminder{}, fmt.Errorf("%w: patient age must not be negative", model.ErrInvalidReminder)
	}

	now := s.now()
	phone := strings.TrimSpace(in.Phone)
	r := model.Reminder{
		ID:          uuid.New().String(),
		Name:        name,
		Dosage:      strings.TrimSpace(in.Dosage),
		Times:       times,
		Repeat:      repeat,
		NextAt:      nextAt(times, repeat, now),
		PatientName: strings.TrimSpace(in.PatientName),
		PatientAge:  in.PatientAge,
		Phone:       phone,
		SendSMS:     in.SendSMS && phone != "",
		CreatedAt:   now,
	}

	err = s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		return append(list, r), nil
	})
	if err != nil {
		return model.Reminder{}, err
	}
	return r.Clone(), nil
}

func (s *ReminderStore) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		for i, r := range list {
			if r.ID == id {
				return append(list[:i], list[i+1:]...), nil
			}
		}
		return nil, ErrNotFound
	})
}

// Update applies a patch. Changing times or repeat recomputes nextAt.
func (s *ReminderStore) Update(ctx context.Context, id string, p model.Patch) (model.Reminder, error) {
	var times []string
	if p.Times != nil {
		var err error
		if times, err = occurrence.ValidateTimes(*p.Times); err != nil {
			return model.Reminder{}, err
		}
	}
	if p.Repeat != nil && !p.Repeat.Valid() {
		return model.Reminder{}, fmt.Errorf("%w: unknown repeat %q", model.ErrInvalidReminder, *p.Repeat)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return model.Reminder{}, fmt.Errorf("%w: medicine name is required", model.ErrInvalidReminder)
	}

	r, _, err := s.modify(ctx, id, func(r *model.Reminder) bool {
		if p.Name != nil {
			r.Name = strings.TrimSpace(*p.Name)
		}
		if p.Dosage != nil {
			r.Dosage = strings.TrimSpace(*p.Dosage)
		}
		if p.PatientName != nil {
			r.PatientName = strings.TrimSpace(*p.PatientName)
		}
		if p.PatientAge != nil {
			age := *p.PatientAge
			r.PatientAge = &age
		}
		if p.Phone != nil {
			r.Phone = strings.TrimSpace(*p.Phone)
		}
		if p.SendSMS != nil {
			r.SendSMS = *p.SendSMS
		}
		if r.Phone == "" {
			r.SendSMS = false
		}
		if p.Notes != nil {
			r.Notes = *p.Notes
		}
		if times != nil || p.Repeat != nil {
			if times != nil {
				r.Times = times
			}
			if p.Repeat != nil {
				r.Repeat = *p.Repeat
			}
			r.NextAt = nextAt(r.Times, r.Repeat, s.now())
		}
		return false
	})
	return r, err
}

// TogglePause flips the paused flag. Resuming a reminder whose next
// occurrence is unset or stale recomputes it from now.
func (s *ReminderStore) TogglePause(ctx context.Context, id string) (model.Reminder, error) {
	r, _, err := s.modify(ctx, id, func(r *model.Reminder) bool {
		now := s.now()
		r.Paused = !r.Paused
		if r.Paused {
			r.History = append(r.History, model.HistoryEntry{Type: model.HistoryPaused, At: now})
			return false
		}
		r.History = append(r.History, model.HistoryEntry{Type: model.HistoryResumed, At: now})
		if r.NextAt == nil || r.NextAt.Before(now) {
			r.NextAt = nextAt(r.Times, r.Repeat, now)
		}
		return false
	})
	return r, err
}

func (s *ReminderStore) Snooze(ctx context.Context, id string, minutes int) (model.Reminder, error) {
	if minutes <= 0 || minutes > MaxSnoozeMinutes {
		return model.Reminder{}, fmt.Errorf("%w: snooze minutes must be between 1 and %d", model.ErrInvalidReminder, MaxSnoozeMinutes)
	}
	r, _, err := s.modify(ctx, id, func(r *model.Reminder) bool {
		now := s.now()
		when := now.Add(time.Duration(minutes) * time.Minute)
		r.NextAt = &when
		r.History = append(r.History, model.HistoryEntry{
			Type: model.HistorySnoozed,
			At:   now,
			Meta: &model.HistoryMeta{Minutes: minutes},
		})
		return false
	})
	return r, err
}

// MarkTaken records an acknowledgment. Daily reminders advance to their
// next occurrence; one-time reminders are removed. The returned bool
// reports removal.
func (s *ReminderStore) MarkTaken(ctx context.Context, id string) (model.Reminder, bool, error) {
	return s.modify(ctx, id, func(r *model.Reminder) bool {
		now := s.now()
		r.LastFiredAt = &now
		r.History = append(r.History, model.HistoryEntry{Type: model.HistoryTaken, At: now})
		if r.Repeat == model.RepeatDaily {
			r.NextAt = nextAt(r.Times, r.Repeat, now)
			return false
		}
		return true
	})
}

func (s *ReminderStore) AddNote(ctx context.Context, id, note string) (model.Reminder, error) {
	r, _, err := s.modify(ctx, id, func(r *model.Reminder) bool {
		r.Notes = note
		r.History = append(r.History, model.HistoryEntry{
			Type: model.HistoryNote,
			At:   s.now(),
			Meta: &model.HistoryMeta{Note: note},
		})
		return false
	})
	return r, err
}

func (s *ReminderStore) MarkMissed(ctx context.Context, id string) (model.Reminder, error) {
	r, _, err := s.modify(ctx, id, func(r *model.Reminder) bool {
		r.History = append(r.History, model.HistoryEntry{Type: model.HistoryMissed, At: s.now()})
		return false
	})
	return r, err
}

// RecordFiring appends a fired entry and rolls the reminder over: daily
// reminders get their next occurrence computed from at, one-time
// reminders are removed. The returned bool reports removal.
func (s *ReminderStore) RecordFiring(ctx context.Context, id string, at time.Time) (model.Reminder, bool, error) {
	return s.modify(ctx, id, func(r *model.Reminder) bool {
		fired := at
		r.LastFiredAt = &fired
		r.History = append(r.History, model.HistoryEntry{Type: model.HistoryFired, At: at})
		if r.Repeat == model.RepeatDaily {
			// Strictly after the firing instant so the same slot is not re-armed.
			r.NextAt = nextAt(r.Times, r.Repeat, at.Add(time.Minute).Truncate(time.Minute))
			return false
		}
		return true
	})
}

var errUnchanged = errors.New("unchanged")

// modify runs fn against a copy of the reminder with the given id. When fn
// returns true the reminder is dropped from the collection.
func (s *ReminderStore) modify(ctx context.Context, id string, fn func(r *model.Reminder) bool) (model.Reminder, bool, error) {
	var out model.Reminder
	var removed bool
	err := s.mutate(ctx, func(list []model.Reminder) ([]model.Reminder, error) {
		for i := range list {
			if list[i].ID != id {
				continue
			}
			if fn(&list[i]) {
				removed = true
				out = list[i].Clone()
				return append(list[:i], list[i+1:]...), nil
			}
			out = list[i].Clone()
			return list, nil
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return model.Reminder{}, false, err
	}
	return out, removed, nil
}

// mutate hands fn a deep copy of the collection and persists whatever it
// returns before swapping it in.
func (s *ReminderStore) mutate(ctx context.Context, fn func([]model.Reminder) ([]model.Reminder, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(cloneAll(s.reminders))
	if err != nil {
		return err
	}
	if next == nil {
		next = []model.Reminder{}
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal reminders: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("failed to persist reminders: %w", err)
	}

	s.reminders = next
	return nil
}

func cloneAll(list []model.Reminder) []model.Reminder {
	out := make([]model.Reminder, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}

func nextAt(times []string, repeat model.Repeat, ref time.Time) *time.Time {
	t, ok := occurrence.Next(times, repeat, ref)
	if !ok {
		return nil
	}
	return &t
}
