package scheduler

import (
	"context"
	"fmt"

	"github.com/noahxzhu/pillbox/internal/model"
	"github.com/noahxzhu/pillbox/internal/notify"
)

// The actions below are what presentation surfaces call. Each one
// mutates the store and re-arms timers under the scheduler lock.

func (s *Scheduler) Add(ctx context.Context, in model.NewReminder) (model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.Add(ctx, in)
	if err != nil {
		return model.Reminder{}, err
	}
	s.rearmAll()
	s.Refresh()
	s.emitter.Toast(notify.LevelSuccess, notify.Message{Title: "Reminder added for " + r.Name})
	return r, nil
}

func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.timers.cancelID(id, kindMissedCheck)
	s.rearmAll()
	s.Refresh()
	return nil
}

func (s *Scheduler) Update(ctx context.Context, id string, p model.Patch) (model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.Update(ctx, id, p)
	if err != nil {
		return model.Reminder{}, err
	}
	s.arm(r)
	s.Refresh()
	return r, nil
}

func (s *Scheduler) TogglePause(ctx context.Context, id string) (model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.TogglePause(ctx, id)
	if err != nil {
		return model.Reminder{}, err
	}
	s.arm(r)
	s.Refresh()
	return r, nil
}

func (s *Scheduler) Snooze(ctx context.Context, id string, minutes int) (model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.Snooze(ctx, id, minutes)
	if err != nil {
		return model.Reminder{}, err
	}
	s.arm(r)
	s.Refresh()
	s.emitter.Toast(notify.LevelInfo, notify.Message{Title: fmt.Sprintf("Snoozed for %d min", minutes)})
	return r, nil
}

// MarkTaken acknowledges a dose and cancels the pending missed check. The
// bool reports whether a one-time reminder was removed.
func (s *Scheduler) MarkTaken(ctx context.Context, id string) (model.Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, removed, err := s.store.MarkTaken(ctx, id)
	if err != nil {
		return model.Reminder{}, false, err
	}
	s.timers.cancelID(id, kindMissedCheck)
	if removed {
		s.timers.cancel(fireKey(id))
		s.emitter.Toast(notify.LevelSuccess, notify.Message{Title: "Completed one-time reminder for " + r.Name})
	} else {
		s.arm(r)
		s.emitter.Toast(notify.LevelSuccess, notify.Message{Title: "Great! Next dose for " + r.Name + " scheduled."})
	}
	s.Refresh()
	return r, removed, nil
}

func (s *Scheduler) AddNote(ctx context.Context, id, note string) (model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.AddNote(ctx, id, note)
	if err != nil {
		return model.Reminder{}, err
	}
	s.emitter.Toast(notify.LevelSuccess, notify.Message{Title: "Note added"})
	return r, nil
}

func (s *Scheduler) MarkMissed(ctx context.Context, id string) (model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.store.MarkMissed(ctx, id)
	if err != nil {
		return model.Reminder{}, err
	}
	s.timers.cancelID(id, kindMissedCheck)
	s.onMissed(r)
	s.emitter.Toast(notify.LevelError, notify.Message{Title: "Reminder marked as missed", Body: r.Name})
	return r, nil
}
