// Package scheduler arms one deadline per active reminder and fires them
// from a single event loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nleeper/goment"

	"github.com/noahxzhu/pillbox/internal/model"
	"github.com/noahxzhu/pillbox/internal/notify"
	"github.com/noahxzhu/pillbox/internal/storage"
)

// DefaultMissedWindow is how long a fired reminder may go unacknowledged
// before it is marked missed.
const DefaultMissedWindow = 30 * time.Minute

type Emitter interface {
	Notify(ctx context.Context, msg notify.Message)
	Toast(level notify.Level, msg notify.Message)
}

type Publisher interface {
	Publish(ev model.FiredEvent)
}

type SMSSender interface {
	Send(ctx context.Context, to, message string) (string, error)
}

type Scheduler struct {
	store        *storage.ReminderStore
	emitter      Emitter
	bus          Publisher
	sms          SMSSender
	now          func() time.Time
	missedWindow time.Duration
	onMissed     func(model.Reminder)

	// mu serializes actions and deadline processing, so a cancelled
	// deadline can never fire.
	mu         sync.Mutex
	timers     *timers
	updateChan chan struct{}
	smsWG      sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithMissedWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.missedWindow = d
		}
	}
}

// WithSMS enables SMS relay for reminders that ask for it.
func WithSMS(sender SMSSender) Option {
	return func(s *Scheduler) { s.sms = sender }
}

// WithMissedHook registers a callback run whenever a reminder is marked
// missed.
func WithMissedHook(fn func(model.Reminder)) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.onMissed = fn
		}
	}
}

func New(store *storage.ReminderStore, emitter Emitter, bus Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		emitter:      emitter,
		bus:          bus,
		now:          time.Now,
		missedWindow: DefaultMissedWindow,
		onMissed:     func(model.Reminder) {},
		timers:       newTimers(),
		updateChan:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh signals the loop to re-evaluate the earliest deadline.
func (s *Scheduler) Refresh() {
	select {
	case s.updateChan <- struct{}{}:
	default:
		// Channel already has a pending signal, no need to block
	}
}

// Start arms every eligible reminder and runs the event loop until ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("Scheduler started")

	s.mu.Lock()
	s.rearmAll()
	s.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun := s.processDue(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if nextRun.IsZero() {
			slog.Debug("No pending deadlines, scheduler idle")
		} else {
			d := nextRun.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			slog.Debug("Next deadline scheduled", "in", d, "at", nextRun.Format("15:04:05"))
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			s.smsWG.Wait()
			slog.Info("Scheduler stopped")
			return
		case <-s.updateChan:
		case <-timer.C:
		}
	}
}

// processDue handles every deadline at or before now and returns the time
// of the next one, or zero when nothing is pending. Notifications are
// delivered after the lock is released so a slow push channel never
// blocks actions.
func (s *Scheduler) processDue(ctx context.Context) time.Time {
	s.mu.Lock()
	now := s.now()
	var notices []notify.Message
	for {
		d, ok := s.timers.popDue(now)
		if !ok {
			break
		}
		slog.Debug("Processing deadline", "id", d.key.id, "kind", d.key.kind.String(), "at", d.at.Format(time.RFC3339))
		switch d.key.kind {
		case kindFire:
			if msg, fired := s.fire(ctx, d.key.id, d.at, now); fired {
				notices = append(notices, msg)
			}
		case kindMissedCheck:
			s.checkMissed(ctx, d.key.id, d.ref)
		}
	}
	next := s.timers.next()
	s.mu.Unlock()

	for _, msg := range notices {
		s.emitter.Notify(ctx, msg)
	}
	return next
}

// fire rolls a due reminder over and returns the notification to deliver.
func (s *Scheduler) fire(ctx context.Context, id string, due, now time.Time) (notify.Message, bool) {
	r, ok := s.store.Get(id)
	if !ok || !r.Armed() {
		return notify.Message{}, false
	}
	if !r.NextAt.Equal(due) {
		s.arm(r)
		return notify.Message{}, false
	}

	slog.Info("Reminder fired", "id", r.ID, "name", r.Name, "scheduled", due.Format(time.RFC3339))

	msg := notify.Message{Title: "Time to take " + r.Name, Body: dosageLine(r.Dosage)}
	s.bus.Publish(model.NewFiredEvent(r))

	updated, removed, err := s.store.RecordFiring(ctx, id, now)
	if err != nil {
		// Left idle until the next re-arm rather than refiring in a loop.
		slog.Error("Failed to record firing", "id", id, "error", err)
		return msg, true
	}

	s.timers.set(missedKey(id, now), now.Add(s.missedWindow), now)
	s.sendSMS(r)

	if removed {
		s.emitter.Toast(notify.LevelSuccess, notify.Message{Title: "Completed one-time reminder for " + r.Name})
		return msg, true
	}
	s.arm(updated)
	s.emitter.Toast(notify.LevelSuccess, notify.Message{
		Title: "Scheduled next dose for " + r.Name,
		Body:  fromNow(updated.NextAt),
	})
	return msg, true
}

func (s *Scheduler) checkMissed(ctx context.Context, id string, firedAt time.Time) {
	r, ok := s.store.Get(id)
	if !ok || r.TakenSince(firedAt) {
		return
	}
	missed, err := s.store.MarkMissed(ctx, id)
	if err != nil {
		slog.Error("Failed to mark reminder missed", "id", id, "error", err)
		return
	}
	s.onMissed(missed)
	slog.Info("Reminder missed", "id", id, "name", r.Name, "fired_at", firedAt.Format(time.RFC3339))
	s.emitter.Toast(notify.LevelError, notify.Message{Title: "Reminder marked as missed", Body: r.Name})
}

func (s *Scheduler) sendSMS(r model.Reminder) {
	if s.sms == nil || !r.SendSMS || r.Phone == "" {
		return
	}
	msg := "Time to take " + r.Name
	if r.Dosage != "" {
		msg += fmt.Sprintf(" (%s)", r.Dosage)
	}

	s.smsWG.Add(1)
	go func() {
		defer s.smsWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := s.sms.Send(ctx, r.Phone, msg); err != nil {
			slog.Warn("SMS send failed", "id", r.ID, "error", err)
			s.emitter.Toast(notify.LevelWarning, notify.Message{Title: "SMS send failed", Body: err.Error()})
		}
	}()
}

// arm replaces the fire deadline of r, or cancels it when r is not
// eligible.
func (s *Scheduler) arm(r model.Reminder) {
	key := fireKey(r.ID)
	if !r.Armed() {
		s.timers.cancel(key)
		return
	}
	s.timers.set(key, *r.NextAt, time.Time{})
}

// rearmAll drops every fire deadline and arms one per eligible reminder
// from its stored nextAt. Missed checks are kept.
func (s *Scheduler) rearmAll() {
	s.timers.cancelKind(kindFire)
	for _, r := range s.store.List() {
		s.arm(r)
	}
}

// NextDeadline reports the pending fire deadline for a reminder.
func (s *Scheduler) NextDeadline(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers.get(fireKey(id))
}

// Wait blocks until in-flight SMS sends finish.
func (s *Scheduler) Wait() {
	s.smsWG.Wait()
}

func dosageLine(dosage string) string {
	if dosage == "" {
		return ""
	}
	return "Dosage: " + dosage
}

func fromNow(t *time.Time) string {
	if t == nil {
		return ""
	}
	g, err := goment.New(*t)
	if err != nil {
		return ""
	}
	return "Next dose " + g.FromNow()
}
