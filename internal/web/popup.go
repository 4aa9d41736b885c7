package web

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/nleeper/goment"

	"github.com/noahxzhu/pillbox/internal/model"
)

// DefaultAutoHide is how long the popup stays visible after a firing.
const DefaultAutoHide = 30 * time.Second

// Popup holds the most recently fired reminder. A new event replaces the
// current one.
type Popup struct {
	mu       sync.Mutex
	event    *model.FiredEvent
	visible  bool
	missed   bool
	hide     *time.Timer
	gen      int
	autoHide time.Duration
	now      func() time.Time
}

type PopupOption func(*Popup)

func WithPopupClock(now func() time.Time) PopupOption {
	return func(p *Popup) { p.now = now }
}

func NewPopup(autoHide time.Duration, opts ...PopupOption) *Popup {
	if autoHide <= 0 {
		autoHide = DefaultAutoHide
	}
	p := &Popup{autoHide: autoHide, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run shows every event received until ctx is done or events is closed.
func (p *Popup) Run(ctx context.Context, events <-chan model.FiredEvent) {
	for {
		select {
		case <-ctx.Done():
			p.Dismiss()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Show(ev)
		}
	}
}

func (p *Popup) Show(ev model.FiredEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.event = &ev
	p.visible = true
	p.missed = false
	if p.hide != nil {
		p.hide.Stop()
	}
	p.gen++
	gen := p.gen
	p.hide = time.AfterFunc(p.autoHide, func() { p.expire(gen) })
}

// expire hides the popup unless a newer event has been shown since.
func (p *Popup) expire(gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.visible = false
	}
}

// Hide makes the popup invisible but keeps its payload.
func (p *Popup) Hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
}

// MarkMissed flags the shown reminder as missed when id matches it.
func (p *Popup) MarkMissed(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.event != nil && p.event.ID == id {
		p.missed = true
	}
}

// Dismiss hides the popup and drops its payload.
func (p *Popup) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visible = false
	p.missed = false
	p.event = nil
	p.gen++
	if p.hide != nil {
		p.hide.Stop()
		p.hide = nil
	}
}

// Current returns the payload, if any.
func (p *Popup) Current() (model.FiredEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.event == nil {
		return model.FiredEvent{}, false
	}
	return *p.event, true
}

type Progress struct {
	Taken   int `json:"taken"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

type PopupView struct {
	Visible   bool                 `json:"visible"`
	Missed    bool                 `json:"missed"`
	Reminder  *model.FiredEvent    `json:"reminder"`
	Scheduled string               `json:"scheduled,omitempty"`
	Progress  Progress             `json:"progress"`
	History   []model.HistoryEntry `json:"history"`
	NoteText  string               `json:"noteText"`
}

func (p *Popup) View() PopupView {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.event == nil {
		return PopupView{History: []model.HistoryEntry{}}
	}
	ev := *p.event
	history := slices.Clone(ev.History)
	slices.Reverse(history)

	return PopupView{
		Visible:   p.visible,
		Missed:    p.missed,
		Reminder:  &ev,
		Scheduled: scheduledLabel(ev.NextAt),
		Progress:  progress(ev, p.now()),
		History:   history,
		NoteText:  ev.Notes,
	}
}

// progress approximates today's doses from the history snapshot carried
// by the event: fired entries today, or one if a next occurrence exists.
func progress(ev model.FiredEvent, now time.Time) Progress {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	end := start.AddDate(0, 0, 1)

	var taken, fired int
	for _, h := range ev.History {
		at := h.At.In(now.Location())
		switch {
		case h.Type == model.HistoryTaken && !at.Before(start):
			taken++
		case h.Type == model.HistoryFired && !at.Before(start) && at.Before(end):
			fired++
		}
	}

	total := fired
	if total == 0 && ev.NextAt != nil {
		total = 1
	}
	total = max(1, total)

	percent := int(math.Round(float64(taken) / float64(total) * 100))
	return Progress{Taken: taken, Total: total, Percent: min(100, percent)}
}

func scheduledLabel(t *time.Time) string {
	if t == nil {
		return "Now"
	}
	g, err := goment.New(*t)
	if err != nil {
		return t.Format("Mon, Jan 2 • 3:04 PM")
	}
	return g.Format("ddd, MMM D") + " • " + g.Format("h:mm A")
}
