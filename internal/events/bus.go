// Package events carries "reminder fired" payloads from the scheduler to
// presentation surfaces.
package events

import (
	"sync"

	"github.com/noahxzhu/pillbox/internal/model"
)

// Bus is a single-slot broadcast. Each subscriber buffers at most one
// event; publishing while an earlier event is still unread replaces it,
// so the latest firing always wins.
type Bus struct {
	mu     sync.Mutex
	latest *model.FiredEvent
	subs   map[int]chan model.FiredEvent
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan model.FiredEvent)}
}

// Publish never blocks.
func (b *Bus) Publish(ev model.FiredEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = &ev
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

// Subscribe returns a channel of fired events and a func that closes it.
func (b *Bus) Subscribe() (<-chan model.FiredEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan model.FiredEvent, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Latest returns the most recently published event.
func (b *Bus) Latest() (model.FiredEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return model.FiredEvent{}, false
	}
	return *b.latest, true
}
