package notify

import (
	"sync"
	"time"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Toast struct {
	Seq   int64     `json:"seq"`
	Level Level     `json:"level"`
	Title string    `json:"title"`
	Body  string    `json:"body,omitempty"`
	At    time.Time `json:"at"`
}

// Toasts is the bounded in-app toast feed. Oldest entries are dropped
// once capacity is reached.
type Toasts struct {
	mu       sync.Mutex
	items    []Toast
	capacity int
	seq      int64
	now      func() time.Time
}

func NewToasts(capacity int) *Toasts {
	if capacity <= 0 {
		capacity = 50
	}
	return &Toasts{capacity: capacity, now: time.Now}
}

func (t *Toasts) Add(level Level, msg Message) Toast {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	toast := Toast{Seq: t.seq, Level: level, Title: msg.Title, Body: msg.Body, At: t.now()}
	t.items = append(t.items, toast)
	if len(t.items) > t.capacity {
		t.items = append([]Toast(nil), t.items[len(t.items)-t.capacity:]...)
	}
	return toast
}

// Since returns toasts with a sequence number greater than seq, oldest first.
func (t *Toasts) Since(seq int64) []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := []Toast{}
	for _, item := range t.items {
		if item.Seq > seq {
			out = append(out, item)
		}
	}
	return out
}
