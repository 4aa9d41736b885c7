package scheduler

import (
	"container/heap"
	"time"
)

type kind int

const (
	kindFire kind = iota
	kindMissedCheck
)

func (k kind) String() string {
	if k == kindMissedCheck {
		return "missed-check"
	}
	return "fire"
}

// deadlineKey identifies a deadline. firing is zero for fire deadlines and
// the firing instant in Unix nanoseconds for missed checks, so each
// firing keeps its own check.
type deadlineKey struct {
	id     string
	kind   kind
	firing int64
}

func fireKey(id string) deadlineKey {
	return deadlineKey{id: id, kind: kindFire}
}

func missedKey(id string, firedAt time.Time) deadlineKey {
	return deadlineKey{id: id, kind: kindMissedCheck, firing: firedAt.UnixNano()}
}

type deadline struct {
	key deadlineKey
	at  time.Time
	// ref is the firing instant a missed check belongs to.
	ref   time.Time
	index int
}

// deadlineQueue is a min-heap ordered by at.
type deadlineQueue []*deadline

func (q deadlineQueue) Len() int { return len(q) }

func (q deadlineQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].key.kind < q[j].key.kind
	}
	return q[i].at.Before(q[j].at)
}

func (q deadlineQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *deadlineQueue) Push(x any) {
	d := x.(*deadline)
	d.index = len(*q)
	*q = append(*q, d)
}

func (q *deadlineQueue) Pop() any {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*q = old[:n-1]
	return d
}

// timers indexes the heap by key so any deadline can be replaced or
// cancelled in O(log n).
type timers struct {
	queue   deadlineQueue
	pending map[deadlineKey]*deadline
}

func newTimers() *timers {
	return &timers{pending: make(map[deadlineKey]*deadline)}
}

func (t *timers) set(key deadlineKey, at, ref time.Time) {
	if d, ok := t.pending[key]; ok {
		d.at = at
		d.ref = ref
		heap.Fix(&t.queue, d.index)
		return
	}
	d := &deadline{key: key, at: at, ref: ref}
	heap.Push(&t.queue, d)
	t.pending[key] = d
}

func (t *timers) cancel(key deadlineKey) {
	d, ok := t.pending[key]
	if !ok {
		return
	}
	heap.Remove(&t.queue, d.index)
	delete(t.pending, key)
}

func (t *timers) cancelKind(k kind) {
	for key := range t.pending {
		if key.kind == k {
			t.cancel(key)
		}
	}
}

// cancelID drops every deadline of kind k for one reminder.
func (t *timers) cancelID(id string, k kind) {
	for key := range t.pending {
		if key.id == id && key.kind == k {
			t.cancel(key)
		}
	}
}

func (t *timers) get(key deadlineKey) (time.Time, bool) {
	d, ok := t.pending[key]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

// popDue removes and returns the earliest deadline if it is due at now.
func (t *timers) popDue(now time.Time) (*deadline, bool) {
	if len(t.queue) == 0 || t.queue[0].at.After(now) {
		return nil, false
	}
	d := heap.Pop(&t.queue).(*deadline)
	delete(t.pending, d.key)
	return d, true
}

func (t *timers) next() time.Time {
	if len(t.queue) == 0 {
		return time.Time{}
	}
	return t.queue[0].at
}
