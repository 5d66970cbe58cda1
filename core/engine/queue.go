package engine

import (
	"sync"

	"github.com/kilianp07/clinicflow/core/model"
)

// eventQueue holds accepted events until the worker drains them.
// Emergencies are kept ahead of every other event.
type eventQueue struct {
	mu       sync.Mutex
	items    []model.SchedulerEvent
	capacity int
}

// push reports false when a non-emergency event does not fit.
func (q *eventQueue) push(ev model.SchedulerEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !ev.IsEmergency() {
		if q.capacity > 0 && len(q.items) >= q.capacity {
			return false
		}
		q.items = append(q.items, ev)
		return true
	}
	pos := 0
	for pos < len(q.items) && q.items[pos].IsEmergency() {
		pos++
	}
	q.items = append(q.items, model.SchedulerEvent{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = ev
	return true
}

func (q *eventQueue) pop(n int) []model.SchedulerEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]model.SchedulerEvent, n)
	copy(out, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return out
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *eventQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
