package transport

import "sync"

// EventQueue is a mutex-guarded FIFO that I/O goroutines push into and the
// poll goroutine drains.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain returns every queued event in arrival order and empties the queue.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = nil
	return out
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
