package dispatch

import (
	"sync"
	"time"

	"vigil/internal/crisis"
)

// task is one unit of delivery work referencing a persisted attempt.
type task struct {
	attemptID string
	caseID    string
	userID    string
	tier      crisis.Tier
	reason    string
	enqueued  time.Time
}

// taskQueue is a bounded FIFO with emergency-aware shedding: when full, the
// oldest queued non-emergency task is displaced rather than blocking new
// emergency work. Displaced tasks are not lost; the caller reschedules the
// underlying attempt.
type taskQueue struct {
	mu       sync.Mutex
	items    []task
	capacity int
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &taskQueue{capacity: capacity}
}

// push appends a task. Returns the displaced task (if shedding occurred) and
// whether the new task was accepted.
func (q *taskQueue) push(t task) (displaced *task, accepted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.capacity {
		q.items = append(q.items, t)
		return nil, true
	}

	for i := range q.items {
		if !q.items[i].tier.IsEmergency() {
			shed := q.items[i]
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.items = append(q.items, t)
			return &shed, true
		}
	}

	// Everything queued is emergency work; nothing may be displaced.
	return nil, false
}

// pop removes the oldest task.
func (q *taskQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
