// Package queue holds the per-supplier enrichment queues and the manager
// that dispatches their tasks under rate limit and pacing control.
package queue

import (
	"sync"

	"github.com/partflow/partflow/internal/core"
)

// SupplierQueue is the ordered pending set for one supplier. Ordering is
// priority-descending with FIFO ties; the queue moves task pointers and
// never mutates task fields.
type SupplierQueue struct {
	Supplier string

	mu        sync.Mutex
	pending   []*core.EnrichmentTask
	running   map[string]*core.EnrichmentTask
	completed int
	failed    int
	cancelled int
}

// QueueCounts is a point-in-time census of one supplier queue.
type QueueCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// PendingCapabilities is the number of outstanding capability calls
	// across pending and running tasks, used for completion estimates.
	PendingCapabilities int `json:"-"`
}

// NewSupplierQueue creates an empty queue for the given supplier.
func NewSupplierQueue(supplier string) *SupplierQueue {
	return &SupplierQueue{
		Supplier: supplier,
		running:  make(map[string]*core.EnrichmentTask),
	}
}

// Enqueue adds a task behind every task of equal or higher priority.
func (q *SupplierQueue) Enqueue(task *core.EnrichmentTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.insert(task, false)
}

// Requeue returns a task popped by Next to the head of its priority
// class, so a rate-limited task does not lose its turn. The task is
// removed from the running set if present.
func (q *SupplierQueue) Requeue(task *core.EnrichmentTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, task.ID)
	q.insert(task, true)
}

// Next pops the highest-priority pending task and moves it to the
// running set. Returns nil when the queue is empty.
func (q *SupplierQueue) Next() *core.EnrichmentTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	q.running[task.ID] = task
	return task
}

// Settle removes a task from the running set and tallies its terminal
// status. Non-terminal statuses only clear the running entry.
func (q *SupplierQueue) Settle(task *core.EnrichmentTask, status core.TaskStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, task.ID)
	switch status {
	case core.StatusCompleted:
		q.completed++
	case core.StatusFailed:
		q.failed++
	case core.StatusCancelled:
		q.cancelled++
	}
}

// RemovePending removes the identified task from the pending set and
// returns it, or nil when it is not pending here.
func (q *SupplierQueue) RemovePending(id string) *core.EnrichmentTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, task := range q.pending {
		if task.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return task
		}
	}
	return nil
}

// Counts returns the queue census.
func (q *SupplierQueue) Counts() QueueCounts {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := QueueCounts{
		Pending:   len(q.pending),
		Running:   len(q.running),
		Completed: q.completed,
		Failed:    q.failed,
		Cancelled: q.cancelled,
	}
	for _, task := range q.pending {
		counts.PendingCapabilities += len(task.RemainingCapabilities())
	}
	for _, task := range q.running {
		counts.PendingCapabilities += len(task.RemainingCapabilities())
	}
	return counts
}

// insert places a task among its priority peers: behind them on a fresh
// enqueue, ahead of them on a requeue.
func (q *SupplierQueue) insert(task *core.EnrichmentTask, front bool) {
	i := 0
	for i < len(q.pending) {
		other := q.pending[i].Priority
		if other > task.Priority || (!front && other == task.Priority) {
			i++
			continue
		}
		break
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = task
}
