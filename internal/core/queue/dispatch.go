package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/partflow/partflow/internal/core"
)

// Start launches one dispatch loop per supplier queue. It returns
// immediately; Stop drains the loops.
func (m *Manager) Start(ctx context.Context) error {
	if m.Limiter == nil {
		return fmt.Errorf("queue manager limiter is not configured")
	}
	if m.Executor == nil {
		return fmt.Errorf("queue manager executor is not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCancel = cancel

	m.mu.RLock()
	queues := make([]*SupplierQueue, 0, len(m.queues))
	for _, queue := range m.queues {
		queues = append(queues, queue)
	}
	m.mu.RUnlock()

	for _, queue := range queues {
		m.wg.Add(1)
		go func(q *SupplierQueue) {
			defer m.wg.Done()
			m.runSupplier(runCtx, q)
		}(queue)
	}
	return nil
}

// Stop cancels the dispatch loops and waits for in-flight tasks to
// settle.
func (m *Manager) Stop() {
	if m.runCancel != nil {
		m.runCancel()
	}
	m.wg.Wait()
}

func (m *Manager) runSupplier(ctx context.Context, queue *SupplierQueue) {
	for {
		if ctx.Err() != nil {
			return
		}

		task := queue.Next()
		if task == nil {
			if !sleep(ctx, m.idleDelay) {
				return
			}
			continue
		}

		status, err := m.Limiter.CheckRateLimit(ctx, queue.Supplier, "enrichment")
		if err != nil {
			m.requeueRateLimited(queue, task)
			if !sleep(ctx, m.idleDelay) {
				return
			}
			continue
		}
		if !status.Allowed {
			m.requeueRateLimited(queue, task)
			if !sleep(ctx, retryDelay(status.RetryAfterSeconds, m.idleDelay)) {
				return
			}
			continue
		}

		m.processTask(ctx, queue, task)
	}
}

// processTask runs every remaining capability of one task. Capability
// failures are collected rather than aborting the task; a mid-task rate
// limit denial requeues the task with its completed capabilities intact
// and without consuming a retry.
func (m *Manager) processTask(ctx context.Context, queue *SupplierQueue, task *core.EnrichmentTask) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if task.Terminal() {
		// Cancelled between the pop and here; already settled.
		m.mu.Unlock()
		return
	}
	now := m.clock()
	task.Status = core.StatusRunning
	task.StartedAt = &now
	task.ErrorMessage = ""
	m.cancels[task.ID] = cancel
	pacer := m.pacers[queue.Supplier]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.cancels, task.ID)
		m.mu.Unlock()
	}()

	for _, capability := range task.RemainingCapabilities() {
		if err := pacer.Wait(taskCtx); err != nil {
			m.settleCancelled(queue, task, ctx.Err() == nil)
			return
		}

		err := m.Limiter.Do(taskCtx, queue.Supplier, string(capability), func(callCtx context.Context) error {
			return m.Executor.Execute(callCtx, task, capability)
		})
		switch {
		case err == nil:
			m.mu.Lock()
			task.CompletedCapabilities = append(task.CompletedCapabilities, capability)
			m.mu.Unlock()
		case isRateLimited(err):
			m.requeueRateLimited(queue, task)
			m.publishQueueStatus(queue.Supplier)
			return
		case taskCtx.Err() != nil:
			m.settleCancelled(queue, task, ctx.Err() == nil)
			return
		default:
			m.mu.Lock()
			task.FailedCapabilities = append(task.FailedCapabilities, capability)
			task.ErrorMessage = err.Error()
			m.mu.Unlock()
		}
	}

	m.settleFinished(queue, task)
	m.publishQueueStatus(queue.Supplier)
}

// settleFinished records a task whose capabilities all ran: completed
// when none failed, otherwise requeued for retry or failed for good.
func (m *Manager) settleFinished(queue *SupplierQueue, task *core.EnrichmentTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if len(task.FailedCapabilities) == 0 {
		task.Status = core.StatusCompleted
		task.CompletedAt = &now
		task.ErrorMessage = ""
		queue.Settle(task, core.StatusCompleted)
		return
	}

	if task.RetryCount < task.MaxRetries {
		task.RetryCount++
		task.Status = core.StatusPending
		task.StartedAt = nil
		// Completed capabilities carry over; failed ones get another run.
		task.FailedCapabilities = nil
		queue.Settle(task, core.StatusPending)
		queue.Enqueue(task)
		return
	}

	task.Status = core.StatusFailed
	task.CompletedAt = &now
	queue.Settle(task, core.StatusFailed)
}

// requeueRateLimited returns a denied task to the head of its priority
// class. The denial is annotated on the task but consumes no retry.
func (m *Manager) requeueRateLimited(queue *SupplierQueue, task *core.EnrichmentTask) {
	m.mu.Lock()
	if task.Terminal() {
		m.mu.Unlock()
		return
	}
	task.Status = core.StatusRateLimited
	task.StartedAt = nil
	m.mu.Unlock()
	queue.Requeue(task)
}

// settleCancelled marks a task cancelled. During shutdown the task is
// requeued as pending instead, so a restart can resume it.
func (m *Manager) settleCancelled(queue *SupplierQueue, task *core.EnrichmentTask, requested bool) {
	m.mu.Lock()
	if !requested {
		task.Status = core.StatusPending
		task.StartedAt = nil
		m.mu.Unlock()
		queue.Requeue(task)
		return
	}
	now := m.clock()
	task.Status = core.StatusCancelled
	task.CompletedAt = &now
	queue.Settle(task, core.StatusCancelled)
	m.mu.Unlock()

	m.publishQueueStatus(queue.Supplier)
}

func isRateLimited(err error) bool {
	var rateErr *core.RateLimitError
	return errors.As(err, &rateErr)
}

func retryDelay(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// sleep waits for the duration or the context, reporting false when the
// context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
