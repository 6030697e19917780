package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/partflow/partflow/internal/core"
	"github.com/partflow/partflow/internal/notify"
)

// Limiter gates dispatched supplier calls. Satisfied by tracker.Tracker.
type Limiter interface {
	CheckRateLimit(ctx context.Context, supplier, endpointType string) (*core.RateLimitStatus, error)
	Do(ctx context.Context, supplier, endpointType string, fn func(context.Context) error) error
}

// Executor performs one capability call against a supplier. The manager
// owns ordering, pacing, and retries; the executor owns the call itself.
type Executor interface {
	Execute(ctx context.Context, task *core.EnrichmentTask, capability core.Capability) error
}

// Notifier receives best-effort queue status events.
type Notifier interface {
	Publish(eventType string, payload any)
}

// Config tunes the manager.
type Config struct {
	// MaxRetries bounds requeues of a failing task. Zero applies the
	// default.
	MaxRetries int

	// IdleDelay is how long a dispatch loop sleeps when its queue is
	// empty.
	IdleDelay time.Duration

	Clock func() time.Time
}

// DefaultIdleDelay is the dispatch poll interval for an empty queue.
const DefaultIdleDelay = 500 * time.Millisecond

// Manager owns one queue per catalog supplier and the dispatch loops
// that drain them.
type Manager struct {
	Limiter  Limiter
	Executor Executor
	Notifier Notifier

	clock      func() time.Time
	maxRetries int
	idleDelay  time.Duration

	mu      sync.RWMutex
	queues  map[string]*SupplierQueue
	tasks   map[string]*core.EnrichmentTask
	catalog map[string]core.SupplierInfo
	cancels map[string]context.CancelFunc
	pacers  map[string]*rate.Limiter

	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewManager builds a manager with one queue and one pacer per catalog
// supplier.
func NewManager(catalog []core.SupplierInfo, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = core.DefaultMaxRetries
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}

	m := &Manager{
		clock:      cfg.Clock,
		maxRetries: cfg.MaxRetries,
		idleDelay:  cfg.IdleDelay,
		queues:     make(map[string]*SupplierQueue),
		tasks:      make(map[string]*core.EnrichmentTask),
		catalog:    make(map[string]core.SupplierInfo),
		cancels:    make(map[string]context.CancelFunc),
		pacers:     make(map[string]*rate.Limiter),
	}
	for _, info := range catalog {
		name := core.NormalizeSupplier(info.Name)
		if name == "" {
			continue
		}
		m.catalog[name] = info
		m.queues[name] = NewSupplierQueue(name)
		m.pacers[name] = newPacer(info.PacingDelay)
	}
	return m
}

func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// EnrichmentRequest is a job submission. TaskID lets callers supply
// their own id for idempotent resubmission; empty means generate one.
type EnrichmentRequest struct {
	TaskID       string            `json:"task_id,omitempty"`
	PartID       string            `json:"part_id"`
	PartName     string            `json:"part_name"`
	Supplier     string            `json:"supplier_name"`
	Capabilities []core.Capability `json:"capabilities,omitempty"`
	Priority     core.Priority     `json:"priority"`
	MaxRetries   int               `json:"max_retries,omitempty"`
}

// QueueEnrichment validates a request, creates the task, and enqueues it
// on the supplier's queue. An empty capability list requests everything
// the supplier can serve.
func (m *Manager) QueueEnrichment(ctx context.Context, req EnrichmentRequest) (*core.EnrichmentTask, error) {
	if strings.TrimSpace(req.PartID) == "" {
		return nil, fmt.Errorf("part id is required")
	}

	supplier := core.NormalizeSupplier(req.Supplier)
	info, ok := m.supplierInfo(supplier)
	if !ok {
		return nil, &core.UnknownSupplierError{Supplier: req.Supplier}
	}

	capabilities := req.Capabilities
	if len(capabilities) == 0 {
		capabilities = append([]core.Capability(nil), info.Caps...)
	} else {
		for _, c := range capabilities {
			if !supports(info, c) {
				return nil, fmt.Errorf("supplier %s does not support %s", supplier, c)
			}
		}
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = m.maxRetries
	}

	id := strings.TrimSpace(req.TaskID)
	if id == "" {
		id = uuid.NewString()
	}

	task := &core.EnrichmentTask{
		ID:           id,
		PartID:       strings.TrimSpace(req.PartID),
		PartName:     strings.TrimSpace(req.PartName),
		Supplier:     supplier,
		Capabilities: capabilities,
		Priority:     req.Priority,
		Status:       core.StatusPending,
		MaxRetries:   maxRetries,
		CreatedAt:    m.clock(),
	}

	m.mu.Lock()
	if _, exists := m.tasks[task.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("task id already queued: %s", task.ID)
	}
	m.tasks[task.ID] = task
	queue := m.queues[supplier]
	m.mu.Unlock()

	queue.Enqueue(task)
	m.publishQueueStatus(supplier)
	return copyTask(task), nil
}

// QueueStatus reports one supplier queue to observers.
type QueueStatus struct {
	Supplier            string      `json:"supplier_name"`
	Counts              QueueCounts `json:"counts"`
	IsProcessing        bool        `json:"is_processing"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
}

// GetQueueStatus reports the named supplier's queue. An unknown
// supplier yields an empty status, not an error.
func (m *Manager) GetQueueStatus(supplier string) QueueStatus {
	supplier = core.NormalizeSupplier(supplier)

	// Task capability fields are mutated under m.mu, so the census that
	// reads them must hold it too.
	m.mu.RLock()
	queue, ok := m.queues[supplier]
	info := m.catalog[supplier]
	if !ok {
		m.mu.RUnlock()
		return QueueStatus{Supplier: supplier}
	}
	counts := queue.Counts()
	m.mu.RUnlock()

	status := QueueStatus{Supplier: supplier, Counts: counts, IsProcessing: counts.Running > 0}
	if status.Counts.PendingCapabilities > 0 && info.PacingDelay > 0 {
		eta := m.clock().Add(time.Duration(status.Counts.PendingCapabilities) * info.PacingDelay)
		status.EstimatedCompletion = &eta
	}
	return status
}

// GetAllQueueStatus reports every queue, ordered by supplier name.
func (m *Manager) GetAllQueueStatus() []QueueStatus {
	m.mu.RLock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	statuses := make([]QueueStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, m.GetQueueStatus(name))
	}
	return statuses
}

// TaskView is a point-in-time copy of a task with derived fields.
type TaskView struct {
	core.EnrichmentTask
	Progress  int               `json:"progress_percentage"`
	Remaining []core.Capability `json:"remaining_capabilities,omitempty"`
}

// GetTaskStatus returns a snapshot of the identified task.
func (m *Manager) GetTaskStatus(id string) (*TaskView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task: %s", id)
	}
	return &TaskView{
		EnrichmentTask: *copyTask(task),
		Progress:       task.ProgressPercentage(),
		Remaining:      task.RemainingCapabilities(),
	}, nil
}

// CancelTask cancels a pending task immediately and requests cooperative
// cancellation of a running one. Returns false for unknown or already
// terminal tasks.
func (m *Manager) CancelTask(id string) bool {
	m.mu.Lock()
	task, ok := m.tasks[id]
	if !ok || task.Terminal() {
		m.mu.Unlock()
		return false
	}

	supplier := task.Supplier
	queue := m.queues[supplier]

	if task.Status == core.StatusRunning {
		// The dispatch loop observes the cancelled context and settles
		// the task itself.
		if cancel, found := m.cancels[id]; found {
			cancel()
		}
		m.mu.Unlock()
		return true
	}

	// The task may sit between a dispatch pop and its running mark, in
	// which case RemovePending finds nothing. Cancelling here still
	// wins: the loop re-checks for a terminal status before executing.
	queue.RemovePending(id)
	now := m.clock()
	task.Status = core.StatusCancelled
	task.CompletedAt = &now
	queue.Settle(task, core.StatusCancelled)
	m.mu.Unlock()

	m.publishQueueStatus(supplier)
	return true
}

// Statistics aggregates task outcomes across all queues.
type Statistics struct {
	TotalTasks   int                    `json:"total_tasks"`
	Pending      int                    `json:"pending"`
	Running      int                    `json:"running"`
	Completed    int                    `json:"completed"`
	Failed       int                    `json:"failed"`
	Cancelled    int                    `json:"cancelled"`
	ActiveQueues int                    `json:"active_queues"`
	PerQueue     map[string]QueueCounts `json:"per_queue"`
}

// GetQueueStatistics returns aggregate counts across every supplier.
func (m *Manager) GetQueueStatistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{PerQueue: make(map[string]QueueCounts, len(m.queues))}
	for name, queue := range m.queues {
		counts := queue.Counts()
		stats.PerQueue[name] = counts
		stats.Pending += counts.Pending
		stats.Running += counts.Running
		stats.Completed += counts.Completed
		stats.Failed += counts.Failed
		stats.Cancelled += counts.Cancelled
		if counts.Running > 0 {
			stats.ActiveQueues++
		}
	}
	stats.TotalTasks = len(m.tasks)
	return stats
}

// Suppliers lists the catalog suppliers the manager queues for, sorted.
func (m *Manager) Suppliers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.catalog))
	for name := range m.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) supplierInfo(name string) (core.SupplierInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.catalog[name]
	return info, ok
}

func (m *Manager) publishQueueStatus(supplier string) {
	if m.Notifier == nil {
		return
	}
	m.Notifier.Publish(notify.EventQueueStatusUpdate, m.GetQueueStatus(supplier))
}

func supports(info core.SupplierInfo, capability core.Capability) bool {
	for _, c := range info.Caps {
		if c == capability {
			return true
		}
	}
	return false
}

func copyTask(task *core.EnrichmentTask) *core.EnrichmentTask {
	clone := *task
	clone.Capabilities = append([]core.Capability(nil), task.Capabilities...)
	clone.CompletedCapabilities = append([]core.Capability(nil), task.CompletedCapabilities...)
	clone.FailedCapabilities = append([]core.Capability(nil), task.FailedCapabilities...)
	return &clone
}
