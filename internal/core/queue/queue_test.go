package queue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow/internal/core"
)

func pendingIDs(q *SupplierQueue) []string {
	var ids []string
	for {
		task := q.Next()
		if task == nil {
			return ids
		}
		ids = append(ids, task.ID)
	}
}

func TestSupplierQueuePriorityOrdering(t *testing.T) {
	q := NewSupplierQueue("MOUSER")

	q.Enqueue(&core.EnrichmentTask{ID: "normal", Priority: core.PriorityNormal})
	q.Enqueue(&core.EnrichmentTask{ID: "urgent", Priority: core.PriorityUrgent})
	q.Enqueue(&core.EnrichmentTask{ID: "high", Priority: core.PriorityHigh})

	require.Equal(t, []string{"urgent", "high", "normal"}, pendingIDs(q))
}

func TestSupplierQueueFIFOWithinPriority(t *testing.T) {
	q := NewSupplierQueue("MOUSER")

	q.Enqueue(&core.EnrichmentTask{ID: "first", Priority: core.PriorityHigh})
	q.Enqueue(&core.EnrichmentTask{ID: "second", Priority: core.PriorityHigh})
	q.Enqueue(&core.EnrichmentTask{ID: "third", Priority: core.PriorityHigh})

	require.Equal(t, []string{"first", "second", "third"}, pendingIDs(q))
}

func TestSupplierQueueRequeueKeepsTurn(t *testing.T) {
	q := NewSupplierQueue("MOUSER")

	q.Enqueue(&core.EnrichmentTask{ID: "first", Priority: core.PriorityNormal})
	q.Enqueue(&core.EnrichmentTask{ID: "second", Priority: core.PriorityNormal})

	task := q.Next()
	require.Equal(t, "first", task.ID)

	// A rate-limited task goes back ahead of its priority peers.
	q.Requeue(task)
	require.Equal(t, []string{"first", "second"}, pendingIDs(q))
}

func TestSupplierQueueRequeueStaysBehindHigherPriority(t *testing.T) {
	q := NewSupplierQueue("MOUSER")

	q.Enqueue(&core.EnrichmentTask{ID: "normal", Priority: core.PriorityNormal})
	task := q.Next()
	q.Enqueue(&core.EnrichmentTask{ID: "urgent", Priority: core.PriorityUrgent})

	q.Requeue(task)
	require.Equal(t, []string{"urgent", "normal"}, pendingIDs(q))
}

func TestSupplierQueueRemovePending(t *testing.T) {
	q := NewSupplierQueue("MOUSER")

	q.Enqueue(&core.EnrichmentTask{ID: "keep", Priority: core.PriorityNormal})
	q.Enqueue(&core.EnrichmentTask{ID: "drop", Priority: core.PriorityNormal})

	removed := q.RemovePending("drop")
	require.NotNil(t, removed)
	require.Equal(t, "drop", removed.ID)
	require.Nil(t, q.RemovePending("drop"))

	require.Equal(t, []string{"keep"}, pendingIDs(q))
}

func TestSupplierQueueCounts(t *testing.T) {
	q := NewSupplierQueue("MOUSER")

	q.Enqueue(&core.EnrichmentTask{
		ID:           "a",
		Capabilities: []core.Capability{core.CapabilityDatasheet, core.CapabilityPricing},
	})
	q.Enqueue(&core.EnrichmentTask{
		ID:           "b",
		Capabilities: []core.Capability{core.CapabilityStock},
	})

	running := q.Next()
	counts := q.Counts()
	require.Equal(t, 1, counts.Pending)
	require.Equal(t, 1, counts.Running)
	require.Equal(t, 3, counts.PendingCapabilities)

	q.Settle(running, core.StatusCompleted)
	counts = q.Counts()
	require.Equal(t, 0, counts.Running)
	require.Equal(t, 1, counts.Completed)
}
