// Package enrich provides capability executors for the queue manager.
package enrich

import (
	"context"
	"time"

	"github.com/partflow/partflow/internal/core"
)

// Simulator is a stand-in executor that sleeps instead of calling a
// supplier API. It lets the serve command run the full dispatch path in
// deployments where no supplier credentials are configured.
type Simulator struct {
	// Delay is the simulated per-capability latency.
	Delay time.Duration
}

// Execute pretends to perform one capability call.
func (s *Simulator) Execute(ctx context.Context, _ *core.EnrichmentTask, _ core.Capability) error {
	if s == nil || s.Delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
