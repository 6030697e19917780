package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/partflow/partflow/internal/core"
)

// Attempt is one checked supplier call. The caller inspects Allowed,
// performs the call, and records exactly one outcome. Recording twice is
// a no-op.
type Attempt struct {
	Status *core.RateLimitStatus

	tracker      *Tracker
	supplier     string
	endpointType string
	started      time.Time

	mu       sync.Mutex
	recorded bool
}

// BeginRequest checks the supplier's budgets and returns an Attempt
// scoped to one call. It fails only on store errors; a denied budget is
// reported through Attempt.Allowed, not an error.
func (t *Tracker) BeginRequest(ctx context.Context, supplier, endpointType string) (*Attempt, error) {
	status, err := t.CheckRateLimit(ctx, supplier, endpointType)
	if err != nil {
		return nil, err
	}

	return &Attempt{
		Status:       status,
		tracker:      t,
		supplier:     status.Supplier,
		endpointType: endpointType,
		started:      t.now(),
	}, nil
}

// Allowed reports whether the call may proceed.
func (a *Attempt) Allowed() bool {
	return a != nil && a.Status != nil && a.Status.Allowed
}

// RecordSuccess records the call as successful. When responseTimeMs is
// nil the elapsed time since BeginRequest is used.
func (a *Attempt) RecordSuccess(ctx context.Context, responseTimeMs *int64) error {
	if responseTimeMs == nil {
		elapsed := a.tracker.now().Sub(a.started).Milliseconds()
		responseTimeMs = &elapsed
	}
	return a.record(ctx, true, RequestDetail{ResponseTimeMs: responseTimeMs})
}

// RecordFailure records the call as failed with the given message.
func (a *Attempt) RecordFailure(ctx context.Context, message string) error {
	elapsed := a.tracker.now().Sub(a.started).Milliseconds()
	return a.record(ctx, false, RequestDetail{
		ResponseTimeMs: &elapsed,
		ErrorMessage:   message,
	})
}

func (a *Attempt) record(ctx context.Context, success bool, detail RequestDetail) error {
	if a == nil || a.tracker == nil {
		return nil
	}

	a.mu.Lock()
	if a.recorded {
		a.mu.Unlock()
		return nil
	}
	a.recorded = true
	a.mu.Unlock()

	return a.tracker.RecordRequest(ctx, a.supplier, a.endpointType, success, detail)
}

// Do runs fn under the supplier's budgets, recording the outcome. A
// denied budget returns a RateLimitError carrying the violated windows
// and the retry delay; fn is not invoked and nothing is recorded.
func (t *Tracker) Do(ctx context.Context, supplier, endpointType string, fn func(context.Context) error) error {
	attempt, err := t.BeginRequest(ctx, supplier, endpointType)
	if err != nil {
		return err
	}

	if !attempt.Allowed() {
		return &core.RateLimitError{
			Supplier:          attempt.Status.Supplier,
			Violations:        attempt.Status.Violations,
			RetryAfterSeconds: attempt.Status.RetryAfterSeconds,
		}
	}

	if err := fn(ctx); err != nil {
		_ = attempt.RecordFailure(ctx, err.Error()) // nolint:errcheck // original error takes precedence
		return err
	}

	return attempt.RecordSuccess(ctx, nil)
}
