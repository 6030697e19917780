// Package tracker records every outbound supplier request and answers
// "may I call this supplier now?" against per-minute, per-hour, and
// per-day budgets.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/partflow/partflow/internal/core"
	"github.com/partflow/partflow/internal/notify"
)

// Store persists rate limit configs and usage records.
type Store interface {
	GetRateLimitConfig(ctx context.Context, supplier string) (*core.RateLimitConfig, error)
	EnsureRateLimitConfig(ctx context.Context, cfg *core.RateLimitConfig) error
	InsertUsageRecord(ctx context.Context, rec *core.UsageRecord) error
	CountUsageSince(ctx context.Context, supplier string, since time.Time) (int, error)
	UsageStats(ctx context.Context, supplier string, since time.Time) (*core.UsageStats, error)
	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier receives best-effort usage snapshots.
type Notifier interface {
	Publish(eventType string, payload any)
}

// Tracker computes current usage against configured budgets and records
// new requests. Usage counters are read-mostly: a brief race between a
// count-check and the subsequent record-write is tolerated by design.
type Tracker struct {
	Store    Store
	Notifier Notifier
	Clock    func() time.Time
}

// DefaultRetentionDays is the usage record retention applied when no
// explicit value is given.
const DefaultRetentionDays = 30

type window struct {
	name     string
	duration time.Duration
}

var windows = []window{
	{core.WindowPerMinute, time.Minute},
	{core.WindowPerHour, time.Hour},
	{core.WindowPerDay, 24 * time.Hour},
}

// InitializeDefaultLimits creates a config for each supplier that does
// not already have one, enabled by default. Existing configs are left
// untouched, so re-invocation is safe.
func (t *Tracker) InitializeDefaultLimits(ctx context.Context, defaults map[string]core.WindowBudgets) error {
	if t == nil || t.Store == nil {
		return fmt.Errorf("tracker store is not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for supplier, budgets := range defaults {
		supplier = core.NormalizeSupplier(supplier)
		if supplier == "" {
			continue
		}
		cfg := &core.RateLimitConfig{
			Supplier:          supplier,
			RequestsPerMinute: budgets.PerMinute,
			RequestsPerHour:   budgets.PerHour,
			RequestsPerDay:    budgets.PerDay,
			Enabled:           true,
		}
		if err := t.Store.EnsureRateLimitConfig(ctx, cfg); err != nil {
			return fmt.Errorf("seed limits for %s: %w", supplier, err)
		}
	}

	return nil
}

// CheckRateLimit evaluates current usage against the supplier's budgets.
// A missing or disabled config always allows the call without consulting
// usage data. Config read or usage count failures are fatal to the check.
func (t *Tracker) CheckRateLimit(ctx context.Context, supplier, endpointType string) (*core.RateLimitStatus, error) {
	if t == nil || t.Store == nil {
		return nil, fmt.Errorf("tracker store is not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	supplier = core.NormalizeSupplier(supplier)
	if supplier == "" {
		return nil, fmt.Errorf("supplier is required")
	}

	now := t.now()
	status := &core.RateLimitStatus{
		Supplier:  supplier,
		Allowed:   true,
		CheckedAt: now,
	}

	cfg, err := t.Store.GetRateLimitConfig(ctx, supplier)
	if err != nil {
		return nil, err
	}
	if cfg == nil || !cfg.Enabled {
		return status, nil
	}

	budgets := map[string]int{
		core.WindowPerMinute: cfg.RequestsPerMinute,
		core.WindowPerHour:   cfg.RequestsPerHour,
		core.WindowPerDay:    cfg.RequestsPerDay,
	}

	status.Windows = make(map[string]core.WindowUsage, len(windows))
	retryAfter := 0
	for _, w := range windows {
		budget := budgets[w.name]
		used, err := t.Store.CountUsageSince(ctx, supplier, now.Add(-w.duration))
		if err != nil {
			return nil, err
		}

		usage := core.WindowUsage{
			Limit:    budget,
			Used:     used,
			ResetsAt: nextReset(now, w.duration),
		}
		if budget > 0 {
			usage.UsagePercent = 100 * float64(used) / float64(budget)
			if used >= budget {
				status.Allowed = false
				status.Violations = append(status.Violations, w.name)
				if seconds := int(w.duration / time.Second); seconds > retryAfter {
					retryAfter = seconds
				}
			}
		}
		status.Windows[w.name] = usage
	}

	if !status.Allowed {
		status.RetryAfterSeconds = retryAfter
	}

	return status, nil
}

// RequestDetail carries the optional fields of a recorded request.
type RequestDetail struct {
	ResponseTimeMs *int64
	ErrorMessage   string
	Metadata       map[string]string
}

// RecordRequest appends one usage record and pushes a usage snapshot to
// the notifier. It never blocks on rate limit policy: the budgets govern
// whether a call is attempted, not whether it is logged.
func (t *Tracker) RecordRequest(ctx context.Context, supplier, endpointType string, success bool, detail RequestDetail) error {
	if t == nil || t.Store == nil {
		return fmt.Errorf("tracker store is not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	supplier = core.NormalizeSupplier(supplier)
	if supplier == "" {
		return fmt.Errorf("supplier is required")
	}

	endpointType = strings.TrimSpace(endpointType)
	if endpointType == "" {
		return fmt.Errorf("endpoint type is required")
	}

	rec := &core.UsageRecord{
		Supplier:       supplier,
		RequestedAt:    t.now(),
		EndpointType:   endpointType,
		Success:        success,
		ResponseTimeMs: detail.ResponseTimeMs,
		ErrorMessage:   detail.ErrorMessage,
		Metadata:       detail.Metadata,
	}
	if err := t.Store.InsertUsageRecord(ctx, rec); err != nil {
		return err
	}

	t.publishSnapshot(ctx, supplier, endpointType)
	return nil
}

// GetUsageStats summarizes recorded requests over a named trailing window
// (1h, 24h, 7d, or 30d).
func (t *Tracker) GetUsageStats(ctx context.Context, supplier, windowName string) (*core.UsageStats, error) {
	if t == nil || t.Store == nil {
		return nil, fmt.Errorf("tracker store is not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	duration, err := parseStatsWindow(windowName)
	if err != nil {
		return nil, err
	}

	stats, err := t.Store.UsageStats(ctx, supplier, t.now().Add(-duration))
	if err != nil {
		return nil, err
	}

	stats.Window = windowName
	return stats, nil
}

// CleanupOldTrackingData deletes usage records older than keepDays and
// returns the count deleted. Non-positive keepDays applies the default
// retention.
func (t *Tracker) CleanupOldTrackingData(ctx context.Context, keepDays int) (int64, error) {
	if t == nil || t.Store == nil {
		return 0, fmt.Errorf("tracker store is not configured")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if keepDays <= 0 {
		keepDays = DefaultRetentionDays
	}

	return t.Store.DeleteUsageBefore(ctx, t.now().AddDate(0, 0, -keepDays))
}

// publishSnapshot is best-effort: a notifier failure never fails the
// originating operation.
func (t *Tracker) publishSnapshot(ctx context.Context, supplier, endpointType string) {
	if t.Notifier == nil {
		return
	}

	status, err := t.CheckRateLimit(ctx, supplier, endpointType)
	if err != nil {
		return
	}
	t.Notifier.Publish(notify.EventRateLimitUpdate, status)
}

func parseStatsWindow(value string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1h":
		return time.Hour, nil
	case "24h":
		return 24 * time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported usage window: %s", value)
	}
}

// nextReset returns the wall-clock UTC instant the window rolls over: the
// next minute, hour, or day boundary.
func nextReset(now time.Time, window time.Duration) time.Time {
	now = now.UTC()
	switch window {
	case time.Minute:
		return now.Truncate(time.Minute).Add(time.Minute)
	case time.Hour:
		return now.Truncate(time.Hour).Add(time.Hour)
	default:
		year, month, day := now.Date()
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}
