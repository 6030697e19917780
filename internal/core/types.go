package core

import (
	"fmt"
	"strings"
	"time"
)

// Capability identifies one enrichment operation a supplier can perform
// for a part.
type Capability string

const (
	CapabilityDatasheet  Capability = "fetch_datasheet"
	CapabilityImage      Capability = "fetch_image"
	CapabilityPricing    Capability = "fetch_pricing"
	CapabilityStock      Capability = "fetch_stock"
	CapabilityParameters Capability = "fetch_parameters"
)

// Capabilities lists every known capability tag.
var Capabilities = []Capability{
	CapabilityDatasheet,
	CapabilityImage,
	CapabilityPricing,
	CapabilityStock,
	CapabilityParameters,
}

// ParseCapability validates and normalizes a capability tag.
func ParseCapability(value string) (Capability, error) {
	normalized := Capability(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range Capabilities {
		if c == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability: %s", value)
}

// Priority orders pending tasks within a supplier queue.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "normal"
	}
}

// ParsePriority converts a priority label to its Priority value.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority: %s", value)
	}
}

// TaskStatus is the lifecycle state of an enrichment task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"

	// StatusRateLimited is a transient annotation on a pending task whose
	// dispatch was denied by the rate limit tracker. It does not change
	// queue membership.
	StatusRateLimited TaskStatus = "rate_limited"
)

// DefaultMaxRetries bounds how often a failed task is requeued.
const DefaultMaxRetries = 3

// EnrichmentTask is one unit of work: a part, a supplier, and a set of
// requested capabilities.
type EnrichmentTask struct {
	ID                    string       `json:"id"`
	PartID                string       `json:"part_id"`
	PartName              string       `json:"part_name"`
	Supplier              string       `json:"supplier_name"`
	Capabilities          []Capability `json:"capabilities"`
	Priority              Priority     `json:"priority"`
	Status                TaskStatus   `json:"status"`
	CompletedCapabilities []Capability `json:"completed_capabilities,omitempty"`
	FailedCapabilities    []Capability `json:"failed_capabilities,omitempty"`
	RetryCount            int          `json:"retry_count"`
	MaxRetries            int          `json:"max_retries"`
	CreatedAt             time.Time    `json:"created_at"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage          string       `json:"error_message,omitempty"`
}

// ProgressPercentage reports completion as a floored integer percentage.
// A task with no requested capabilities is complete by definition.
func (t *EnrichmentTask) ProgressPercentage() int {
	if t == nil {
		return 0
	}
	if len(t.Capabilities) == 0 {
		return 100
	}
	return 100 * len(t.CompletedCapabilities) / len(t.Capabilities)
}

// RemainingCapabilities returns the requested capabilities not yet
// completed, preserving request order.
func (t *EnrichmentTask) RemainingCapabilities() []Capability {
	if t == nil {
		return nil
	}
	done := make(map[Capability]bool, len(t.CompletedCapabilities))
	for _, c := range t.CompletedCapabilities {
		done[c] = true
	}
	remaining := make([]Capability, 0, len(t.Capabilities))
	for _, c := range t.Capabilities {
		if !done[c] {
			remaining = append(remaining, c)
		}
	}
	return remaining
}

// Terminal reports whether the task can no longer change state.
func (t *EnrichmentTask) Terminal() bool {
	if t == nil {
		return false
	}
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// RateLimitConfig holds the configured per-window request budgets for one
// supplier. Configs are never hard-deleted, only disabled.
type RateLimitConfig struct {
	Supplier           string    `json:"supplier_name"`
	RequestsPerMinute  int       `json:"requests_per_minute"`
	RequestsPerHour    int       `json:"requests_per_hour"`
	RequestsPerDay     int       `json:"requests_per_day"`
	Enabled            bool      `json:"enabled"`
	BurstAllowance     int       `json:"burst_allowance,omitempty"`
	BurstWindowSeconds int       `json:"burst_window_seconds,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WindowBudgets carries the three per-window request budgets used when
// seeding a supplier config.
type WindowBudgets struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// UsageRecord is one appended fact about an attempted outbound supplier
// request. Immutable once written.
type UsageRecord struct {
	Supplier       string            `json:"supplier_name"`
	RequestedAt    time.Time         `json:"request_timestamp"`
	EndpointType   string            `json:"endpoint_type"`
	Success        bool              `json:"success"`
	ResponseTimeMs *int64            `json:"response_time_ms,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Usage window names as reported in rate limit statuses.
const (
	WindowPerMinute = "per_minute"
	WindowPerHour   = "per_hour"
	WindowPerDay    = "per_day"
)

// WindowUsage describes current consumption of one trailing window.
type WindowUsage struct {
	Limit        int       `json:"limit"`
	Used         int       `json:"used"`
	UsagePercent float64   `json:"usage_percent"`
	ResetsAt     time.Time `json:"resets_at"`
}

// RateLimitStatus answers "may I call this supplier now?".
type RateLimitStatus struct {
	Supplier          string                 `json:"supplier_name"`
	Allowed           bool                   `json:"allowed"`
	Violations        []string               `json:"violations,omitempty"`
	RetryAfterSeconds int                    `json:"retry_after_seconds,omitempty"`
	Windows           map[string]WindowUsage `json:"windows,omitempty"`
	CheckedAt         time.Time              `json:"checked_at"`
}

// UsageStats summarizes recorded requests for a supplier over a window.
type UsageStats struct {
	Supplier           string         `json:"supplier_name"`
	Window             string         `json:"window"`
	TotalRequests      int            `json:"total_requests"`
	SuccessfulRequests int            `json:"successful_requests"`
	FailedRequests     int            `json:"failed_requests"`
	SuccessRate        float64        `json:"success_rate"`
	AvgResponseTimeMs  float64        `json:"avg_response_time_ms"`
	EndpointBreakdown  map[string]int `json:"endpoint_breakdown"`
}

// NormalizeSupplier canonicalizes a supplier name for use as a key.
func NormalizeSupplier(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
