package output

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/partflow/partflow/internal/core"
)

// FormatRateLimitConfigs renders supplier rate limit configs.
func FormatRateLimitConfigs(format Format, configs []*core.RateLimitConfig) (string, error) {
	if format == FormatJSON {
		return marshalJSON(configs)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Supplier", "Per Minute", "Per Hour", "Per Day", "Enabled", "Updated"})

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		t.AppendRow(table.Row{
			cfg.Supplier,
			cfg.RequestsPerMinute,
			cfg.RequestsPerHour,
			cfg.RequestsPerDay,
			enabledLabel(cfg.Enabled),
			formatTime(cfg.UpdatedAt),
		})
	}

	return t.Render(), nil
}

// FormatUsageStats renders a supplier usage summary with its endpoint
// breakdown.
func FormatUsageStats(format Format, stats *core.UsageStats) (string, error) {
	if stats == nil {
		return "", nil
	}
	if format == FormatJSON {
		return marshalJSON(stats)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Supplier", "Window", "Total", "Success", "Failed", "Success %", "Avg ms"})
	t.AppendRow(table.Row{
		stats.Supplier,
		stats.Window,
		stats.TotalRequests,
		stats.SuccessfulRequests,
		stats.FailedRequests,
		fmt.Sprintf("%.1f", stats.SuccessRate),
		fmt.Sprintf("%.0f", stats.AvgResponseTimeMs),
	})
	rendered := t.Render()

	if len(stats.EndpointBreakdown) > 0 {
		endpoints := make([]string, 0, len(stats.EndpointBreakdown))
		for endpoint := range stats.EndpointBreakdown {
			endpoints = append(endpoints, endpoint)
		}
		sort.Strings(endpoints)

		bt := table.NewWriter()
		bt.SetStyle(table.StyleRounded)
		bt.AppendHeader(table.Row{"Endpoint", "Requests"})
		for _, endpoint := range endpoints {
			bt.AppendRow(table.Row{endpoint, stats.EndpointBreakdown[endpoint]})
		}
		rendered += "\n" + bt.Render()
	}

	return rendered, nil
}

// FormatRateLimitStatus renders a point-in-time rate limit check.
func FormatRateLimitStatus(format Format, status *core.RateLimitStatus) (string, error) {
	if status == nil {
		return "", nil
	}
	if format == FormatJSON {
		return marshalJSON(status)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Window", "Used", "Limit", "Usage %", "Resets"})

	for _, window := range []string{core.WindowPerMinute, core.WindowPerHour, core.WindowPerDay} {
		usage, ok := status.Windows[window]
		if !ok {
			continue
		}
		t.AppendRow(table.Row{
			window,
			usage.Used,
			usage.Limit,
			fmt.Sprintf("%.1f", usage.UsagePercent),
			formatTime(usage.ResetsAt),
		})
	}

	verdict := "allowed"
	if !status.Allowed {
		verdict = fmt.Sprintf("denied, retry after %ds", status.RetryAfterSeconds)
	}
	t.AppendFooter(table.Row{status.Supplier, "", "", verdict, ""})

	return t.Render(), nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}
