package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow/internal/core"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestFormatRateLimitConfigs(t *testing.T) {
	configs := []*core.RateLimitConfig{
		{
			Supplier:          "MOUSER",
			RequestsPerMinute: 30,
			RequestsPerHour:   1000,
			RequestsPerDay:    10000,
			Enabled:           true,
			UpdatedAt:         time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			Supplier:          "LCSC",
			RequestsPerMinute: 20,
			RequestsPerHour:   600,
			RequestsPerDay:    5000,
			Enabled:           false,
		},
	}

	rendered, err := FormatRateLimitConfigs(FormatTable, configs)
	require.NoError(t, err)
	require.Contains(t, rendered, "MOUSER")
	require.Contains(t, rendered, "1000")
	require.Contains(t, rendered, "yes")
	require.Contains(t, rendered, "no")
	require.Contains(t, rendered, "2025-06-15T10:00:00Z")

	jsonRendered, err := FormatRateLimitConfigs(FormatJSON, configs)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, "\"supplier_name\": \"MOUSER\"")
	require.Contains(t, jsonRendered, "\"requests_per_minute\": 30")
}

func TestFormatUsageStats(t *testing.T) {
	stats := &core.UsageStats{
		Supplier:           "DIGIKEY",
		Window:             "24h",
		TotalRequests:      120,
		SuccessfulRequests: 110,
		FailedRequests:     10,
		SuccessRate:        91.7,
		AvgResponseTimeMs:  245,
		EndpointBreakdown: map[string]int{
			"fetch_pricing":   80,
			"fetch_datasheet": 40,
		},
	}

	rendered, err := FormatUsageStats(FormatTable, stats)
	require.NoError(t, err)
	require.Contains(t, rendered, "DIGIKEY")
	require.Contains(t, rendered, "24h")
	require.Contains(t, rendered, "91.7")
	require.Contains(t, rendered, "fetch_pricing")

	jsonRendered, err := FormatUsageStats(FormatJSON, stats)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, "\"total_requests\": 120")

	empty, err := FormatUsageStats(FormatTable, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestFormatRateLimitStatus(t *testing.T) {
	status := &core.RateLimitStatus{
		Supplier:          "TME",
		Allowed:           false,
		Violations:        []string{core.WindowPerMinute},
		RetryAfterSeconds: 60,
		Windows: map[string]core.WindowUsage{
			core.WindowPerMinute: {
				Limit:        20,
				Used:         20,
				UsagePercent: 100,
				ResetsAt:     time.Date(2025, 6, 15, 10, 31, 0, 0, time.UTC),
			},
			core.WindowPerHour: {
				Limit:        500,
				Used:         120,
				UsagePercent: 24,
			},
		},
		CheckedAt: time.Date(2025, 6, 15, 10, 30, 30, 0, time.UTC),
	}

	rendered, err := FormatRateLimitStatus(FormatTable, status)
	require.NoError(t, err)
	require.Contains(t, rendered, "per_minute")
	require.Contains(t, rendered, "denied, retry after 60s")

	jsonRendered, err := FormatRateLimitStatus(FormatJSON, status)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, "\"retry_after_seconds\": 60")
}
