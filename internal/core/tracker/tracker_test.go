package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow/internal/core"
)

type memoryStore struct {
	mu        sync.Mutex
	configs   map[string]*core.RateLimitConfig
	records   []*core.UsageRecord
	statsAsk  time.Time
	insertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{configs: make(map[string]*core.RateLimitConfig)}
}

func (m *memoryStore) GetRateLimitConfig(_ context.Context, supplier string) (*core.RateLimitConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[supplier], nil
}

func (m *memoryStore) EnsureRateLimitConfig(_ context.Context, cfg *core.RateLimitConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := core.NormalizeSupplier(cfg.Supplier)
	if _, ok := m.configs[key]; !ok {
		clone := *cfg
		clone.Supplier = key
		m.configs[key] = &clone
	}
	return nil
}

func (m *memoryStore) InsertUsageRecord(_ context.Context, rec *core.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryStore) CountUsageSince(_ context.Context, supplier string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.records {
		if rec.Supplier == supplier && !rec.RequestedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) UsageStats(_ context.Context, supplier string, since time.Time) (*core.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsAsk = since
	return &core.UsageStats{Supplier: supplier}, nil
}

func (m *memoryStore) DeleteUsageBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*core.UsageRecord
	var deleted int64
	for _, rec := range m.records {
		if rec.RequestedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept
	return deleted, nil
}

type captureNotifier struct {
	events []string
}

func (c *captureNotifier) Publish(eventType string, _ any) {
	c.events = append(c.events, eventType)
}

var testNow = time.Date(2025, 6, 15, 10, 30, 30, 0, time.UTC)

func newTestTracker(store Store) *Tracker {
	return &Tracker{
		Store: store,
		Clock: func() time.Time { return testNow },
	}
}

func seedMouser(t *testing.T, store *memoryStore) {
	t.Helper()
	require.NoError(t, newTestTracker(store).InitializeDefaultLimits(context.Background(), map[string]core.WindowBudgets{
		"mouser": {PerMinute: 30, PerHour: 1000, PerDay: 10000},
	}))
}

func fillWindow(store *memoryStore, supplier string, at time.Time, n int) {
	for i := 0; i < n; i++ {
		store.records = append(store.records, &core.UsageRecord{
			Supplier:     supplier,
			RequestedAt:  at,
			EndpointType: "search",
			Success:      true,
		})
	}
}

func TestCheckRateLimitNoConfigAllows(t *testing.T) {
	tracker := newTestTracker(newMemoryStore())

	status, err := tracker.CheckRateLimit(context.Background(), "unknown", "search")
	require.NoError(t, err)
	require.True(t, status.Allowed)
	require.Empty(t, status.Violations)
	require.Zero(t, status.RetryAfterSeconds)
}

func TestCheckRateLimitDisabledAllows(t *testing.T) {
	store := newMemoryStore()
	store.configs["MOUSER"] = &core.RateLimitConfig{
		Supplier:          "MOUSER",
		RequestsPerMinute: 1,
		Enabled:           false,
	}
	fillWindow(store, "MOUSER", testNow, 50)

	status, err := newTestTracker(store).CheckRateLimit(context.Background(), "mouser", "search")
	require.NoError(t, err)
	require.True(t, status.Allowed)
}

func TestCheckRateLimitMinuteBoundary(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)

	// A record exactly at the window's lower bound counts toward it.
	fillWindow(store, "MOUSER", testNow.Add(-time.Minute), 30)

	status, err := newTestTracker(store).CheckRateLimit(context.Background(), "mouser", "search")
	require.NoError(t, err)
	require.False(t, status.Allowed)
	require.Equal(t, []string{core.WindowPerMinute}, status.Violations)
	require.Equal(t, 60, status.RetryAfterSeconds)
	require.Equal(t, 30, status.Windows[core.WindowPerMinute].Used)
	require.InDelta(t, 100.0, status.Windows[core.WindowPerMinute].UsagePercent, 0.001)
}

func TestCheckRateLimitUnderBudgetAllows(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)
	fillWindow(store, "MOUSER", testNow.Add(-30*time.Second), 29)

	status, err := newTestTracker(store).CheckRateLimit(context.Background(), "mouser", "search")
	require.NoError(t, err)
	require.True(t, status.Allowed)
	require.Equal(t, 29, status.Windows[core.WindowPerMinute].Used)
	require.InDelta(t, 96.67, status.Windows[core.WindowPerMinute].UsagePercent, 0.01)
	require.Equal(t, testNow.Truncate(time.Minute).Add(time.Minute), status.Windows[core.WindowPerMinute].ResetsAt)
	require.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), status.Windows[core.WindowPerDay].ResetsAt)
}

func TestCheckRateLimitRetryAfterUsesLargestWindow(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, newTestTracker(store).InitializeDefaultLimits(context.Background(), map[string]core.WindowBudgets{
		"LCSC": {PerMinute: 5, PerHour: 5, PerDay: 5},
	}))
	fillWindow(store, "LCSC", testNow.Add(-10*time.Second), 5)

	status, err := newTestTracker(store).CheckRateLimit(context.Background(), "lcsc", "search")
	require.NoError(t, err)
	require.False(t, status.Allowed)
	require.Len(t, status.Violations, 3)
	require.Equal(t, 86400, status.RetryAfterSeconds)
}

func TestInitializeDefaultLimitsIdempotent(t *testing.T) {
	store := newMemoryStore()
	tracker := newTestTracker(store)
	ctx := context.Background()

	require.NoError(t, tracker.InitializeDefaultLimits(ctx, map[string]core.WindowBudgets{
		"mouser": {PerMinute: 30, PerHour: 1000, PerDay: 10000},
	}))
	store.configs["MOUSER"].RequestsPerMinute = 7

	require.NoError(t, tracker.InitializeDefaultLimits(ctx, map[string]core.WindowBudgets{
		"mouser": {PerMinute: 30, PerHour: 1000, PerDay: 10000},
	}))
	require.Equal(t, 7, store.configs["MOUSER"].RequestsPerMinute)
}

func TestRecordRequestPersistsAndNotifies(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)
	notifier := &captureNotifier{}
	tracker := newTestTracker(store)
	tracker.Notifier = notifier

	responseTime := int64(150)
	err := tracker.RecordRequest(context.Background(), "mouser", "search", true, RequestDetail{
		ResponseTimeMs: &responseTime,
		Metadata:       map[string]string{"part": "RC0603"},
	})
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	require.Equal(t, "MOUSER", rec.Supplier)
	require.Equal(t, testNow, rec.RequestedAt)
	require.True(t, rec.Success)
	require.Equal(t, []string{"rate_limit_update"}, notifier.events)
}

func TestRecordRequestIgnoresPolicy(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)
	fillWindow(store, "MOUSER", testNow, 500)

	err := newTestTracker(store).RecordRequest(context.Background(), "mouser", "search", false, RequestDetail{
		ErrorMessage: "upstream 429",
	})
	require.NoError(t, err)
	require.Len(t, store.records, 501)
}

func TestRecordRequestConcurrent(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)
	tracker := newTestTracker(store)

	const callers = 32
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- tracker.RecordRequest(context.Background(), "mouser", "search", true, RequestDetail{})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, store.records, callers)
}

func TestRecordRequestValidation(t *testing.T) {
	tracker := newTestTracker(newMemoryStore())
	ctx := context.Background()

	require.Error(t, tracker.RecordRequest(ctx, "", "search", true, RequestDetail{}))
	require.Error(t, tracker.RecordRequest(ctx, "mouser", "  ", true, RequestDetail{}))
}

func TestGetUsageStats(t *testing.T) {
	store := newMemoryStore()
	tracker := newTestTracker(store)

	stats, err := tracker.GetUsageStats(context.Background(), "mouser", "24h")
	require.NoError(t, err)
	require.Equal(t, "24h", stats.Window)
	require.Equal(t, testNow.Add(-24*time.Hour), store.statsAsk)

	_, err = tracker.GetUsageStats(context.Background(), "mouser", "2w")
	require.Error(t, err)
}

func TestCleanupOldTrackingData(t *testing.T) {
	store := newMemoryStore()
	fillWindow(store, "MOUSER", testNow.AddDate(0, 0, -40), 3)
	fillWindow(store, "MOUSER", testNow, 2)

	deleted, err := newTestTracker(store).CleanupOldTrackingData(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)
	require.Len(t, store.records, 2)
}

func TestAttemptRecordsExactlyOnce(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)
	tracker := newTestTracker(store)
	ctx := context.Background()

	attempt, err := tracker.BeginRequest(ctx, "mouser", "search")
	require.NoError(t, err)
	require.True(t, attempt.Allowed())

	require.NoError(t, attempt.RecordSuccess(ctx, nil))
	require.NoError(t, attempt.RecordSuccess(ctx, nil))
	require.NoError(t, attempt.RecordFailure(ctx, "ignored"))

	require.Len(t, store.records, 1)
	require.True(t, store.records[0].Success)
}

func TestDoDeniedReturnsRateLimitError(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)
	fillWindow(store, "MOUSER", testNow.Add(-time.Second), 30)

	called := false
	err := newTestTracker(store).Do(context.Background(), "mouser", "search", func(context.Context) error {
		called = true
		return nil
	})

	var rateErr *core.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	require.Equal(t, "MOUSER", rateErr.Supplier)
	require.Equal(t, 60, rateErr.RetryAfterSeconds)
	require.False(t, called)
	require.Len(t, store.records, 30)
}

func TestDoRecordsFailure(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)

	boom := errors.New("connection reset")
	err := newTestTracker(store).Do(context.Background(), "mouser", "search", func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Len(t, store.records, 1)
	require.False(t, store.records[0].Success)
	require.Equal(t, "connection reset", store.records[0].ErrorMessage)
}

func TestDoRecordsSuccess(t *testing.T) {
	store := newMemoryStore()
	seedMouser(t, store)

	err := newTestTracker(store).Do(context.Background(), "mouser", "search", func(context.Context) error {
		return nil
	})
	require.NoError(t, err)

	require.Len(t, store.records, 1)
	require.True(t, store.records[0].Success)
	require.NotNil(t, store.records[0].ResponseTimeMs)
}
