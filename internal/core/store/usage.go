package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partflow/partflow/internal/core"
)

// InsertUsageRecord appends one usage record. Records are immutable once
// written.
func (s *Store) InsertUsageRecord(ctx context.Context, rec *core.UsageRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if rec == nil {
		return errors.New("usage record is required")
	}

	supplier := core.NormalizeSupplier(rec.Supplier)
	if supplier == "" {
		return errors.New("supplier is required")
	}

	endpointType := strings.TrimSpace(rec.EndpointType)
	if endpointType == "" {
		return errors.New("endpoint type is required")
	}

	var responseTime sql.NullInt64
	if rec.ResponseTimeMs != nil {
		responseTime = sql.NullInt64{Int64: *rec.ResponseTimeMs, Valid: true}
	}

	var errorMessage sql.NullString
	if strings.TrimSpace(rec.ErrorMessage) != "" {
		errorMessage = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}

	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		encoded, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode usage metadata: %w", err)
		}
		metadata = sql.NullString{String: string(encoded), Valid: true}
	}

	requestedAt := rec.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO usage_records (supplier, requested_at, endpoint_type, success, response_time_ms, error_message, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, supplier, requestedAt.UTC().Unix(), endpointType, boolToInt(rec.Success), responseTime, errorMessage, metadata)
	if err != nil {
		return fmt.Errorf("store usage record: %w", err)
	}

	return nil
}

// CountUsageSince counts records for a supplier with requested_at at or
// after the cutoff. The lower bound is inclusive so a request landing
// exactly on a window boundary counts toward the newer window.
func (s *Store) CountUsageSince(ctx context.Context, supplier string, since time.Time) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	supplier = core.NormalizeSupplier(supplier)
	if supplier == "" {
		return 0, errors.New("supplier is required")
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM usage_records
		WHERE supplier = ? AND requested_at >= ?
	`, supplier, since.UTC().Unix())

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count usage records: %w", err)
	}
	return count, nil
}

// UsageStats aggregates recorded requests for a supplier since the cutoff:
// totals, success rate, average response time over non-null samples, and a
// per-endpoint-type breakdown.
func (s *Store) UsageStats(ctx context.Context, supplier string, since time.Time) (*core.UsageStats, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	supplier = core.NormalizeSupplier(supplier)
	if supplier == "" {
		return nil, errors.New("supplier is required")
	}

	cutoff := since.UTC().Unix()

	var (
		total   int
		success int
		avgTime sql.NullFloat64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       AVG(response_time_ms)
		FROM usage_records
		WHERE supplier = ? AND requested_at >= ?
	`, supplier, cutoff)

	if err := row.Scan(&total, &success, &avgTime); err != nil {
		return nil, fmt.Errorf("aggregate usage records: %w", err)
	}

	stats := &core.UsageStats{
		Supplier:           supplier,
		TotalRequests:      total,
		SuccessfulRequests: success,
		FailedRequests:     total - success,
		EndpointBreakdown:  map[string]int{},
	}
	if total > 0 {
		stats.SuccessRate = 100 * float64(success) / float64(total)
	}
	if avgTime.Valid {
		stats.AvgResponseTimeMs = avgTime.Float64
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT endpoint_type, COUNT(*)
		FROM usage_records
		WHERE supplier = ? AND requested_at >= ?
		GROUP BY endpoint_type
	`, supplier, cutoff)
	if err != nil {
		return nil, fmt.Errorf("aggregate endpoint breakdown: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	for rows.Next() {
		var (
			endpointType string
			count        int
		)
		if err := rows.Scan(&endpointType, &count); err != nil {
			return nil, fmt.Errorf("scan endpoint breakdown: %w", err)
		}
		stats.EndpointBreakdown[endpointType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate endpoint breakdown: %w", err)
	}

	return stats, nil
}

// DeleteUsageBefore removes records older than the cutoff and returns the
// number deleted.
func (s *Store) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM usage_records
		WHERE requested_at < ?
	`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete usage records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete usage records: %w", err)
	}
	return affected, nil
}
