package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partflow/partflow/internal/core"
)

type RateLimitQuery struct {
	All      bool
	Supplier string
	Prefix   string
}

func (q RateLimitQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Supplier) != "" {
		return nil
	}
	if strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --supplier, or --prefix")
}

func (q RateLimitQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if supplier := core.NormalizeSupplier(q.Supplier); supplier != "" {
		return "WHERE supplier = ?", []any{supplier}, nil
	}
	prefix := core.NormalizeSupplier(q.Prefix)
	if prefix == "" {
		return "", nil, errors.New("prefix is required")
	}
	return "WHERE supplier LIKE ?", []any{prefix + "%"}, nil
}

func (s *Store) ListRateLimitConfigs(ctx context.Context, q RateLimitQuery) ([]core.RateLimitConfig, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT supplier, requests_per_minute, requests_per_hour, requests_per_day,
		       enabled, burst_allowance, burst_window_seconds, updated_at
		FROM rate_limit_configs
		%s
		ORDER BY supplier
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limit configs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	configs := []core.RateLimitConfig{}
	for rows.Next() {
		var (
			supplier    string
			perMinute   int
			perHour     int
			perDay      int
			enabled     int
			burstAllow  sql.NullInt64
			burstWindow sql.NullInt64
			updatedAt   int64
		)
		if err := rows.Scan(&supplier, &perMinute, &perHour, &perDay, &enabled, &burstAllow, &burstWindow, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan rate limit configs: %w", err)
		}

		cfg := core.RateLimitConfig{
			Supplier:          supplier,
			RequestsPerMinute: perMinute,
			RequestsPerHour:   perHour,
			RequestsPerDay:    perDay,
			Enabled:           enabled != 0,
			UpdatedAt:         time.Unix(updatedAt, 0).UTC(),
		}
		if burstAllow.Valid {
			cfg.BurstAllowance = int(burstAllow.Int64)
		}
		if burstWindow.Valid {
			cfg.BurstWindowSeconds = int(burstWindow.Int64)
		}

		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limit configs: %w", err)
	}

	return configs, nil
}

func (s *Store) CountRateLimitConfigs(ctx context.Context, q RateLimitQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM rate_limit_configs
		%s
	`, where), args...)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limit configs: %w", err)
	}
	return count, nil
}
