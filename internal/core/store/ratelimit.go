package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/partflow/partflow/internal/core"
)

// GetRateLimitConfig returns the stored config for a supplier, or nil when
// none exists.
func (s *Store) GetRateLimitConfig(ctx context.Context, supplier string) (*core.RateLimitConfig, error) {
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

	var (
		perMinute   int
		perHour     int
		perDay      int
		enabled     int
		burstAllow  sql.NullInt64
		burstWindow sql.NullInt64
		updatedAt   int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT requests_per_minute, requests_per_hour, requests_per_day,
		       enabled, burst_allowance, burst_window_seconds, updated_at
		FROM rate_limit_configs
		WHERE supplier = ?
	`, supplier)

	if err := row.Scan(&perMinute, &perHour, &perDay, &enabled, &burstAllow, &burstWindow, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit config: %w", err)
	}

	cfg := &core.RateLimitConfig{
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

	return cfg, nil
}

// UpsertRateLimitConfig persists a supplier config, replacing any existing
// budgets.
func (s *Store) UpsertRateLimitConfig(ctx context.Context, cfg *core.RateLimitConfig) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if cfg == nil {
		return errors.New("rate limit config is required")
	}

	supplier := core.NormalizeSupplier(cfg.Supplier)
	if supplier == "" {
		return errors.New("supplier is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_configs (supplier, requests_per_minute, requests_per_hour, requests_per_day,
			enabled, burst_allowance, burst_window_seconds, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(supplier) DO UPDATE SET
			requests_per_minute = excluded.requests_per_minute,
			requests_per_hour = excluded.requests_per_hour,
			requests_per_day = excluded.requests_per_day,
			enabled = excluded.enabled,
			burst_allowance = excluded.burst_allowance,
			burst_window_seconds = excluded.burst_window_seconds,
			updated_at = excluded.updated_at
	`, supplier, cfg.RequestsPerMinute, cfg.RequestsPerHour, cfg.RequestsPerDay,
		boolToInt(cfg.Enabled), nullableInt(cfg.BurstAllowance), nullableInt(cfg.BurstWindowSeconds),
		time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store rate limit config: %w", err)
	}

	return nil
}

// EnsureRateLimitConfig inserts a supplier config only if none exists.
// Existing configs, including manually edited budgets, are left untouched.
func (s *Store) EnsureRateLimitConfig(ctx context.Context, cfg *core.RateLimitConfig) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if cfg == nil {
		return errors.New("rate limit config is required")
	}

	supplier := core.NormalizeSupplier(cfg.Supplier)
	if supplier == "" {
		return errors.New("supplier is required")
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limit_configs (supplier, requests_per_minute, requests_per_hour, requests_per_day,
			enabled, burst_allowance, burst_window_seconds, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(supplier) DO NOTHING
	`, supplier, cfg.RequestsPerMinute, cfg.RequestsPerHour, cfg.RequestsPerDay,
		boolToInt(cfg.Enabled), nullableInt(cfg.BurstAllowance), nullableInt(cfg.BurstWindowSeconds),
		time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("seed rate limit config: %w", err)
	}

	return nil
}

// SetRateLimitEnabled toggles a supplier config without touching budgets.
// Configs are never hard-deleted.
func (s *Store) SetRateLimitEnabled(ctx context.Context, supplier string, enabled bool) (bool, error) {
	if s == nil || s.DB == nil {
		return false, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	supplier = core.NormalizeSupplier(supplier)
	if supplier == "" {
		return false, errors.New("supplier is required")
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE rate_limit_configs
		SET enabled = ?, updated_at = ?
		WHERE supplier = ?
	`, boolToInt(enabled), time.Now().UTC().Unix(), supplier)
	if err != nil {
		return false, fmt.Errorf("toggle rate limit config: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("toggle rate limit config: %w", err)
	}
	return affected > 0, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func nullableInt(value int) sql.NullInt64 {
	if value == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(value), Valid: true}
}
