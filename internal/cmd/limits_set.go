package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/internal/core"
)

var (
	limitsSetPerMinute int
	limitsSetPerHour   int
	limitsSetPerDay    int
	limitsSetDisabled  bool
)

var limitsSetCmd = &cobra.Command{
	Use:   "set <supplier>",
	Short: "Create or replace a supplier's rate limit configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		supplier := core.NormalizeSupplier(args[0])
		if supplier == "" {
			return fmt.Errorf("supplier name is required")
		}
		if limitsSetPerMinute < 0 || limitsSetPerHour < 0 || limitsSetPerDay < 0 {
			return fmt.Errorf("budgets must be non-negative")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		cfg := &core.RateLimitConfig{
			Supplier:          supplier,
			RequestsPerMinute: limitsSetPerMinute,
			RequestsPerHour:   limitsSetPerHour,
			RequestsPerDay:    limitsSetPerDay,
			Enabled:           !limitsSetDisabled,
		}
		if err := db.UpsertRateLimitConfig(cmd.Context(), cfg); err != nil {
			return err
		}

		enabled := "enabled"
		if limitsSetDisabled {
			enabled = "disabled"
		}
		fmt.Printf("%s: %d/min %d/hour %d/day (%s)\n",
			supplier, limitsSetPerMinute, limitsSetPerHour, limitsSetPerDay, enabled)
		return nil
	},
}

func init() {
	limitsSetCmd.Flags().IntVar(&limitsSetPerMinute, "per-minute", 0, "Requests allowed per trailing minute (0 = unlimited)")
	limitsSetCmd.Flags().IntVar(&limitsSetPerHour, "per-hour", 0, "Requests allowed per trailing hour (0 = unlimited)")
	limitsSetCmd.Flags().IntVar(&limitsSetPerDay, "per-day", 0, "Requests allowed per trailing day (0 = unlimited)")
	limitsSetCmd.Flags().BoolVar(&limitsSetDisabled, "disabled", false, "Store the configuration in a disabled state")

	_ = limitsSetCmd.MarkFlagRequired("per-minute")
	_ = limitsSetCmd.MarkFlagRequired("per-hour")
	_ = limitsSetCmd.MarkFlagRequired("per-day")
}
