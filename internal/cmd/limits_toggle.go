package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/internal/core"
)

// Configurations are never hard-deleted; disabling keeps the stored
// budgets so the supplier can be re-enabled without re-entering them.
var limitsEnableCmd = &cobra.Command{
	Use:   "enable <supplier>",
	Short: "Enable rate limit enforcement for a supplier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRateLimit(cmd.Context(), args[0], true)
	},
}

var limitsDisableCmd = &cobra.Command{
	Use:   "disable <supplier>",
	Short: "Disable rate limit enforcement for a supplier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleRateLimit(cmd.Context(), args[0], false)
	},
}

func toggleRateLimit(ctx context.Context, supplier string, enabled bool) error {
	name := core.NormalizeSupplier(supplier)
	if name == "" {
		return fmt.Errorf("supplier name is required")
	}

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	changed, err := db.SetRateLimitEnabled(ctx, name, enabled)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("no rate limit configuration for supplier %s", name)
	}

	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Printf("%s: rate limiting %s\n", name, state)
	return nil
}
