package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/internal/core/tracker"
)

var cleanupKeepDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete usage records older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupKeepDays < 0 {
			return fmt.Errorf("--keep-days must be non-negative")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		trk := &tracker.Tracker{Store: db}
		deleted, err := trk.CleanupOldTrackingData(cmd.Context(), cleanupKeepDays)
		if err != nil {
			return err
		}

		fmt.Printf("Deleted %d usage record(s)\n", deleted)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupKeepDays, "keep-days", tracker.DefaultRetentionDays, "Retain usage records newer than this many days")
	rootCmd.AddCommand(cleanupCmd)
}
