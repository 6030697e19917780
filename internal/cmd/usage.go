package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/internal/core/tracker"
	"github.com/partflow/partflow/internal/output"
)

var (
	usageWindow string
	usageOutput string
	usageOut    string
)

var usageCmd = &cobra.Command{
	Use:   "usage <supplier>",
	Short: "Show recorded supplier request statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(usageOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		trk := &tracker.Tracker{Store: db}
		stats, err := trk.GetUsageStats(cmd.Context(), args[0], usageWindow)
		if err != nil {
			return err
		}

		sink, err := openSink(strings.TrimSpace(usageOut))
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.FormatUsageStats(format, stats)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageWindow, "window", "24h", "Stats window: 1h|24h|7d|30d")
	usageCmd.Flags().StringVar(&usageOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	usageCmd.Flags().StringVar(&usageOut, "out", "", "Write output to a file (default stdout)")
	rootCmd.AddCommand(usageCmd)
}
