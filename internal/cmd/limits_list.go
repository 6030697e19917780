package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/internal/core"
	"github.com/partflow/partflow/internal/core/store"
	"github.com/partflow/partflow/internal/output"
)

var (
	limitsListOutput   string
	limitsListOut      string
	limitsListOutDir   string
	limitsListAll      bool
	limitsListSupplier string
	limitsListPrefix   string
)

var limitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(limitsListOutput)
		if err != nil {
			return err
		}

		query := store.RateLimitQuery{
			All:      limitsListAll,
			Supplier: strings.TrimSpace(limitsListSupplier),
			Prefix:   strings.TrimSpace(limitsListPrefix),
		}
		if !query.All && query.Supplier == "" && query.Prefix == "" {
			query.All = true
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListRateLimitConfigs(cmd.Context(), query)
		if err != nil {
			return err
		}

		configs := make([]*core.RateLimitConfig, 0, len(entries))
		for i := range entries {
			configs = append(configs, &entries[i])
		}

		outPath := strings.TrimSpace(limitsListOut)
		outDir := strings.TrimSpace(limitsListOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}

		ext := outputExtension(format)
		if outDir != "" {
			var err error
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("limits.list.%s", ext))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.FormatRateLimitConfigs(format, configs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	limitsListCmd.Flags().StringVar(&limitsListOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	limitsListCmd.Flags().StringVar(&limitsListOut, "out", "", "Write output to a file (default stdout)")
	limitsListCmd.Flags().StringVar(&limitsListOutDir, "out-dir", "", "Write output to a directory")
	limitsListCmd.Flags().BoolVar(&limitsListAll, "all", false, "List all suppliers")
	limitsListCmd.Flags().StringVar(&limitsListSupplier, "supplier", "", "List a single supplier (exact match)")
	limitsListCmd.Flags().StringVar(&limitsListPrefix, "prefix", "", "List suppliers with matching prefix")
}
