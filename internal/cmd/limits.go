package cmd

import "github.com/spf13/cobra"

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage persisted supplier rate limit configuration",
}

func init() {
	limitsCmd.AddCommand(limitsListCmd)
	limitsCmd.AddCommand(limitsSetCmd)
	limitsCmd.AddCommand(limitsEnableCmd)
	limitsCmd.AddCommand(limitsDisableCmd)
	rootCmd.AddCommand(limitsCmd)
}
