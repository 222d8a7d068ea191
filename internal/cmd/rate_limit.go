package cmd

import "github.com/spf13/cobra"

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Manage persisted provider pacing state",
	Long: `Inspect or clear the per-host pacing state kept for image providers.

Each provider host has a request counter for its current window and, after
a 429, a backoff deadline. The state survives restarts.`,
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
