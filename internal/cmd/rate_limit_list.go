package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelbot/pixelbot/internal/core/store"
	"github.com/pixelbot/pixelbot/internal/output"
)

var (
	rateLimitListAll    bool
	rateLimitListHost   string
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored provider pacing state",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.PacingQuery{
			All:    rateLimitListAll,
			Host:   strings.TrimSpace(rateLimitListHost),
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if query.Validate() != nil {
			query.All = true
		}

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeDataset(cmd, "rate-limit.list", "Provider Pacing", output.PacingEntries(entries, time.Now()), "(no stored pacing state)")
	},
}

func init() {
	addOutputFlags(rateLimitListCmd)
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all hosts (default)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListHost, "host", "", "List a single host (exact match)")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List hosts with matching prefix")
}
