package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelbot/pixelbot/internal/core/store"
	"github.com/pixelbot/pixelbot/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or prune stored task and image history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks or generated images",
	Long: `List persisted task history, newest first. With --images, list the
generated images of one user instead (requires --user).`,
	RunE: runHistoryList,
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete task history older than a cutoff",
	RunE:  runHistoryPurge,
}

func init() {
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyPurgeCmd)
	rootCmd.AddCommand(historyCmd)

	addOutputFlags(historyListCmd)
	historyListCmd.Flags().Int64("user", 0, "Telegram user id (default: all users)")
	historyListCmd.Flags().Bool("images", false, "List generated images instead of tasks")
	historyListCmd.Flags().String("status", "", "Filter tasks by status: running|succeeded|failed")
	historyListCmd.Flags().Int("limit", 20, "Maximum rows to show")

	historyPurgeCmd.Flags().Duration("older-than", 0, "Age cutoff (default: store.task_retention)")
	historyPurgeCmd.Flags().Bool("dry-run", false, "Report how many rows would be deleted")
	historyPurgeCmd.Flags().Bool("json", false, "Output the result as JSON")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetInt64("user")
	images, _ := cmd.Flags().GetBool("images")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "running", "succeeded", "failed":
	default:
		return fmt.Errorf("unsupported status filter: %s", status)
	}
	if images && userID == 0 {
		return errors.New("--images requires --user")
	}

	_, db, err := openConfiguredStore(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	if images {
		records, err := db.ListUserImages(cmd.Context(), userID, limit)
		if err != nil {
			return err
		}
		title := fmt.Sprintf("Images for user %d", userID)
		return writeDataset(cmd, fmt.Sprintf("history.images.%d", userID), title, output.ImageRecords(records), "(no images)")
	}

	records, err := db.ListTaskRecords(cmd.Context(), store.TaskQuery{UserID: userID, Status: status, Limit: limit})
	if err != nil {
		return err
	}
	return writeDataset(cmd, "history.tasks", "Task History", output.TaskRecords(records), "(no tasks)")
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, db, err := openConfiguredStore(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	if olderThan <= 0 {
		olderThan = cfg.Store.TaskRetention
	}
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	cutoff := time.Now().Add(-olderThan)

	var affected int64
	if dryRun {
		affected, err = db.CountTasksBefore(cmd.Context(), cutoff)
	} else {
		affected, err = db.CleanupOldTasks(cmd.Context(), cutoff)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		payload, err := json.MarshalIndent(map[string]any{
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
			"deleted": affected,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(payload))
		return err
	}
	if dryRun {
		_, err = fmt.Fprintf(out, "Would delete %d task(s) created before %s\n", affected, cutoff.UTC().Format(time.RFC3339))
		return err
	}
	_, err = fmt.Fprintf(out, "Deleted %d task(s) created before %s\n", affected, cutoff.UTC().Format(time.RFC3339))
	return err
}
