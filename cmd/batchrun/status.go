package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"batchrun/pkg/checkpoint"
	"batchrun/pkg/logger"
	"batchrun/pkg/progress"
	"batchrun/pkg/ui"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	statusFailedLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved progress of a batch",
	Long: `Show the checkpoint of a batch: counts, status and the items that failed.

The checkpoint is found the same way as for 'batchrun run': --checkpoint,
then the configured path, then the per-name file in the data directory.`,
	Example: `  batchrun status --name nightly
  batchrun status --checkpoint ./progress.json --failed 0`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVarP(&runName, "name", "n", "", "batch name")
	statusCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file")
	statusCmd.Flags().IntVar(&statusFailedLimit, "failed", 20, "show at most this many failed items (0 for all)")
}

func checkpointFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("name") {
		flags["name"] = runName
	}
	if cmd.Flags().Changed("checkpoint") {
		flags["checkpoint"] = checkpointPath
	}
	return flags
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(checkpointFlags(cmd))
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Batch, log)
	if err != nil {
		return err
	}

	state, err := store.Load()
	if errors.Is(err, checkpoint.ErrNotFound) {
		ui.PrintWarning("No checkpoint at", store.Path())
		return nil
	}
	if err != nil {
		return err
	}

	info, err := store.Info()
	if err != nil {
		log.WithError(err).Warn("Could not read checkpoint metadata")
	}

	out := cmd.OutOrStdout()
	renderSummary(out, store.Path(), state, info)
	renderFailedItems(out, state.FailedItems, statusFailedLimit)

	logger.LogEvent(log, logger.SeverityDebug, "status_shown", map[string]interface{}{
		"path":   store.Path(),
		"status": string(state.Status),
	})
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func renderSummary(w io.Writer, path string, state *progress.State, info map[string]interface{}) {
	table := newTable(w)
	table.SetHeader([]string{"Field", "Value"})

	table.Append([]string{"Checkpoint", path})
	table.Append([]string{"Status", string(state.Status)})
	table.Append([]string{"Progress", fmt.Sprintf("%d/%d (%.1f%%)", state.Completed, state.Total, state.CompletionPercentage())})
	table.Append([]string{"Succeeded", strconv.Itoa(state.Success)})
	table.Append([]string{"Failed", strconv.Itoa(state.Failed)})
	if state.Skipped > 0 {
		table.Append([]string{"Not run", strconv.Itoa(state.Skipped)})
	}
	if state.StartTime != nil {
		table.Append([]string{"Started", state.StartTime.Format(time.RFC3339)})
		table.Append([]string{"Duration", ui.FormatDuration(state.Duration(time.Now()))})
	}
	if age, ok := info["age"].(time.Duration); ok {
		table.Append([]string{"Last saved", ui.FormatDuration(age) + " ago"})
	}

	table.Render()
}

func renderFailedItems(w io.Writer, failed []progress.FailedItem, limit int) {
	if len(failed) == 0 {
		return
	}

	fmt.Fprintln(w)
	table := newTable(w)
	table.SetHeader([]string{"Index", "Item", "Error"})

	shown := failed
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, f := range shown {
		table.Append([]string{strconv.Itoa(f.Index), f.Item, f.Error})
	}
	table.Render()

	if len(shown) < len(failed) {
		fmt.Fprintf(w, "... and %d more\n", len(failed)-len(shown))
	}
}
