package main

import (
	"batchrun/pkg/batch"
	"batchrun/pkg/ui"

	"github.com/spf13/cobra"
)

var clearBackup bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the saved progress of a batch",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().StringVarP(&runName, "name", "n", "", "batch name")
	clearCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file")
	clearCmd.Flags().BoolVar(&clearBackup, "backup", false, "keep a .backup copy before deleting")
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(checkpointFlags(cmd))
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Batch, log)
	if err != nil {
		return err
	}
	if !store.Exists() {
		ui.PrintWarning("No checkpoint at", store.Path())
		return nil
	}
	if clearBackup {
		if err := store.Backup(); err != nil {
			return err
		}
		ui.PrintInfo("Backup", store.BackupPath())
	}

	opts := batch.OptionsFromConfig(cfg.Batch)
	opts.Store = store
	runner, err := batch.New[string, string](opts, log)
	if err != nil {
		return err
	}
	if err := runner.ClearProgress(); err != nil {
		return err
	}

	ui.PrintSuccess("Cleared " + store.Path())
	return nil
}
