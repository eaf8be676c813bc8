package main

import (
	"fmt"
	"os"
	"path/filepath"

	"batchrun/pkg/config"
	"batchrun/pkg/ui"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage batchrun configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (BATCHRUN_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".batchrun.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return &exitError{code: 1, msg: fmt.Sprintf("configuration file %s already exists", configPath)}
	}

	if err := config.DefaultConfig().Save(configPath); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Fprintln(cmd.OutOrStdout(), "\nNext steps:")
	fmt.Fprintln(cmd.OutOrStdout(), "1. Adjust workers and memory_limit_mb for this machine")
	fmt.Fprintln(cmd.OutOrStdout(), "2. Run 'batchrun config validate' to check the configuration")
	fmt.Fprintln(cmd.OutOrStdout(), "3. Start a batch with 'batchrun run --input items.txt -- COMMAND'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{})
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))

	fmt.Fprintln(out, "\nConfiguration sources (in order of priority):")
	fmt.Fprintln(out, "1. Command line flags")
	fmt.Fprintln(out, "2. Environment variables (BATCHRUN_*)")
	if configFile != "" {
		fmt.Fprintf(out, "3. Configuration file: %s\n", configFile)
	} else {
		fmt.Fprintln(out, "3. Configuration file: (searched in default locations)")
	}
	fmt.Fprintln(out, "4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, map[string]interface{}{})
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("configuration is invalid: %v", err)}
	}

	var warnings []string
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if cfg.Batch.CheckpointPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Batch.CheckpointPath), 0755); err != nil {
			warnings = append(warnings, fmt.Sprintf("cannot create checkpoint directory: %v", err))
		}
	}
	if cfg.Batch.MemoryLimitMB == 0 {
		warnings = append(warnings, "memory limit is 0, throttling is disabled")
	}

	for _, w := range warnings {
		ui.PrintWarning("Warning", w)
	}

	ui.PrintSuccess("Configuration is valid")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  Workers: %d\n", cfg.Batch.MaxWorkers)
	fmt.Fprintf(out, "  Memory limit: %.0f MB\n", cfg.Batch.MemoryLimitMB)
	fmt.Fprintf(out, "  Checkpoint every: %d items\n", cfg.Batch.CheckpointInterval)
	fmt.Fprintf(out, "  Retries: %d\n", cfg.Work.MaxRetries)
	fmt.Fprintf(out, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}
