package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"batchrun/pkg/batch"
	"batchrun/pkg/checkpoint"
	"batchrun/pkg/config"
	"batchrun/pkg/logger"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"
	"batchrun/pkg/ratelimit"
	"batchrun/pkg/retry"
	"batchrun/pkg/ui"
	"batchrun/pkg/ui/tui"
	"batchrun/pkg/workfn"

	"github.com/spf13/cobra"
)

var (
	// Run command flags
	inputFile          string
	runName            string
	workers            int
	memoryLimit        float64
	checkpointInterval int
	checkpointPath     string
	resumeRun          bool
	forceRestart       bool
	retries            int
	itemTimeout        time.Duration
	rateLimit          int
	notify             bool
	quietOutput        bool
	useTUI             bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run --input FILE [flags] -- COMMAND [ARGS...]",
	Short: "Run a command once for every line of an input file",
	Long: `Run COMMAND once per non-empty line of the input file, several at a time.

Each "{}" in ARGS is replaced by the item; without one the item is appended as
the last argument. Progress is checkpointed so that an interrupted batch can
be continued with --resume, as long as the input file is unchanged.

The first Ctrl+C stops dispatching and saves progress; a second one exits
immediately.`,
	Example: `  # Compress every file listed in files.txt, eight at a time
  batchrun run --input files.txt --workers 8 -- gzip -k {}

  # Resume after an interruption
  batchrun run --input files.txt --resume -- gzip -k {}

  # Keep memory under 1 GB, retry failures twice, give each item 30s
  batchrun run -i urls.txt --memory-limit 1000 --retries 2 --timeout 30s -- curl -fsSO {}`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "file with one item per line (- for stdin)")
	runCmd.Flags().StringVarP(&runName, "name", "n", "", "batch name, used for the default checkpoint location")
	runCmd.Flags().IntVarP(&workers, "workers", "w", batch.DefaultMaxWorkers, "maximum concurrent items")
	runCmd.Flags().Float64Var(&memoryLimit, "memory-limit", batch.DefaultMemoryLimitMB, "pause dispatch above this many MB (0 disables)")
	runCmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", batch.DefaultCheckpointInterval, "save progress every N completed items")
	runCmd.Flags().StringVar(&checkpointPath, "checkpoint", "", "checkpoint file (default: per-name file in the data directory)")
	runCmd.Flags().BoolVar(&resumeRun, "resume", false, "resume from the last checkpoint")
	runCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard an existing checkpoint and start over")
	runCmd.Flags().IntVar(&retries, "retries", 0, "retry failed items this many times")
	runCmd.Flags().DurationVar(&itemTimeout, "timeout", 0, "deadline for each item (0 means none)")
	runCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "maximum items started per minute (0 means unlimited)")
	runCmd.Flags().BoolVar(&notify, "notify", true, "announce the result when the batch ends")
	runCmd.Flags().BoolVarP(&quietOutput, "quiet", "q", false, "do not print command output")
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "show an interactive dashboard (p pauses, q cancels); implies --quiet")

	_ = runCmd.MarkFlagRequired("input")
	runCmd.MarkFlagsMutuallyExclusive("resume", "force-restart")
}

// runFlags collects the flags the user actually set, keyed the way
// config.MergeCommandLineFlags expects
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	set := cmd.Flags().Changed

	if set("name") {
		flags["name"] = runName
	}
	if set("workers") {
		flags["workers"] = workers
	}
	if set("memory-limit") {
		flags["memory-limit"] = memoryLimit
	}
	if set("checkpoint-interval") {
		flags["checkpoint-interval"] = checkpointInterval
	}
	if set("checkpoint") {
		flags["checkpoint"] = checkpointPath
	}
	if set("retries") {
		flags["retries"] = retries
	}
	if set("timeout") {
		flags["timeout"] = itemTimeout
	}
	if set("rate-limit") {
		flags["rate-limit"] = rateLimit
	}
	if set("notify") {
		flags["notify"] = notify
	}
	return flags
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}

	items, err := readItemsFrom(inputFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Batch, log)
	if err != nil {
		return err
	}
	if err := prepareCheckpoint(store, resumeRun, forceRestart); err != nil {
		return err
	}

	ui.PrintInfo("Batch", cfg.Batch.Name)
	ui.PrintInfo("Items", fmt.Sprintf("%d", len(items)))
	ui.PrintInfo("Checkpoint", store.Path())

	display := ui.NewProgressDisplay(os.Stderr, cfg.Batch.Name, len(items))
	var resumed *progress.State
	if resumeRun {
		if state, err := store.Load(); err == nil {
			resumed = state
			display.SetResumed(state.Completed, state.Failed)
		}
	}

	var dashboard *tui.TUI
	opts := batch.OptionsFromConfig(cfg.Batch)
	opts.Store = store
	opts.OnProgress = func(u batch.Update) {
		if dashboard != nil {
			dashboard.Handle(u)
			return
		}
		display.Handle(u)
	}
	runner, err := batch.New[string, string](opts, log)
	if err != nil {
		return err
	}

	monitor := memory.NewProcessMonitor(log)
	logger.LogMetrics(log, "memory_at_start", usageFields(monitor.Usage()))

	var out io.Writer = cmd.OutOrStdout()
	if quietOutput || useTUI {
		out = io.Discard
	}
	fn := buildWorkFunc(cfg.Work, args, out, log)

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()
	go handleSignals(ctx, runner, log)

	var dashboardDone chan error
	if useTUI {
		if !ui.IsTerminal(os.Stdout) {
			return &exitError{code: 2, msg: "--tui needs a terminal on stdout"}
		}
		dashboard = tui.NewTUI(cfg.Batch.Name, len(items), cfg.Batch.MemoryLimitMB, runner)
		if resumed != nil {
			dashboard.SetResumed(resumed.Completed, resumed.Success, resumed.Failed)
		}
		dashboardDone = make(chan error, 1)
		go func() { dashboardDone <- dashboard.Start() }()
		go dashboard.WatchMemory(ctx, monitor, time.Second)
	}

	report, err := runner.Run(ctx, items, batch.WorkFunc[string, string](fn), resumeRun)
	if dashboard != nil {
		if err == nil {
			dashboard.Finish(report.Progress)
		} else {
			dashboard.Stop()
		}
		if uiErr := <-dashboardDone; uiErr != nil {
			log.WithError(uiErr).Warn("Dashboard exited with an error")
		}
	}
	if err != nil {
		return err
	}

	display.Complete(report.Progress)
	ui.NewNotifier(cfg.Notifications, ui.PlatformSender(), os.Stderr).BatchFinished(cfg.Batch.Name, report.Progress)

	return exitStatus(report.Progress)
}

// openStore resolves the checkpoint location and opens it
func openStore(cfg config.BatchConfig, log logger.Logger) (*checkpoint.Store, error) {
	path := cfg.CheckpointPath
	if path == "" {
		var err error
		path, err = checkpoint.DefaultPath(cfg.Name)
		if err != nil {
			return nil, err
		}
	}
	return checkpoint.NewStore(path, log)
}

// prepareCheckpoint refuses to silently overwrite the progress of another run
func prepareCheckpoint(store *checkpoint.Store, resume, restart bool) error {
	if !store.Exists() || resume {
		return nil
	}
	if !restart {
		return &exitError{code: 1, msg: fmt.Sprintf(
			"checkpoint %s already exists; use --resume to continue it or --force-restart to discard it",
			store.Path())}
	}

	if err := store.Backup(); err != nil {
		return err
	}
	ui.PrintWarning("Previous checkpoint saved as", store.BackupPath())
	return store.Clear()
}

// buildWorkFunc wraps the command with the configured timeout, rate limit and
// retries. Output of successful items is written to out.
func buildWorkFunc(work config.WorkConfig, args []string, out io.Writer, log logger.Logger) workfn.Func[string, string] {
	fn := workfn.Command(args[0], args[1:]...)
	fn = workfn.WithTimeout(fn, work.Timeout)
	if limiter := ratelimit.PerMinute(work.ItemsPerMinute, work.BurstSize); limiter != nil {
		fn = workfn.WithRateLimit(fn, limiter)
	}
	if work.MaxRetries > 0 {
		fn = workfn.WithRetry(fn, retry.FromWorkConfig(work, log))
	}
	return printOutput(fn, out)
}

func printOutput(fn workfn.Func[string, string], out io.Writer) workfn.Func[string, string] {
	var mu sync.Mutex
	return func(ctx context.Context, item string) (string, error) {
		output, err := fn(ctx, item)
		if err == nil && output != "" {
			mu.Lock()
			fmt.Fprintln(out, output)
			mu.Unlock()
		}
		return output, err
	}
}

// handleSignals cancels the run on the first interrupt and exits on the second
func handleSignals(ctx context.Context, runner *batch.Runner[string, string], log logger.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		log.WithField("signal", sig.String()).Warn("Interrupt received, stopping dispatch")
		ui.PrintWarning("Stopping; press Ctrl+C again to exit without waiting")
		runner.Cancel()
	case <-ctx.Done():
		return
	}

	select {
	case <-sigs:
		log.Error("Second interrupt, exiting")
		os.Exit(1)
	case <-ctx.Done():
	}
}

// readItemsFrom reads one item per non-empty line. "-" reads from stdin.
func readItemsFrom(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return readItems(r)
}

func readItems(r io.Reader) ([]string, error) {
	var items []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return items, nil
}

// exitStatus maps the final progress to the process exit code
func exitStatus(state progress.State) error {
	switch {
	case state.Status == progress.StatusCancelled:
		return &exitError{code: 1, msg: fmt.Sprintf("cancelled; %d items not run, continue with --resume", state.Skipped)}
	case state.Failed > 0:
		return &exitError{code: 1, msg: fmt.Sprintf("%d items failed", state.Failed)}
	case state.Status != progress.StatusCompleted:
		return &exitError{code: 1, msg: fmt.Sprintf("batch ended in state %s", state.Status)}
	}
	return nil
}

func usageFields(u memory.Usage) map[string]interface{} {
	return map[string]interface{}{
		"rss_mb":              u.RSSMB,
		"vms_mb":              u.VMSMB,
		"process_percent":     u.ProcessPercent,
		"system_used_percent": u.SystemUsedPct,
		"available_mb":        u.AvailableMB,
	}
}
