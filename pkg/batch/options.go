package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"batchrun/pkg/config"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"
)

const (
	DefaultMaxWorkers         = 4
	DefaultMemoryLimitMB      = 2000
	DefaultCheckpointInterval = 10
	DefaultMemoryPollInterval = time.Second

	// resumeFraction of the limit that memory must fall below before
	// dispatch reopens
	resumeFraction = 0.8
)

// Store persists progress between runs. *checkpoint.Store implements it.
// Load must return checkpoint.ErrNotFound when nothing has been saved.
type Store interface {
	Save(state *progress.State) error
	Load() (*progress.State, error)
	Clear() error
}

// Update is handed to OnProgress after every folded completion
type Update struct {
	Index     int
	Err       error
	Total     int
	Completed int
	Success   int
	Failed    int
	Status    progress.Status
}

// Options configures a Runner
type Options struct {
	// MaxWorkers bounds concurrent work function calls
	MaxWorkers int

	// MemoryLimitMB pauses dispatch when the process uses more than this.
	// Zero or negative disables throttling.
	MemoryLimitMB float64

	// CheckpointInterval writes a checkpoint every N completions
	CheckpointInterval int

	// CheckpointPath is used to build a checkpoint.Store when Store is nil.
	// With both empty, progress is kept in memory only.
	CheckpointPath string

	// MemoryPollInterval is how often usage is re-sampled while throttled
	MemoryPollInterval time.Duration

	Monitor memory.Monitor
	Store   Store

	// OnProgress is called from the coordinating goroutine; it must not block
	OnProgress func(Update)

	// Describe renders an item for FailedItems. Defaults to fmt.Sprint.
	Describe func(item interface{}) string
}

// DefaultOptions returns the documented defaults with a checkpoint in the
// system temp directory
func DefaultOptions() Options {
	return Options{
		MaxWorkers:         DefaultMaxWorkers,
		MemoryLimitMB:      DefaultMemoryLimitMB,
		CheckpointInterval: DefaultCheckpointInterval,
		CheckpointPath:     filepath.Join(os.TempDir(), "batchrun_progress.json"),
		MemoryPollInterval: DefaultMemoryPollInterval,
	}
}

// OptionsFromConfig maps the batch section of the configuration
func OptionsFromConfig(cfg config.BatchConfig) Options {
	opts := DefaultOptions()
	opts.MaxWorkers = cfg.MaxWorkers
	opts.MemoryLimitMB = cfg.MemoryLimitMB
	opts.CheckpointInterval = cfg.CheckpointInterval
	opts.MemoryPollInterval = cfg.MemoryPollInterval
	if cfg.CheckpointPath != "" {
		opts.CheckpointPath = cfg.CheckpointPath
	}
	return opts
}

// withDefaults fills unset numeric fields
func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}
	if o.MemoryPollInterval <= 0 {
		o.MemoryPollInterval = DefaultMemoryPollInterval
	}
	if o.Describe == nil {
		o.Describe = func(item interface{}) string { return fmt.Sprint(item) }
	}
	return o
}
