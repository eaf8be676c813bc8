package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"batchrun/internal/pool"
	"batchrun/pkg/checkpoint"
	"batchrun/pkg/logger"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"
)

var (
	// ErrAlreadyRunning is returned when Run is called on a busy runner
	ErrAlreadyRunning = errors.New("batch runner is already running")

	// ErrNilWorkFunc is returned when Run is given no work function
	ErrNilWorkFunc = errors.New("work function is nil")
)

// WorkFunc processes one item. It is called concurrently from several
// goroutines with different items.
type WorkFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Report is what Run returns
type Report[R any] struct {
	// Results holds the values of successful items from this run, in
	// completion order
	Results []R

	// Errors maps input index to the error of each item that failed in this run
	Errors map[int]error

	Progress progress.State
	Success  bool
}

// Runner executes a batch of items through a bounded worker pool with
// memory backpressure, pause/cancel controls and periodic checkpoints.
// One Runner runs one batch at a time.
type Runner[T, R any] struct {
	opts    Options
	logger  logger.Logger
	store   Store
	monitor memory.Monitor
	release func()
	gate    *gate

	mu        sync.Mutex
	state     *progress.State
	running   bool
	cancelRun context.CancelFunc

	cancelled     atomic.Bool
	unknownLogged atomic.Bool
	watchers      sync.WaitGroup
}

// New creates a runner. A checkpoint store is built from CheckpointPath when
// opts.Store is nil; a process monitor is used when opts.Monitor is nil.
func New[T, R any](opts Options, log logger.Logger) (*Runner[T, R], error) {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithField("component", "batch")

	store := opts.Store
	if store == nil && opts.CheckpointPath != "" {
		s, err := checkpoint.NewStore(opts.CheckpointPath, log)
		if err != nil {
			return nil, err
		}
		store = s
	}

	monitor := opts.Monitor
	if monitor == nil {
		monitor = memory.Default(log)
	}

	r := &Runner[T, R]{
		opts:    opts,
		logger:  log,
		store:   store,
		monitor: monitor,
		release: memory.Release,
		gate:    newGate(),
		state:   progress.New(0),
	}

	logger.LogComponentStart(log, "batch", map[string]interface{}{
		"max_workers":         opts.MaxWorkers,
		"memory_limit_mb":     opts.MemoryLimitMB,
		"checkpoint_interval": opts.CheckpointInterval,
		"checkpoint_path":     opts.CheckpointPath,
	})

	return r, nil
}

// Run processes items with fn. With resume set, progress is loaded from the
// checkpoint and items already completed are not dispatched again; items must
// then be supplied in the same order as in the interrupted run.
//
// Item errors are recorded in the returned progress, never returned. A
// non-nil error means the batch could not start at all.
func (r *Runner[T, R]) Run(ctx context.Context, items []T, fn WorkFunc[T, R], resume bool) (*Report[R], error) {
	if fn == nil {
		return r.fail(len(items), ErrNilWorkFunc), ErrNilWorkFunc
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancelRun = cancel
	r.mu.Unlock()

	r.cancelled.Store(false)
	r.unknownLogged.Store(false)

	var dispatcher sync.WaitGroup
	defer func() {
		cancel()
		dispatcher.Wait()
		r.watchers.Wait()
		r.mu.Lock()
		r.running = false
		r.cancelRun = nil
		r.mu.Unlock()
	}()

	state, resumed := r.initialState(items, resume)
	remaining := state.Remaining(len(items))

	// Fewer items than the checkpoint covers: the missing ones cannot run, so
	// the batch ends cancelled and a later resume with the full input finishes it.
	short := resumed && len(items) < state.Total
	if short {
		r.logger.WarnWithFields("Resumed with fewer items than the checkpoint; the rest stay pending", map[string]interface{}{
			"items": len(items),
			"total": state.Total,
		})
	}

	if resumed && len(remaining) == 0 {
		return r.finishResumedWithoutWork(state, short), nil
	}

	if resumed {
		state.Reopen()
		if state.StartTime == nil {
			now := time.Now()
			state.StartTime = &now
		}
		if len(items) > state.Total {
			state.Total = len(items)
		}
	}
	if r.gate.held(holdUser) {
		_ = state.SetStatus(progress.StatusPaused)
	}

	r.mu.Lock()
	r.state = state
	r.mu.Unlock()

	event := "batch_started"
	if resumed {
		event = "batch_resumed"
	}
	logger.LogEvent(r.logger, logger.SeverityInfo, event, map[string]interface{}{
		"total":       state.Total,
		"completed":   state.Completed,
		"remaining":   len(remaining),
		"max_workers": r.opts.MaxWorkers,
	})

	jobs := make(chan pool.Job[T])
	dispatcher.Add(1)
	go func() {
		defer dispatcher.Done()
		r.dispatch(runCtx, items, remaining, jobs)
	}()

	workers := pool.New[T, R](r.opts.MaxWorkers, r.logger)
	completions := workers.Process(runCtx, jobs, pool.Func[T, R](fn))

	report := &Report[R]{
		Results: make([]R, 0, len(remaining)),
		Errors:  make(map[int]error),
	}
	folded := 0

loop:
	for {
		select {
		case c, ok := <-completions:
			if !ok {
				break loop
			}
			if r.stopRequested(runCtx) {
				break loop
			}

			r.checkMemory(runCtx)
			r.fold(c, items[c.Index])
			folded++

			if c.Err != nil {
				report.Errors[c.Index] = c.Err
			} else {
				report.Results = append(report.Results, c.Value)
			}
		case <-runCtx.Done():
			break loop
		}
	}

	final := r.finish(r.stopRequested(runCtx) || short, len(remaining)-folded)
	report.Progress = *final
	report.Success = final.Failed == 0
	return report, nil
}

// dispatch sends the remaining items in input order, consulting cancellation,
// memory and the pause gate before each one
func (r *Runner[T, R]) dispatch(ctx context.Context, items []T, remaining []int, jobs chan<- pool.Job[T]) {
	defer close(jobs)

	for _, idx := range remaining {
		if r.stopRequested(ctx) {
			return
		}
		r.checkMemory(ctx)
		if err := r.gate.wait(ctx); err != nil {
			return
		}
		if r.stopRequested(ctx) {
			return
		}

		select {
		case jobs <- pool.Job[T]{Index: idx, Item: items[idx]}:
		case <-ctx.Done():
			return
		}
	}
}

// initialState loads the checkpoint when resuming, or starts a fresh state
func (r *Runner[T, R]) initialState(items []T, resume bool) (*progress.State, bool) {
	if resume && r.store != nil {
		state, err := r.store.Load()
		switch {
		case err == nil:
			if verr := state.Validate(); verr != nil {
				logger.LogEvent(r.logger, logger.SeverityWarn, "checkpoint_load_failed", map[string]interface{}{
					"error": verr.Error(),
				})
				break
			}
			return state, true
		case errors.Is(err, checkpoint.ErrNotFound):
			r.logger.Debug("No checkpoint to resume from, starting fresh")
		default:
			logger.LogEvent(r.logger, logger.SeverityWarn, "checkpoint_load_failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	state := progress.New(len(items))
	_ = state.Start(time.Now())
	return state, false
}

// finishResumedWithoutWork handles a resume where every supplied item is
// already done. An unfinished checkpoint is closed out: COMPLETED when the
// whole batch is folded in, CANCELLED when the input was short. A cancelled
// checkpoint whose items all completed is promoted to COMPLETED; other
// finished checkpoints are returned as is.
func (r *Runner[T, R]) finishResumedWithoutWork(state *progress.State, short bool) *Report[R] {
	allDone := !short && state.Completed >= state.Total
	if state.Status == progress.StatusCancelled && allDone {
		state.Reopen()
	}

	if !state.Status.IsTerminal() {
		if state.Status == progress.StatusPending {
			_ = state.Start(time.Now())
		}
		status := progress.StatusCompleted
		if !allDone {
			status = progress.StatusCancelled
			state.Skipped = state.Total - state.Completed
		}
		_ = state.Finish(status, time.Now())
		r.saveCheckpoint(state.Clone())
	}

	r.mu.Lock()
	r.state = state
	snapshot := state.Clone()
	r.mu.Unlock()

	logger.LogEvent(r.logger, logger.SeverityInfo, "batch_resumed", map[string]interface{}{
		"total":     snapshot.Total,
		"completed": snapshot.Completed,
		"remaining": 0,
		"status":    string(snapshot.Status),
	})

	return &Report[R]{
		Results:  []R{},
		Errors:   map[int]error{},
		Progress: *snapshot,
		Success:  snapshot.Failed == 0,
	}
}

// fold records one completion and writes a checkpoint when one is due
func (r *Runner[T, R]) fold(c pool.Completion[R], item T) {
	r.mu.Lock()
	if c.Err != nil {
		r.state.RecordFailure(c.Index, r.opts.Describe(item), c.Err)
	} else {
		r.state.RecordSuccess(c.Index)
	}

	var snapshot *progress.State
	if r.state.Completed%r.opts.CheckpointInterval == 0 {
		snapshot = r.state.Clone()
	}
	update := Update{
		Index:     c.Index,
		Err:       c.Err,
		Total:     r.state.Total,
		Completed: r.state.Completed,
		Success:   r.state.Success,
		Failed:    r.state.Failed,
		Status:    r.state.Status,
	}
	r.mu.Unlock()

	if c.Err != nil {
		logger.LogEvent(r.logger, logger.SeverityError, "item_failed", map[string]interface{}{
			"index":    c.Index,
			"error":    c.Err.Error(),
			"duration": c.Duration,
		})
	}
	if snapshot != nil {
		r.saveCheckpoint(snapshot)
	}
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(update)
	}
}

// finish stamps the terminal status, writes the final checkpoint and returns
// the final snapshot
func (r *Runner[T, R]) finish(cancelled bool, unfinished int) *progress.State {
	status := progress.StatusCompleted
	if cancelled {
		status = progress.StatusCancelled
	}

	r.mu.Lock()
	if cancelled {
		// includes items a short resumed input did not supply
		if missing := r.state.Total - r.state.Completed; missing > unfinished {
			unfinished = missing
		}
		if unfinished > 0 {
			r.state.Skipped = unfinished
		}
	}
	if err := r.state.Finish(status, time.Now()); err != nil {
		r.logger.WithError(err).Warn("Unexpected status transition")
	}
	final := r.state.Clone()
	r.mu.Unlock()

	r.saveCheckpoint(final)

	fields := map[string]interface{}{
		"total":     final.Total,
		"completed": final.Completed,
		"success":   final.Success,
		"failed":    final.Failed,
		"skipped":   final.Skipped,
		"duration":  final.Duration(time.Now()),
	}
	if cancelled {
		logger.LogEvent(r.logger, logger.SeverityWarn, "batch_cancelled", fields)
	} else {
		logger.LogEvent(r.logger, logger.SeverityInfo, "batch_completed", fields)
	}
	return final
}

// fail records a batch that could not start
func (r *Runner[T, R]) fail(total int, cause error) *Report[R] {
	state := progress.New(total)
	_ = state.Finish(progress.StatusFailed, time.Now())

	r.mu.Lock()
	if !r.running {
		r.state = state
	}
	r.mu.Unlock()

	logger.LogEvent(r.logger, logger.SeverityError, "batch_failed", map[string]interface{}{
		"error": cause.Error(),
		"total": total,
	})

	return &Report[R]{
		Results:  []R{},
		Errors:   map[int]error{},
		Progress: *state.Clone(),
		Success:  false,
	}
}

func (r *Runner[T, R]) saveCheckpoint(state *progress.State) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(state); err != nil {
		logger.LogEvent(r.logger, logger.SeverityError, "checkpoint_save_failed", map[string]interface{}{
			"error":     err.Error(),
			"completed": state.Completed,
		})
		return
	}
	logger.LogEvent(r.logger, logger.SeverityDebug, "checkpoint_saved", map[string]interface{}{
		"completed": state.Completed,
		"total":     state.Total,
		"status":    string(state.Status),
	})
}

func (r *Runner[T, R]) stopRequested(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

// Cancel asks the running batch to stop. Dispatch stops immediately; work
// already in flight is not interrupted but its results are discarded.
func (r *Runner[T, R]) Cancel() {
	r.cancelled.Store(true)

	r.mu.Lock()
	cancel := r.cancelRun
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	logger.LogEvent(r.logger, logger.SeverityWarn, "cancel_requested", nil)
}

// Pause stops new items from being dispatched. In-flight items still finish
// and are recorded.
func (r *Runner[T, R]) Pause() {
	if !r.gate.hold(holdUser) {
		return
	}

	r.mu.Lock()
	if r.state.Status == progress.StatusRunning {
		_ = r.state.SetStatus(progress.StatusPaused)
	}
	r.mu.Unlock()

	logger.LogEvent(r.logger, logger.SeverityInfo, "batch_paused", nil)
}

// Resume reopens dispatch after Pause. Memory backpressure, if active, still
// holds dispatch until usage drops.
func (r *Runner[T, R]) Resume() {
	if !r.gate.release(holdUser) {
		return
	}

	r.mu.Lock()
	if r.state.Status == progress.StatusPaused {
		_ = r.state.SetStatus(progress.StatusRunning)
	}
	r.mu.Unlock()

	logger.LogEvent(r.logger, logger.SeverityInfo, "batch_unpaused", nil)
}

// Progress returns a snapshot of the current progress
func (r *Runner[T, R]) Progress() progress.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state.Clone()
}

// IsRunning reports whether Run is in progress
func (r *Runner[T, R]) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ClearProgress deletes the saved checkpoint
func (r *Runner[T, R]) ClearProgress() error {
	if r.store == nil {
		return nil
	}
	if err := r.store.Clear(); err != nil {
		r.logger.WithError(err).Error("Failed to clear progress")
		return err
	}
	logger.LogEvent(r.logger, logger.SeverityInfo, "progress_cleared", nil)
	return nil
}
