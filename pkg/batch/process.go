package batch

import "context"

// Process runs fn over items with maxWorkers workers and returns the
// successful results in completion order. Nothing is checkpointed and memory
// throttling uses the default limit.
func Process[T, R any](ctx context.Context, items []T, fn WorkFunc[T, R], maxWorkers int) ([]R, error) {
	opts := DefaultOptions()
	opts.MaxWorkers = maxWorkers
	opts.CheckpointPath = ""

	runner, err := New[T, R](opts, nil)
	if err != nil {
		return nil, err
	}

	report, err := runner.Run(ctx, items, fn, false)
	if err != nil {
		return nil, err
	}
	return report.Results, nil
}
