package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"batchrun/pkg/logger"
)

// Func processes one item
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Job is one item tagged with its position in the input
type Job[T any] struct {
	Index int
	Item  T
}

// Completion is the outcome of one job
type Completion[R any] struct {
	Index    int
	Value    R
	Err      error
	Duration time.Duration
}

// PanicError is the error recorded for a job whose function panicked
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work function panicked: %v", e.Value)
}

// Pool runs a work function over a stream of jobs with bounded concurrency
type Pool[T, R any] struct {
	maxWorkers int
	logger     logger.Logger
}

// New creates a pool with at most maxWorkers concurrent invocations.
// Values below 1 are raised to 1.
func New[T, R any](maxWorkers int, log logger.Logger) *Pool[T, R] {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Pool[T, R]{
		maxWorkers: maxWorkers,
		logger:     log.WithField("component", "pool"),
	}
}

// MaxWorkers returns the concurrency bound
func (p *Pool[T, R]) MaxWorkers() int {
	return p.maxWorkers
}

// Process starts the workers and returns the completion stream. Each job read
// from jobs yields exactly one completion unless ctx is done first. The
// stream is closed once jobs is closed and every worker has exited.
//
// fn runs with a context that carries ctx's values but is never cancelled by
// the pool, so work already started is allowed to finish. Once ctx is done,
// workers stop picking up jobs and completions that cannot be delivered are
// dropped.
func (p *Pool[T, R]) Process(ctx context.Context, jobs <-chan Job[T], fn Func[T, R]) <-chan Completion[R] {
	results := make(chan Completion[R], p.maxWorkers)
	workCtx := context.WithoutCancel(ctx)

	p.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.maxWorkers,
	})

	var wg sync.WaitGroup
	for i := 0; i < p.maxWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, workCtx, id, jobs, fn, results)
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
		p.logger.Debug("Worker pool stopped")
	}()

	return results
}

// SubmitAll feeds items to Process in input order, tagging each with its index
func (p *Pool[T, R]) SubmitAll(ctx context.Context, items []T, fn Func[T, R]) <-chan Completion[R] {
	jobs := make(chan Job[T])

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- Job[T]{Index: i, Item: item}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return p.Process(ctx, jobs, fn)
}

// worker is the main worker routine
func (p *Pool[T, R]) worker(ctx, workCtx context.Context, id int, jobs <-chan Job[T], fn Func[T, R], results chan<- Completion[R]) {
	for job := range jobs {
		if ctx.Err() != nil {
			p.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		}

		completion := p.run(workCtx, job, fn)

		select {
		case results <- completion:
		case <-ctx.Done():
			p.logger.DebugWithFields("Completion dropped - context cancelled", map[string]interface{}{
				"worker_id": id,
				"index":     job.Index,
			})
			return
		}
	}
}

// run invokes fn for one job, turning a panic into the job's error
func (p *Pool[T, R]) run(ctx context.Context, job Job[T], fn Func[T, R]) (c Completion[R]) {
	start := time.Now()
	c.Index = job.Index

	defer func() {
		if r := recover(); r != nil {
			c.Err = &PanicError{Value: r, Stack: debug.Stack()}
			p.logger.ErrorWithFields("Work function panicked", map[string]interface{}{
				"index": job.Index,
				"panic": fmt.Sprint(r),
			})
		}
		c.Duration = time.Since(start)
	}()

	c.Value, c.Err = fn(ctx, job.Item)
	return c
}
