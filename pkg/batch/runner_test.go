package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"batchrun/pkg/checkpoint"
	"batchrun/pkg/config"
	"batchrun/pkg/logger"
	"batchrun/pkg/memory"
	"batchrun/pkg/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.CheckpointPath = filepath.Join(t.TempDir(), "progress.json")
	opts.Monitor = memory.Func(func() float64 { return 10 })
	opts.MemoryPollInterval = 10 * time.Millisecond
	return opts
}

func newTestRunner[T, R any](t *testing.T, opts Options) (*Runner[T, R], *logger.TestLogger) {
	t.Helper()
	tl := logger.NewTestLogger()
	r, err := New[T, R](opts, tl)
	require.NoError(t, err)
	r.release = func() {}
	return r, tl
}

func intRange(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func double(_ context.Context, n int) (int, error) {
	return n * 2, nil
}

// recorder wraps a work function and remembers which items it was called with
type recorder struct {
	mu    sync.Mutex
	calls []int
}

func (rc *recorder) wrap(fn WorkFunc[int, int]) WorkFunc[int, int] {
	return func(ctx context.Context, n int) (int, error) {
		rc.mu.Lock()
		rc.calls = append(rc.calls, n)
		rc.mu.Unlock()
		return fn(ctx, n)
	}
}

func (rc *recorder) sorted() []int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := append([]int(nil), rc.calls...)
	sort.Ints(out)
	return out
}

func (rc *recorder) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.calls)
}

// memStore keeps checkpoints in memory and can be told to fail
type memStore struct {
	mu      sync.Mutex
	saved   []*progress.State
	saveErr error
}

func (s *memStore) Save(state *progress.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, state.Clone())
	return nil
}

func (s *memStore) Load() (*progress.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return nil, checkpoint.ErrNotFound
	}
	return s.saved[len(s.saved)-1].Clone(), nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = nil
	return nil
}

func (s *memStore) completedAtSaves() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, st := range s.saved {
		out = append(out, st.Completed)
	}
	return out
}

func TestSimpleBatch(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 2
	r, _ := newTestRunner[int, int](t, opts)

	report, err := r.Run(context.Background(), intRange(10), double, false)
	require.NoError(t, err)

	sort.Ints(report.Results)
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, report.Results)
	assert.True(t, report.Success)
	assert.Empty(t, report.Errors)

	p := report.Progress
	assert.Equal(t, 10, p.Total)
	assert.Equal(t, 10, p.Completed)
	assert.Equal(t, 10, p.Success)
	assert.Equal(t, 0, p.Failed)
	assert.Equal(t, 0, p.Skipped)
	assert.Equal(t, progress.StatusCompleted, p.Status)
	assert.NotNil(t, p.StartTime)
	assert.NotNil(t, p.EndTime)
	assert.NoError(t, p.Validate())
	assert.False(t, r.IsRunning())
}

func TestItemFailure(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))
	boom := errors.New("item 5 is broken")

	report, err := r.Run(context.Background(), intRange(10), func(_ context.Context, n int) (int, error) {
		if n == 5 {
			return 0, boom
		}
		return n, nil
	}, false)
	require.NoError(t, err)

	p := report.Progress
	assert.False(t, report.Success)
	assert.Equal(t, 10, p.Completed)
	assert.Equal(t, 9, p.Success)
	assert.Equal(t, 1, p.Failed)
	require.Len(t, p.FailedItems, 1)
	assert.Equal(t, progress.FailedItem{Index: 5, Item: "5", Error: "item 5 is broken"}, p.FailedItems[0])
	assert.ErrorIs(t, report.Errors[5], boom)
	assert.Len(t, report.Results, 9)
	assert.Equal(t, progress.StatusCompleted, p.Status)
}

func TestAllFailures(t *testing.T) {
	r, tl := newTestRunner[int, int](t, testOptions(t))

	report, err := r.Run(context.Background(), intRange(5), func(_ context.Context, n int) (int, error) {
		return 0, fmt.Errorf("cannot process %d", n)
	}, false)
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.Equal(t, 5, report.Progress.Failed)
	assert.Equal(t, 0, report.Progress.Success)
	assert.Len(t, report.Progress.FailedItems, 5)
	assert.Empty(t, report.Results)
	assert.Len(t, tl.GetEvents("item_failed"), 5)
}

func TestEmptyBatch(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))

	report, err := r.Run(context.Background(), nil, double, false)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, report.Progress.Total)
	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
}

func TestSingleItem(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))

	report, err := r.Run(context.Background(), []int{42}, double, false)
	require.NoError(t, err)

	assert.Equal(t, []int{84}, report.Results)
	assert.Equal(t, 1, report.Progress.Completed)
}

func TestOneWorkerDispatchesInInputOrder(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 1
	r, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(10), rec.wrap(double), false)
	require.NoError(t, err)

	assert.Equal(t, intRange(10), rec.calls)
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, report.Results)
}

func TestPanicIsRecordedAsItemFailure(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))

	report, err := r.Run(context.Background(), intRange(3), func(_ context.Context, n int) (int, error) {
		if n == 1 {
			panic("unexpected input")
		}
		return n, nil
	}, false)
	require.NoError(t, err)

	require.Len(t, report.Progress.FailedItems, 1)
	assert.Equal(t, 1, report.Progress.FailedItems[0].Index)
	assert.Contains(t, report.Progress.FailedItems[0].Error, "unexpected input")
}

func TestCancellation(t *testing.T) {
	opts := testOptions(t)
	r, tl := newTestRunner[int, int](t, opts)

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Cancel()
	}()

	start := time.Now()
	report, err := r.Run(context.Background(), intRange(100), func(_ context.Context, n int) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return n, nil
	}, false)
	require.NoError(t, err)

	p := report.Progress
	assert.Equal(t, progress.StatusCancelled, p.Status)
	assert.Less(t, p.Completed, p.Total)
	assert.Equal(t, p.Total-p.Completed, p.Skipped)
	assert.NoError(t, p.Validate())
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, tl.HasEvent("cancel_requested"))
	assert.True(t, tl.HasEvent("batch_cancelled"))

	// the final checkpoint records the cancellation
	saved, err := progress.Unmarshal(mustRead(t, opts.CheckpointPath))
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCancelled, saved.Status)
	assert.Equal(t, p.Completed, saved.Completed)
}

func TestCancelDoesNotWaitForSlowItems(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 1
	r, _ := newTestRunner[int, int](t, opts)

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 1)

	go func() {
		<-started
		r.Cancel()
	}()

	report, err := r.Run(context.Background(), intRange(3), func(_ context.Context, n int) (int, error) {
		started <- struct{}{}
		<-release
		return n, nil
	}, false)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCancelled, report.Progress.Status)
	assert.Equal(t, 0, report.Progress.Completed)
	assert.Equal(t, 3, report.Progress.Skipped)
}

func TestContextCancellation(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	report, err := r.Run(ctx, intRange(100), func(_ context.Context, n int) (int, error) {
		time.Sleep(5 * time.Millisecond)
		return n, nil
	}, false)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCancelled, report.Progress.Status)
	assert.Less(t, report.Progress.Completed, 100)
}

func TestCheckpointInterval(t *testing.T) {
	store := &memStore{}
	opts := testOptions(t)
	opts.Store = store
	opts.CheckpointInterval = 5
	opts.MaxWorkers = 1
	r, tl := newTestRunner[int, int](t, opts)

	_, err := r.Run(context.Background(), intRange(12), double, false)
	require.NoError(t, err)

	// every 5 completions, then the final write
	assert.Equal(t, []int{5, 10, 12}, store.completedAtSaves())
	assert.Len(t, tl.GetEvents("checkpoint_saved"), 3)

	final, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, final.Status)
}

func TestCheckpointPersistedToDisk(t *testing.T) {
	opts := testOptions(t)
	opts.CheckpointInterval = 5
	r, _ := newTestRunner[int, int](t, opts)

	_, err := r.Run(context.Background(), intRange(10), double, false)
	require.NoError(t, err)

	saved, err := progress.Unmarshal(mustRead(t, opts.CheckpointPath))
	require.NoError(t, err)
	assert.Equal(t, 10, saved.Total)
	assert.Equal(t, 10, saved.Completed)
	assert.Equal(t, progress.StatusCompleted, saved.Status)
	assert.Len(t, saved.CompletedIndices, 10)
}

func TestCheckpointSaveFailureDoesNotAbort(t *testing.T) {
	opts := testOptions(t)
	opts.Store = &memStore{saveErr: errors.New("disk full")}
	opts.CheckpointInterval = 2
	r, tl := newTestRunner[int, int](t, opts)

	report, err := r.Run(context.Background(), intRange(6), double, false)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Equal(t, 6, report.Progress.Completed)
	assert.True(t, tl.HasEvent("checkpoint_save_failed"))
}

func TestResumeSkipsCompletedItems(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 1

	first, _ := newTestRunner[int, int](t, opts)
	_, err := first.Run(context.Background(), intRange(10), double, false)
	require.NoError(t, err)

	second, tl := newTestRunner[int, int](t, opts)
	rec := &recorder{}
	report, err := second.Run(context.Background(), intRange(20), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, rec.sorted())
	assert.Equal(t, 20, report.Progress.Total)
	assert.Equal(t, 20, report.Progress.Completed)
	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.NoError(t, report.Progress.Validate())
	assert.True(t, tl.HasEvent("batch_resumed"))
}

func TestResumeAfterCrashWithOutOfOrderCompletions(t *testing.T) {
	store := &memStore{}
	crashed := progress.New(10)
	require.NoError(t, crashed.Start(time.Now()))
	for _, idx := range []int{0, 1, 2, 4, 7} {
		crashed.RecordSuccess(idx)
	}
	require.NoError(t, store.Save(crashed))

	opts := testOptions(t)
	opts.Store = store
	r, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(10), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 5, 6, 8, 9}, rec.sorted())
	assert.Equal(t, 10, report.Progress.Completed)
	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Len(t, report.Results, 5)
}

func TestResumeFromCancelledRun(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 2

	first, _ := newTestRunner[int, int](t, opts)
	var once sync.Once
	firstReport, err := first.Run(context.Background(), intRange(40), func(_ context.Context, n int) (int, error) {
		if n >= 10 {
			once.Do(first.Cancel)
		}
		return n, nil
	}, false)
	require.NoError(t, err)
	require.Equal(t, progress.StatusCancelled, firstReport.Progress.Status)

	second, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}
	report, err := second.Run(context.Background(), intRange(40), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, 40-firstReport.Progress.Completed, rec.count())
	assert.Equal(t, 40, report.Progress.Completed)
	assert.Equal(t, 0, report.Progress.Skipped)
	assert.NoError(t, report.Progress.Validate())
	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
}

func TestResumeIsIdempotent(t *testing.T) {
	opts := testOptions(t)

	first, _ := newTestRunner[int, int](t, opts)
	done, err := first.Run(context.Background(), intRange(10), double, false)
	require.NoError(t, err)

	second, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}
	again, err := second.Run(context.Background(), intRange(10), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Zero(t, rec.count())
	assert.Equal(t, done.Progress.Completed, again.Progress.Completed)
	assert.Equal(t, done.Progress.Status, again.Progress.Status)
	assert.True(t, done.Progress.EndTime.Equal(*again.Progress.EndTime))
	assert.True(t, again.Success)
}

func TestResumeWithoutCheckpointStartsFresh(t *testing.T) {
	r, tl := newTestRunner[int, int](t, testOptions(t))
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(5), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, 5, rec.count())
	assert.Equal(t, 5, report.Progress.Completed)
	assert.True(t, tl.HasEvent("batch_started"))
	assert.False(t, tl.HasEvent("checkpoint_load_failed"))
}

func TestResumeWithCorruptCheckpointStartsFresh(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, os.WriteFile(opts.CheckpointPath, []byte("{garbage"), 0644))
	r, tl := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(5), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, 5, rec.count())
	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.True(t, tl.HasEvent("checkpoint_load_failed"))
}

func TestResumeWithInconsistentCheckpointStartsFresh(t *testing.T) {
	opts := testOptions(t)
	doc := `{"version":1,"total":10,"completed":15,"success":10,"failed":3,"status":"running","failed_items":[]}`
	require.NoError(t, os.WriteFile(opts.CheckpointPath, []byte(doc), 0644))
	r, tl := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(10), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, 10, rec.count())
	assert.Equal(t, 10, report.Progress.Completed)
	assert.Equal(t, 10, report.Progress.Total)
	assert.NoError(t, report.Progress.Validate())
	assert.True(t, tl.HasEvent("checkpoint_load_failed"))
}

func TestResumeRejectsInconsistentStateFromAnyStore(t *testing.T) {
	bad := progress.New(4)
	bad.Status = progress.StatusRunning
	bad.Completed, bad.Success = 3, 1
	store := &memStore{saved: []*progress.State{bad}}

	opts := testOptions(t)
	opts.Store = store
	r, tl := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(4), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, 4, rec.count())
	assert.NoError(t, report.Progress.Validate())
	assert.True(t, tl.HasEvent("checkpoint_load_failed"))
}

func TestResumeWithShortInputStaysCancelled(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 2

	first, _ := newTestRunner[int, int](t, opts)
	var once sync.Once
	_, err := first.Run(context.Background(), intRange(20), func(_ context.Context, n int) (int, error) {
		if n >= 5 {
			once.Do(first.Cancel)
		}
		return n, nil
	}, false)
	require.NoError(t, err)

	second, _ := newTestRunner[int, int](t, opts)
	report, err := second.Run(context.Background(), intRange(8), double, true)
	require.NoError(t, err)

	state := report.Progress
	assert.Equal(t, progress.StatusCancelled, state.Status)
	assert.Equal(t, 20, state.Total)
	assert.Less(t, state.Completed, 20)
	assert.Equal(t, 20-state.Completed, state.Skipped)
	assert.NoError(t, state.Validate())

	// the full input finishes the batch
	third, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}
	report, err = third.Run(context.Background(), intRange(20), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Equal(t, 20, report.Progress.Completed)
	assert.Equal(t, 20-state.Completed, rec.count())
	assert.Zero(t, report.Progress.Skipped)
}

func TestResumeShortInputWithNothingLeftToRun(t *testing.T) {
	state := progress.New(10)
	require.NoError(t, state.Start(time.Now()))
	for i := 0; i < 5; i++ {
		state.RecordSuccess(i)
	}
	store := &memStore{saved: []*progress.State{state}}

	opts := testOptions(t)
	opts.Store = store
	r, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(5), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Zero(t, rec.count())
	assert.Equal(t, progress.StatusCancelled, report.Progress.Status)
	assert.Equal(t, 5, report.Progress.Skipped)
	assert.NoError(t, report.Progress.Validate())
}

func TestResumeFullyFoldedCancelledCheckpointCompletes(t *testing.T) {
	state := progress.New(5)
	require.NoError(t, state.Start(time.Now()))
	for i := 0; i < 5; i++ {
		state.RecordSuccess(i)
	}
	require.NoError(t, state.Finish(progress.StatusCancelled, time.Now()))
	store := &memStore{saved: []*progress.State{state}}

	opts := testOptions(t)
	opts.Store = store
	r, _ := newTestRunner[int, int](t, opts)
	rec := &recorder{}

	report, err := r.Run(context.Background(), intRange(5), rec.wrap(double), true)
	require.NoError(t, err)

	assert.Zero(t, rec.count())
	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Zero(t, report.Progress.Skipped)
	assert.NotNil(t, report.Progress.EndTime)
	assert.NoError(t, report.Progress.Validate())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, saved.Status)
}

func TestMemoryBackpressure(t *testing.T) {
	var usage atomic.Int64
	usage.Store(500)

	opts := testOptions(t)
	opts.MemoryLimitMB = 100
	opts.Monitor = memory.Func(func() float64 { return float64(usage.Load()) })
	r, tl := newTestRunner[int, int](t, opts)
	var releases atomic.Int32
	r.release = func() { releases.Add(1) }

	rec := &recorder{}
	done := make(chan *Report[int], 1)
	go func() {
		report, err := r.Run(context.Background(), intRange(10), rec.wrap(double), false)
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool { return tl.HasEvent("memory_paused") }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count(), "nothing is dispatched while over the limit")

	// below the limit but above the resume threshold: still held
	usage.Store(90)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.count())

	usage.Store(50)
	select {
	case report := <-done:
		assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
		assert.Equal(t, 10, report.Progress.Completed)
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not finish after memory dropped")
	}

	assert.True(t, tl.HasEvent("memory_normalized"))
	assert.Equal(t, int32(1), releases.Load())
}

func TestMemoryPressureDuringRunLetsInFlightDrain(t *testing.T) {
	var usage atomic.Int64
	usage.Store(10)

	opts := testOptions(t)
	opts.MaxWorkers = 2
	opts.MemoryLimitMB = 100
	opts.Monitor = memory.Func(func() float64 { return float64(usage.Load()) })
	r, tl := newTestRunner[int, int](t, opts)

	report, err := r.Run(context.Background(), intRange(20), func(_ context.Context, n int) (int, error) {
		if n == 5 {
			usage.Store(1000)
			go func() {
				time.Sleep(40 * time.Millisecond)
				usage.Store(10)
			}()
		}
		time.Sleep(2 * time.Millisecond)
		return n, nil
	}, false)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Equal(t, 20, report.Progress.Completed)
	assert.True(t, tl.HasEvent("memory_paused"))
	assert.True(t, tl.HasEvent("memory_normalized"))
}

func TestUnknownMemoryFailsOpen(t *testing.T) {
	opts := testOptions(t)
	opts.MemoryLimitMB = 1
	opts.Monitor = memory.Func(func() float64 { return memory.Unknown })
	r, tl := newTestRunner[int, int](t, opts)

	report, err := r.Run(context.Background(), intRange(10), double, false)
	require.NoError(t, err)

	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Len(t, tl.GetEvents("memory_sample_unknown"), 1)
	assert.False(t, tl.HasEvent("memory_paused"))
}

func TestMemoryLimitDisabled(t *testing.T) {
	var samples atomic.Int32
	opts := testOptions(t)
	opts.MemoryLimitMB = 0
	opts.Monitor = memory.Func(func() float64 {
		samples.Add(1)
		return 1e9
	})
	r, _ := newTestRunner[int, int](t, opts)

	report, err := r.Run(context.Background(), intRange(10), double, false)
	require.NoError(t, err)

	assert.Equal(t, 10, report.Progress.Completed)
	assert.Zero(t, samples.Load())
}

func TestPauseAndResume(t *testing.T) {
	opts := testOptions(t)
	opts.MaxWorkers = 2

	var r *Runner[int, int]
	paused := make(chan struct{})
	var pauseOnce sync.Once
	opts.OnProgress = func(u Update) {
		if u.Completed == 10 {
			pauseOnce.Do(func() {
				r.Pause()
				close(paused)
			})
		}
	}
	r, tl := newTestRunner[int, int](t, opts)

	done := make(chan *Report[int], 1)
	go func() {
		report, err := r.Run(context.Background(), intRange(50), func(_ context.Context, n int) (int, error) {
			time.Sleep(2 * time.Millisecond)
			return n, nil
		}, false)
		assert.NoError(t, err)
		done <- report
	}()

	<-paused
	assert.Equal(t, progress.StatusPaused, r.Progress().Status)

	// in-flight items drain, then nothing moves
	time.Sleep(50 * time.Millisecond)
	before := r.Progress().Completed
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, r.Progress().Completed)
	assert.Less(t, before, 50)

	r.Resume()
	report := <-done

	assert.Equal(t, progress.StatusCompleted, report.Progress.Status)
	assert.Equal(t, 50, report.Progress.Completed)
	assert.True(t, tl.HasEvent("batch_paused"))
	assert.True(t, tl.HasEvent("batch_unpaused"))
}

func TestPauseBeforeRun(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))
	r.Pause()

	rec := &recorder{}
	done := make(chan *Report[int], 1)
	go func() {
		report, _ := r.Run(context.Background(), intRange(5), rec.wrap(double), false)
		done <- report
	}()

	require.Eventually(t, r.IsRunning, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, rec.count())
	assert.Equal(t, progress.StatusPaused, r.Progress().Status)

	r.Resume()
	report := <-done
	assert.Equal(t, 5, report.Progress.Completed)
}

func TestCancelWhilePaused(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))
	r.Pause()

	go func() {
		assert.Eventually(t, r.IsRunning, time.Second, time.Millisecond)
		r.Cancel()
	}()

	report, err := r.Run(context.Background(), intRange(5), double, false)
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCancelled, report.Progress.Status)
	assert.Equal(t, 5, report.Progress.Skipped)
}

func TestAlreadyRunning(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), intRange(2), func(_ context.Context, n int) (int, error) {
			once.Do(func() { close(started) })
			<-release
			return n, nil
		}, false)
	}()

	<-started
	assert.True(t, r.IsRunning())
	_, err := r.Run(context.Background(), intRange(2), double, false)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	<-done
	assert.False(t, r.IsRunning())
}

func TestNilWorkFunc(t *testing.T) {
	r, tl := newTestRunner[int, int](t, testOptions(t))

	report, err := r.Run(context.Background(), intRange(3), nil, false)
	assert.ErrorIs(t, err, ErrNilWorkFunc)
	require.NotNil(t, report)
	assert.Equal(t, progress.StatusFailed, report.Progress.Status)
	assert.False(t, report.Success)
	assert.Equal(t, progress.StatusFailed, r.Progress().Status)
	assert.True(t, tl.HasEvent("batch_failed"))
}

func TestRunnerIsReusable(t *testing.T) {
	r, _ := newTestRunner[int, int](t, testOptions(t))

	for i := 0; i < 2; i++ {
		report, err := r.Run(context.Background(), intRange(4), double, false)
		require.NoError(t, err)
		assert.Equal(t, 4, report.Progress.Completed)
	}
}

func TestClearProgress(t *testing.T) {
	opts := testOptions(t)
	r, tl := newTestRunner[int, int](t, opts)

	_, err := r.Run(context.Background(), intRange(3), double, false)
	require.NoError(t, err)
	require.FileExists(t, opts.CheckpointPath)

	require.NoError(t, r.ClearProgress())
	assert.NoFileExists(t, opts.CheckpointPath)
	assert.True(t, tl.HasEvent("progress_cleared"))
}

func TestInMemoryOnly(t *testing.T) {
	opts := testOptions(t)
	opts.CheckpointPath = ""
	r, tl := newTestRunner[int, int](t, opts)

	report, err := r.Run(context.Background(), intRange(3), double, true)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Progress.Completed)
	assert.False(t, tl.HasEvent("checkpoint_saved"))
	assert.NoError(t, r.ClearProgress())
}

func TestOnProgressSeesEveryCompletion(t *testing.T) {
	var updates []Update
	opts := testOptions(t)
	opts.OnProgress = func(u Update) { updates = append(updates, u) }
	r, _ := newTestRunner[int, int](t, opts)

	_, err := r.Run(context.Background(), intRange(7), double, false)
	require.NoError(t, err)

	require.Len(t, updates, 7)
	for i, u := range updates {
		assert.Equal(t, i+1, u.Completed)
		assert.Equal(t, 7, u.Total)
	}
}

func TestDescribe(t *testing.T) {
	type job struct{ Name string }
	opts := testOptions(t)
	opts.Describe = func(item interface{}) string { return item.(job).Name }
	tl := logger.NewTestLogger()
	r, err := New[job, struct{}](opts, tl)
	require.NoError(t, err)

	report, err := r.Run(context.Background(), []job{{Name: "alpha"}}, func(_ context.Context, j job) (struct{}, error) {
		return struct{}{}, errors.New("nope")
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "alpha", report.Progress.FailedItems[0].Item)
}

func TestEvents(t *testing.T) {
	r, tl := newTestRunner[int, int](t, testOptions(t))

	_, err := r.Run(context.Background(), intRange(3), func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("bad")
		}
		return n, nil
	}, false)
	require.NoError(t, err)

	assert.True(t, tl.HasEvent("batch_started"))
	assert.True(t, tl.HasEvent("batch_completed"))
	failed := tl.GetEvents("item_failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "ERROR", failed[0].Level)
	assert.Equal(t, 2, failed[0].Fields["index"])
}

func TestProcess(t *testing.T) {
	results, err := Process[int, int](context.Background(), intRange(10), double, 3)
	require.NoError(t, err)

	sort.Ints(results)
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, results)

	_, err = Process[int, int](context.Background(), intRange(1), nil, 1)
	assert.ErrorIs(t, err, ErrNilWorkFunc)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.BatchConfig{
		MaxWorkers:         8,
		MemoryLimitMB:      512,
		CheckpointInterval: 25,
		CheckpointPath:     "/tmp/x.json",
		MemoryPollInterval: 2 * time.Second,
	})

	assert.Equal(t, 8, opts.MaxWorkers)
	assert.Equal(t, 512.0, opts.MemoryLimitMB)
	assert.Equal(t, 25, opts.CheckpointInterval)
	assert.Equal(t, "/tmp/x.json", opts.CheckpointPath)
	assert.Equal(t, 2*time.Second, opts.MemoryPollInterval)

	defaults := Options{}.withDefaults()
	assert.Equal(t, DefaultMaxWorkers, defaults.MaxWorkers)
	assert.Equal(t, DefaultCheckpointInterval, defaults.CheckpointInterval)
	assert.Equal(t, DefaultMemoryPollInterval, defaults.MemoryPollInterval)
	assert.Zero(t, defaults.MemoryLimitMB)
	assert.Equal(t, "7", defaults.Describe(7))
}
