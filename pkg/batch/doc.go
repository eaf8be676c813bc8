// Package batch runs large collections of independent work items.
//
// A Runner dispatches items in input order to a bounded worker pool and folds
// each completion into a progress.State under one mutex. Before each dispatch
// and each consumed completion it samples a memory.Monitor; when usage is over
// the limit, dispatch stops until usage falls below 80% of the limit, while
// completions of in-flight items keep being recorded.
//
// Progress is checkpointed every CheckpointInterval completions and at the end
// of the run, so an interrupted batch can be resumed:
//
//	runner, err := batch.New[string, int](batch.DefaultOptions(), log)
//	if err != nil {
//	    return err
//	}
//	report, err := runner.Run(ctx, paths, countLines, true)
//
// Item errors never abort the batch. They are listed in report.Progress.FailedItems
// and report.Success is false. Retrying them is up to the caller, for example
// by wrapping the work function with workfn.WithRetry.
//
// Cancel stops dispatch and returns promptly; work already running is left
// to finish in the background and its result is discarded. Callers that need
// a hard deadline per item wrap the work function with workfn.WithTimeout.
package batch
