// Package workfn decorates work functions for the batch runner.
//
// The runner calls each work function once per item and records the outcome.
// Deadlines, retries and pacing are left to the caller and composed here:
//
//	fn := workfn.Command("gzip", "-k", "{}")
//	fn = workfn.WithTimeout(fn, 30*time.Second)
//	fn = workfn.WithRetry(fn, retry.FromWorkConfig(cfg.Work, log))
//	report, err := runner.Run(ctx, paths, batch.WorkFunc[string, string](fn), true)
package workfn
