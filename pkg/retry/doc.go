// Package retry re-runs an operation with backoff until it succeeds.
//
// The batch runner never retries a failed item on its own; callers who want
// retries wrap their work function, usually through workfn.WithRetry:
//
//	cfg := &retry.Config{
//		MaxAttempts: 4,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    500 * time.Millisecond,
//			MaxDelay:     10 * time.Second,
//			Multiplier:   2.0,
//			JitterFactor: 0.1,
//		},
//		RetryIf: retry.DefaultRetryIf,
//		Logger:  logger.GetLogger(),
//	}
//	err := retry.Do(ctx, op, cfg)
//
// DefaultRetryIf looks at the pkg/errors type of the failure: timeouts and
// command failures are retried, configuration errors and cancellation are not.
// Errors without a type are retried.
package retry
