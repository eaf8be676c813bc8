package workfn

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	errs "batchrun/pkg/errors"
	"batchrun/pkg/ratelimit"
	"batchrun/pkg/retry"
)

// Func has the same shape as batch.WorkFunc, so decorated functions can be
// passed straight to a Runner
type Func[T, R any] func(ctx context.Context, item T) (R, error)

// Placeholder is replaced by the item in command arguments
const Placeholder = "{}"

// commandWaitDelay bounds how long a killed command may hold its output pipes
const commandWaitDelay = 2 * time.Second

// WithTimeout gives every call at most d. A call that runs out of time fails
// with a timeout error; the underlying function keeps the cancelled context
// and is expected to return soon after.
func WithTimeout[T, R any](fn Func[T, R], d time.Duration) Func[T, R] {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context, item T) (R, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type outcome struct {
			value R
			err   error
		}
		done := make(chan outcome, 1)
		go func() {
			v, err := fn(ctx, item)
			done <- outcome{v, err}
		}()

		select {
		case o := <-done:
			if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && !errs.IsType(o.err, errs.ErrorTypeTimeout) {
				return o.value, errs.Timeout(fmt.Sprintf("item did not finish within %s", d), o.err)
			}
			return o.value, o.err
		case <-ctx.Done():
			var zero R
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, errs.Timeout(fmt.Sprintf("item did not finish within %s", d), ctx.Err())
			}
			return zero, errs.New(errs.ErrorTypeCancelled, "item cancelled", ctx.Err())
		}
	}
}

// WithRetry re-runs failed calls according to cfg
func WithRetry[T, R any](fn Func[T, R], cfg *retry.Config) Func[T, R] {
	if cfg == nil || cfg.MaxAttempts == 1 {
		return fn
	}
	return func(ctx context.Context, item T) (R, error) {
		return retry.DoWithResult(ctx, func(ctx context.Context) (R, error) {
			return fn(ctx, item)
		}, cfg)
	}
}

// WithRateLimit takes a token from limiter before every call. A nil limiter
// leaves fn unchanged.
func WithRateLimit[T, R any](fn Func[T, R], limiter ratelimit.Limiter) Func[T, R] {
	if limiter == nil {
		return fn
	}
	return func(ctx context.Context, item T) (R, error) {
		if err := limiter.Wait(ctx); err != nil {
			var zero R
			return zero, errs.New(errs.ErrorTypeCancelled, "waiting for rate limit", err)
		}
		return fn(ctx, item)
	}
}

// Command runs name with args for every item, replacing each "{}" in args with
// the item. When no argument holds the placeholder the item is appended as
// the last argument. The result is the combined output of the command.
func Command(name string, args ...string) Func[string, string] {
	return func(ctx context.Context, item string) (string, error) {
		argv := Expand(args, item)
		cmd := exec.CommandContext(ctx, name, argv...)
		cmd.WaitDelay = commandWaitDelay
		out, err := cmd.CombinedOutput()
		output := strings.TrimRight(string(out), "\n")
		if err == nil {
			return output, nil
		}

		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return output, errs.Timeout(fmt.Sprintf("%s %s", name, strings.Join(argv, " ")), ctxErr)
		}

		msg := fmt.Sprintf("%s %s", name, strings.Join(argv, " "))
		if output != "" {
			msg = fmt.Sprintf("%s: %s", msg, lastLine(output))
		}
		return output, errs.New(errs.ErrorTypeCommand, msg, err)
	}
}

// Expand substitutes item into args the way Command does
func Expand(args []string, item string) []string {
	argv := make([]string, 0, len(args)+1)
	substituted := false
	for _, arg := range args {
		if strings.Contains(arg, Placeholder) {
			arg = strings.ReplaceAll(arg, Placeholder, item)
			substituted = true
		}
		argv = append(argv, arg)
	}
	if !substituted {
		argv = append(argv, item)
	}
	return argv
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
