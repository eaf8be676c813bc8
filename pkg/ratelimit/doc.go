// Package ratelimit paces calls to a work function with a token bucket.
//
// The bucket starts full, so up to capacity items run back to back, and then
// one token is earned every interval:
//
//	// 30 items per minute, bursts of 5
//	limiter := ratelimit.PerMinute(30, 5)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
//
// workfn.WithRateLimit applies a Limiter in front of every item.
package ratelimit
