package batch

import (
	"context"
	"time"

	"batchrun/pkg/logger"
	"batchrun/pkg/memory"
)

// checkMemory samples the monitor and, when usage is over the limit, holds
// the gate and starts a watcher that releases it once usage has dropped.
// It never blocks.
func (r *Runner[T, R]) checkMemory(ctx context.Context) {
	limit := r.opts.MemoryLimitMB
	if limit <= 0 || r.gate.held(holdMemory) {
		return
	}

	usage := r.monitor.CurrentUsageMB()
	if usage == memory.Unknown {
		if r.unknownLogged.CompareAndSwap(false, true) {
			logger.LogEvent(r.logger, logger.SeverityDebug, "memory_sample_unknown", map[string]interface{}{
				"limit_mb": limit,
			})
		}
		return
	}
	if !memory.OverLimit(usage, limit) {
		return
	}
	if !r.gate.hold(holdMemory) {
		return
	}

	logger.LogEvent(r.logger, logger.SeverityWarn, "memory_paused", map[string]interface{}{
		"usage_mb":  usage,
		"limit_mb":  limit,
		"resume_mb": limit * resumeFraction,
	})
	r.release()

	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		r.watchMemory(ctx, limit)
	}()
}

// watchMemory polls until usage falls below the resume threshold, then
// releases the memory hold. The hold is also released when ctx ends.
func (r *Runner[T, R]) watchMemory(ctx context.Context, limit float64) {
	defer r.gate.release(holdMemory)

	threshold := limit * resumeFraction
	ticker := time.NewTicker(r.opts.MemoryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		usage := r.monitor.CurrentUsageMB()
		if usage == memory.Unknown || usage < threshold {
			logger.LogEvent(r.logger, logger.SeverityInfo, "memory_normalized", map[string]interface{}{
				"usage_mb": usage,
				"limit_mb": limit,
			})
			return
		}
	}
}
