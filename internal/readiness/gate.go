package readiness

import (
	"context"
	"time"

	"github.com/stocktrend/prediagent/pkg/logging"
)

// Gate defaults. Plans override all of these per process.
const (
	DefaultInterval  = 500 * time.Millisecond
	DefaultTimeout   = 60 * time.Second
	DefaultSuccesses = 1
)

// Gate blocks a launch sequence until a process is ready. Readiness
// means Successes consecutive passing probes, and regardless of how
// fast the probes pass, the gate never releases before MinDelay has
// elapsed. A gate without a prober degrades to a plain MinDelay sleep,
// which is the legacy fixed-delay launch behavior.
type Gate struct {
	Prober    Prober
	Interval  time.Duration
	Timeout   time.Duration
	Successes int
	MinDelay  time.Duration

	Logger *logging.Logger
}

// Wait runs the gate. The returned error is a *ProbeError when the
// target never became ready inside Timeout.
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()

	interval := g.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	needed := g.Successes
	if needed <= 0 {
		needed = DefaultSuccesses
	}

	if g.Prober == nil {
		return g.holdFloor(ctx, start)
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var attempts, consecutive int
	var lastErr error

	for {
		attempts++
		err := g.Prober.Check(probeCtx)
		if err == nil {
			consecutive++
			if consecutive >= needed {
				if g.Logger != nil {
					g.Logger.Info("Readiness gate passed", map[string]interface{}{
						"target":   g.Prober.Target(),
						"attempts": attempts,
						"elapsed":  time.Since(start).Round(time.Millisecond).String(),
					})
				}
				return g.holdFloor(ctx, start)
			}
		} else {
			if consecutive > 0 && g.Logger != nil {
				g.Logger.Debug("Readiness streak reset", map[string]interface{}{
					"target": g.Prober.Target(),
					"error":  err.Error(),
				})
			}
			consecutive = 0
			lastErr = err
		}

		select {
		case <-ticker.C:
		case <-probeCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ProbeError{
				Target:   g.Prober.Target(),
				Attempts: attempts,
				Elapsed:  time.Since(start),
				LastErr:  lastErr,
			}
		}
	}
}

// holdFloor enforces the minimum delay since gate start.
func (g *Gate) holdFloor(ctx context.Context, start time.Time) error {
	remaining := g.MinDelay - time.Since(start)
	if remaining <= 0 {
		return nil
	}

	if g.Logger != nil {
		g.Logger.Debug("Holding gate for minimum delay", map[string]interface{}{
			"remaining": remaining.Round(time.Millisecond).String(),
		})
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
