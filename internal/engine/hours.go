// Package engine runs the polling monitors: one loop per concern
// (signal detection, position exits, order aging), each snapshotting
// configuration at the top of every tick.
package engine

import (
	"context"
	"time"

	"github.com/quantdyne/breakout/internal/config"
	"github.com/quantdyne/breakout/internal/types"
)

// nextWake computes how long a loop should sleep before its next tick.
// While the market is open it targets the close of the next bar plus a
// small buffer; while closed it sleeps toward the next open. The result
// is clamped to [1s, MaxSleepSeconds].
func nextWake(clock types.Clock, latestBar, now time.Time, timeframe time.Duration, loop config.LoopConfig) time.Duration {
	maxSleep := time.Duration(loop.MaxSleepSeconds * float64(time.Second))
	extra := time.Duration(loop.ExtraSleepSeconds * float64(time.Second))

	var sleep time.Duration

	switch {
	case !clock.IsOpen && !clock.NextOpen.IsZero() && now.Before(clock.NextOpen):
		sleep = clock.NextOpen.Sub(now)
	case !clock.IsOpen:
		sleep = maxSleep
	case !latestBar.IsZero():
		// The next bar closes two timeframes after the open of the
		// latest one we have.
		sleep = latestBar.Add(2*timeframe).Sub(now) + extra
	default:
		sleep = time.Duration(loop.PollSeconds*float64(time.Second)) + extra
	}

	if sleep < time.Second {
		sleep = time.Second
	}

	if sleep > maxSleep {
		sleep = maxSleep
	}

	return sleep
}

// sleepCtx sleeps for d, returning false when the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
