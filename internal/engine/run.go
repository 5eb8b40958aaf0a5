package engine

import (
	"context"
	"log/slog"
	"time"
)

// Run executes routing passes until ctx is cancelled. The wait between
// passes starts at the poll interval, doubles after every pass that read
// nothing, up to the maximum poll interval, and resets once data flows
// again. Wake cuts a wait short.
//
// Pass errors are logged and the loop continues; Run returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("routing engine starting",
		"poll_interval", e.pollInterval,
		"max_poll_interval", e.maxPollInterval,
	)
	bo := newBackoff(e.pollInterval, e.maxPollInterval)

	for {
		res, err := e.RoutePass(ctx)
		switch {
		case ctx.Err() != nil:
			slog.Info("routing engine stopping: context cancelled")
			return ctx.Err()
		case err != nil:
			slog.Error("routing pass failed", "pass_id", res.PassID, "error", err)
		case res.DataRead() > 0:
			bo.Reset()
		default:
			bo.Increase()
		}

		slog.Debug("waiting for next pass", "interval", bo.Interval())
		timer := time.NewTimer(bo.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("routing engine stopping: context cancelled")
			return ctx.Err()
		case <-e.wake:
			timer.Stop()
			bo.Reset()
		case <-timer.C:
		}
	}
}

// Wake asks a running Run loop to start the next pass now. Safe from any
// goroutine; multiple wakes before the loop notices coalesce into one.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
