package session

import (
	"context"
	"time"
)

// RunNoShowSweeper calls SweepNoShows every interval until ctx is done.
func (e *Engine) RunNoShowSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := e.SweepNoShows(ctx, e.now())
			if err != nil {
				e.log.Error("no-show sweep failed", "err", err)
			}
			if n > 0 {
				e.log.Info("no-show sweep", "marked", n)
			}
		}
	}
}
