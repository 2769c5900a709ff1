package reconcile

import (
	"context"
	"time"
)

// Scheduler invokes task periodically until ctx is done.
type Scheduler interface {
	Schedule(ctx context.Context, interval time.Duration, task func(context.Context))
}

// TickerScheduler runs task on a time.Ticker. Schedule blocks.
type TickerScheduler struct{}

func (TickerScheduler) Schedule(ctx context.Context, interval time.Duration, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}
