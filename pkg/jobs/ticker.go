package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickFunc runs one iteration of a periodic job and reports how many items it touched.
type TickFunc func(ctx context.Context, now time.Time) (int, error)

// Every runs fn on a fixed interval until ctx is cancelled. Each tick gets its
// own timeout so a slow iteration cannot overlap the next one indefinitely.
func Every(ctx context.Context, name string, interval, timeout time.Duration, fn TickFunc, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				count, err := fn(tickCtx, now)
				cancel()
				if err != nil {
					logger.Warn("periodic job failed", zap.String("job", name), zap.Error(err))
					continue
				}
				if count > 0 {
					logger.Info("periodic job ran", zap.String("job", name), zap.Int("count", count))
				}
			}
		}
	}()
}
