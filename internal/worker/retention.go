package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger deletes signaling envelopes of idle sessions. The signaling stores implement it.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunRetention purges envelopes older than retention every interval until ctx is done.
func RunRetention(ctx context.Context, p Purger, retention, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		logger.Info("signaling retention disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := p.PurgeBefore(ctx, time.Now().Add(-retention))
		if err != nil && ctx.Err() == nil {
			logger.Warn("signaling purge failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("signaling envelopes purged", zap.Int64("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
