package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdispatcher/internal/metrics"
	"github.com/local/pdfdispatcher/internal/queue"
)

// MonitorQueue publishes the queue depth gauge every interval until ctx ends.
func MonitorQueue(ctx context.Context, q queue.Queue, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64 = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.Depth(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("queue depth check failed")
				}
				continue
			}
			metrics.SetQueueDepth(n)
			if n != last {
				log.Debug().Int64("depth", n).Msg("queue depth")
				last = n
			}
		}
	}
}
