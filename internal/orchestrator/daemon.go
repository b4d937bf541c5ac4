package orchestrator

import (
	"context"
	"time"
)

// RunDaemon runs the orchestrator on a fixed interval until ctx is
// cancelled, returning nil on cancellation. The purge flags are honored
// only on the first iteration; subsequent ticks never re-purge. A failed
// iteration is logged and counted, and the loop continues on the next
// tick.
func (o *Orchestrator) RunDaemon(ctx context.Context, purgeGraphFlag bool, purgeMappings []string, intervalSecs uint64) error {
	if intervalSecs == 0 {
		intervalSecs = 60
	}

	if err := o.RunOnce(ctx, purgeGraphFlag, purgeMappings); err != nil {
		o.metrics.FailedRuns.Inc()
		o.log.WithField("error", err).Error("sync run failed")
	}

	ticker := time.NewTicker(time.Duration(intervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.RunOnce(ctx, false, nil); err != nil {
				o.metrics.FailedRuns.Inc()
				o.log.WithField("error", err).Error("sync run failed")
			}
		}
	}
}
