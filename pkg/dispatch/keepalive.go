package dispatch

import (
	"context"
	"time"
)

// keepaliveConfig pins the warmup schedule to the primary agent's model
// and worker slot.
type keepaliveConfig struct {
	enabled      bool
	interval     time.Duration
	primaryModel string
	warmWorker   int
}

// keepaliveTick probes the backend and, when reachable, issues a warmup
// call for the primary model so bursty traffic never pays cold-start
// latency. Runs on the coordinator's cron schedule.
func (c *Coordinator) keepaliveTick() {
	ctx, cancel := context.WithTimeout(context.Background(), c.keepalive.interval)
	defer cancel()

	if !c.pool.ProbeLiveness(ctx) {
		c.logger.Debug().Msg("Keepalive skipped, backend unreachable")
		return
	}

	if err := c.pool.Warm(ctx, c.keepalive.warmWorker, c.keepalive.primaryModel); err != nil {
		c.logger.Warn().Err(err).Msg("Keepalive warmup failed")
		return
	}

	c.store.RecordWarmup()
	c.logger.Debug().
		Str("model", c.keepalive.primaryModel).
		Msg("Keepalive warmup completed")
}
