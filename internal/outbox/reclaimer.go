package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratuspay/fraudengine/internal/metrics"
)

// ReclaimerConfig paces the pending-entry recovery loop.
type ReclaimerConfig struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Batch    int64
	Interval time.Duration
}

// Reclaimer periodically transfers entries that sat in the pending list past
// the idle threshold back to this instance's consumer and replays them
// through the publisher. This is how a crashed or partitioned consumer's
// entries eventually reach the bus.
type Reclaimer struct {
	rdb       *redis.Client
	publisher *Publisher
	metrics   *metrics.Metrics
	cfg       ReclaimerConfig
}

func NewReclaimer(rdb *redis.Client, publisher *Publisher, m *metrics.Metrics, cfg ReclaimerConfig) *Reclaimer {
	if cfg.MinIdle <= 0 {
		cfg.MinIdle = 60 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Reclaimer{rdb: rdb, publisher: publisher, metrics: m, cfg: cfg}
}

// Run reclaims on a fixed cadence until the context ends.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reclaimOnce(ctx)
		}
	}
}

// reclaimOnce transfers at most one batch of stale pending entries.
func (r *Reclaimer) reclaimOnce(ctx context.Context) {
	msgs, _, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Start:    "0-0",
		Count:    r.cfg.Batch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("[Outbox] Autoclaim failed", "error", err)
		}
		return
	}
	if len(msgs) == 0 {
		return
	}

	r.metrics.RecordReclaimed(len(msgs))
	slog.Info("[Outbox] Reclaimed pending entries", "count", len(msgs), "min_idle", r.cfg.MinIdle)

	for _, msg := range msgs {
		r.publisher.Deliver(ctx, msg)
	}
}
