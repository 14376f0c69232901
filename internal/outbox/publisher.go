package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/metrics"
	"github.com/stratuspay/fraudengine/internal/velocity"
)

// readBatch bounds how many entries one blocking read may return.
const readBatch = 64

// Producer is the event-bus side of the publisher. Publish must only return
// nil once the bus has durably acknowledged the record.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// SnapshotSource surveys the canonical velocity counters for a bus record.
type SnapshotSource interface {
	Snapshot(ctx context.Context, tx *core.Transaction) []velocity.Counter
}

// PublisherConfig identifies this instance within the consumer group.
type PublisherConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Meta     core.EngineMetadata
}

// Publisher moves stream entries onto the event bus. Each entry is
// acknowledged only after the bus accepted it, so a crash between publish
// and ack redelivers rather than loses.
type Publisher struct {
	rdb       *redis.Client
	producer  Producer
	snapshots SnapshotSource
	metrics   *metrics.Metrics
	cfg       PublisherConfig
}

func NewPublisher(rdb *redis.Client, producer Producer, snapshots SnapshotSource, m *metrics.Metrics, cfg PublisherConfig) *Publisher {
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Publisher{rdb: rdb, producer: producer, snapshots: snapshots, metrics: m, cfg: cfg}
}

// EnsureGroup creates the consumer group, creating the stream alongside it
// when absent. An already existing group is not an error.
func (p *Publisher) EnsureGroup(ctx context.Context) error {
	err := p.rdb.XGroupCreateMkStream(ctx, p.cfg.Stream, p.cfg.Group, "0").Err()
	if err != nil && !redis.HasErrorPrefix(err, "BUSYGROUP") {
		return fmt.Errorf("outbox: create consumer group %q on %q: %w", p.cfg.Group, p.cfg.Stream, err)
	}
	return nil
}

// Run consumes new stream entries until the context ends. It blocks; callers
// start it on a dedicated goroutine.
func (p *Publisher) Run(ctx context.Context) {
	slog.Info("[Outbox] Publisher started",
		"stream", p.cfg.Stream, "group", p.cfg.Group, "consumer", p.cfg.Consumer)

	for ctx.Err() == nil {
		res, err := p.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.cfg.Group,
			Consumer: p.cfg.Consumer,
			Streams:  []string{p.cfg.Stream, ">"},
			Count:    readBatch,
			Block:    p.cfg.Block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("[Outbox] Stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.Deliver(ctx, msg)
			}
		}
	}
}

// Deliver publishes one stream entry and acknowledges it on success. A
// failed publish leaves the entry pending for the reclaimer. Entries whose
// payload cannot be decoded are acknowledged away so they do not wedge the
// pending list.
func (p *Publisher) Deliver(ctx context.Context, msg redis.XMessage) bool {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		slog.Error("[Outbox] Stream entry has no payload field", "entry_id", msg.ID)
		p.ack(ctx, msg.ID)
		return false
	}

	var ev OutboxEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil || ev.AuthDecision == nil {
		slog.Error("[Outbox] Stream entry is not a decision event", "entry_id", msg.ID, "error", err)
		p.ack(ctx, msg.ID)
		return false
	}

	var snap []velocity.Counter
	if p.snapshots != nil && ev.TransactionContextSnapshot != nil {
		snap = p.snapshots.Snapshot(ctx, ev.TransactionContextSnapshot)
	}

	value, err := json.Marshal(NewDecisionEvent(&ev, snap, p.cfg.Meta))
	if err != nil {
		slog.Error("[Outbox] Bus record serialization failed", "entry_id", msg.ID, "error", err)
		p.ack(ctx, msg.ID)
		return false
	}

	if err := p.producer.Publish(ctx, ev.AuthDecision.TransactionID, value); err != nil {
		p.metrics.RecordPublishFailure()
		slog.Warn("[Outbox] Publish failed, entry stays pending",
			"entry_id", msg.ID,
			"transaction_id", ev.AuthDecision.TransactionID,
			"code", core.CodeEventPublishFailed,
			"error", err)
		return false
	}

	p.metrics.RecordPublishSuccess()
	p.ack(ctx, msg.ID)
	return true
}

func (p *Publisher) ack(ctx context.Context, id string) {
	if err := p.rdb.XAck(ctx, p.cfg.Stream, p.cfg.Group, id).Err(); err != nil {
		slog.Warn("[Outbox] Ack failed, entry may be redelivered", "entry_id", id, "error", err)
	}
}
