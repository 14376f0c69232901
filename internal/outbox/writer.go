package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratuspay/fraudengine/internal/metrics"
)

// payloadField is the single field carried by every stream entry.
const payloadField = "payload"

const (
	appendAttempts = 3
	appendBackoff  = 50 * time.Millisecond
)

// WriterConfig sizes one writer worker.
type WriterConfig struct {
	Stream  string
	MaxLen  int64
	Burst   int
	Timeout time.Duration
}

// Writer drains the queue and appends events to the durable stream. Entries
// are either written or counted as persist failures; the queue is never
// re-offered a popped event.
type Writer struct {
	queue   *Queue
	rdb     *redis.Client
	metrics *metrics.Metrics
	cfg     WriterConfig
}

func NewWriter(queue *Queue, rdb *redis.Client, m *metrics.Metrics, cfg WriterConfig) *Writer {
	if cfg.Burst <= 0 {
		cfg.Burst = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Writer{queue: queue, rdb: rdb, metrics: m, cfg: cfg}
}

// Run drains the queue in bursts until the context ends. It blocks; callers
// start it on a dedicated goroutine.
func (w *Writer) Run(ctx context.Context) {
	slog.Info("[Outbox] Writer started", "stream", w.cfg.Stream, "burst", w.cfg.Burst)
	for {
		ev, ok := w.queue.Next(ctx)
		if !ok {
			return
		}
		w.append(ctx, ev)
		for n := 1; n < w.cfg.Burst; n++ {
			ev, ok := w.queue.TryNext()
			if !ok {
				break
			}
			w.append(ctx, ev)
		}
	}
}

// Drain empties whatever is left in the queue, used at shutdown with a
// bounded context. Events still queued when the context ends are counted as
// shutdown drops.
func (w *Writer) Drain(ctx context.Context) {
	for {
		ev, ok := w.queue.TryNext()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			w.metrics.RecordShutdownDrops(w.queue.Len() + 1)
			return
		}
		w.append(ctx, ev)
	}
}

// append serializes one event and writes it to the stream, retrying with
// exponential backoff before giving up.
func (w *Writer) append(ctx context.Context, ev *OutboxEvent) {
	ev.ProducedAt = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		w.metrics.RecordXAddFailure()
		slog.Error("[Outbox] Event serialization failed",
			"transaction_id", ev.AuthDecision.TransactionID, "error", err)
		return
	}

	delay := appendBackoff
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				w.metrics.RecordXAddFailure()
				return
			case <-time.After(delay):
			}
			delay *= 2
		}

		opCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		err = w.rdb.XAdd(opCtx, &redis.XAddArgs{
			Stream: w.cfg.Stream,
			MaxLen: w.cfg.MaxLen,
			Approx: true,
			Values: map[string]interface{}{payloadField: payload},
		}).Err()
		cancel()

		if err == nil {
			w.metrics.RecordXAddSuccess()
			return
		}
	}

	w.metrics.RecordXAddFailure()
	slog.Warn("[Outbox] Stream append failed",
		"transaction_id", ev.AuthDecision.TransactionID,
		"attempts", appendAttempts, "error", err)
}
