package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/stratuspay/fraudengine/internal/metrics"
)

// dropLogEvery throttles the queue-full warning so a sustained overflow does
// not flood the log.
const dropLogEvery = 1000

// Queue is the bounded handoff between the request path and the writer.
// Enqueue never blocks and never touches the network; when the buffer is
// full the event is dropped and counted.
type Queue struct {
	ch      chan *OutboxEvent
	metrics *metrics.Metrics
	drops   atomic.Uint64
}

func NewQueue(capacity int, m *metrics.Metrics) *Queue {
	return &Queue{
		ch:      make(chan *OutboxEvent, capacity),
		metrics: m,
	}
}

// Enqueue offers an event to the pipeline. Returns false when the queue was
// full and the event was dropped.
func (q *Queue) Enqueue(ev *OutboxEvent) bool {
	select {
	case q.ch <- ev:
		q.metrics.RecordEnqueueOK()
		return true
	default:
		q.metrics.RecordEnqueueDropped()
		if n := q.drops.Add(1); n == 1 || n%dropLogEvery == 0 {
			slog.Warn("[Outbox] Queue full, event dropped",
				"transaction_id", ev.AuthDecision.TransactionID,
				"dropped_total", n)
		}
		return false
	}
}

// Next blocks until an event is available or the context ends.
func (q *Queue) Next(ctx context.Context) (*OutboxEvent, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	case <-ctx.Done():
		return nil, false
	}
}

// TryNext pops an event without blocking.
func (q *Queue) TryNext() (*OutboxEvent, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return nil, false
	}
}

// Len reports how many events are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}
