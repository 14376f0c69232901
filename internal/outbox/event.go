// Package outbox is the async durability pipeline: a bounded in-memory queue
// fed by the request path, a writer that appends events to a Redis stream, a
// publisher that moves stream entries onto the event bus through a consumer
// group, and a reclaimer that recovers entries stuck in the pending list.
package outbox

import (
	"maps"
	"time"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/velocity"
)

// OutboxEvent is the unit handed from the request thread to the pipeline.
// It is serialized as the single stream-entry payload field.
type OutboxEvent struct {
	TransactionContextSnapshot *core.Transaction   `json:"transaction_context_snapshot"`
	AuthDecision               *core.Decision      `json:"auth_decision"`
	EvaluationType             core.EvaluationType `json:"evaluation_type,omitempty"`
	OccurredAt                 time.Time           `json:"occurred_at"`
	ProducedAt                 time.Time           `json:"produced_at,omitempty"`
}

// NewEvent captures the decision and a detached copy of the transaction
// context. The copy lets the pipeline outlive the request that produced it.
func NewEvent(tx *core.Transaction, d *core.Decision) *OutboxEvent {
	snap := *tx
	snap.Custom = maps.Clone(tx.Custom)
	return &OutboxEvent{
		TransactionContextSnapshot: &snap,
		AuthDecision:               d,
		EvaluationType:             d.EvaluationType,
		OccurredAt:                 time.Now().UTC(),
	}
}

// DecisionEventCreate is the bus-facing record: the decision envelope plus
// the canonical velocity survey and the identity of the engine instance that
// produced it. Bus consumers deduplicate on (transaction_id, decision_id).
type DecisionEventCreate struct {
	core.Decision

	EvaluationType   core.EvaluationType `json:"evaluation_type,omitempty"`
	VelocitySnapshot []velocity.Counter  `json:"velocity_snapshot,omitempty"`
	EngineMetadata   core.EngineMetadata `json:"engine_metadata"`
	OccurredAt       time.Time           `json:"occurred_at"`
	ProducedAt       time.Time           `json:"produced_at"`
}

// NewDecisionEvent assembles the bus record for one outbox event.
func NewDecisionEvent(ev *OutboxEvent, snapshot []velocity.Counter, meta core.EngineMetadata) *DecisionEventCreate {
	return &DecisionEventCreate{
		Decision:         *ev.AuthDecision,
		EvaluationType:   ev.EvaluationType,
		VelocitySnapshot: snapshot,
		EngineMetadata:   meta,
		OccurredAt:       ev.OccurredAt,
		ProducedAt:       ev.ProducedAt,
	}
}
