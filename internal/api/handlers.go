package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/evaluator"
	"github.com/stratuspay/fraudengine/internal/metrics"
	"github.com/stratuspay/fraudengine/internal/outbox"
	"github.com/stratuspay/fraudengine/internal/registry"
)

// handleEvaluateAuth runs one authorization decision. The route always
// answers 200 with a decision envelope except for malformed input; engine
// failures are carried in-band as fail-open decisions.
func (s *Server) handleEvaluateAuth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "request body unreadable or too large")
		return
	}

	replay := strings.EqualFold(r.Header.Get(headerReplayMode), "true")

	// Replay traffic is rare admin tooling with no side effects, so it does
	// not consume evaluation permits.
	if !replay {
		if !s.gate.TryAcquire() {
			s.metrics.RecordShed()
			s.writeShed(w, body)
			return
		}
		defer s.gate.Release()
	}

	var tx core.Transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "malformed transaction json")
		return
	}
	if tx.TransactionID == "" {
		writeError(w, http.StatusBadRequest, core.CodeInvalidRequest, "transaction_id is required")
		return
	}

	d := s.evaluator.Evaluate(r.Context(), &tx, evaluator.Options{
		RulesetKey: s.cfg.RulesetKey,
		Replay:     replay,
	})

	if !replay {
		s.queue.Enqueue(outbox.NewEvent(&tx, d))
	}

	s.metrics.ObserveAuthLatency(time.Since(start))
	writeJSON(w, http.StatusOK, d)
}

// writeShed synthesizes the fail-open response for a request that never
// reached the evaluator. Only the transaction id is pulled from the body;
// nothing else is parsed, checked or recorded.
func (s *Server) writeShed(w http.ResponseWriter, body []byte) {
	var peek struct {
		TransactionID string `json:"transaction_id"`
	}
	_ = json.Unmarshal(body, &peek)

	w.Header().Set(headerLoadShed, "true")
	writeJSON(w, http.StatusOK, &core.Decision{
		DecisionID:      uuid.New().String(),
		TransactionID:   peek.TransactionID,
		Action:          core.ActionApprove,
		EngineMode:      core.ModeDegraded,
		EngineErrorCode: core.CodeLoadShedding,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	Service         string           `json:"service"`
	Ready           bool             `json:"ready"`
	Rulesets        []registry.Entry `json:"rulesets"`
	VelocityBreaker string           `json:"velocity_breaker"`
	QueueDepth      int              `json:"queue_depth"`
	ShedInUse       int              `json:"shed_in_use"`
	ShedCapacity    int              `json:"shed_capacity"`
	Counters        metrics.Snapshot `json:"counters"`
}

// handleStatus reports what this instance is serving and how its pipeline
// is doing.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Service:         "fraudengine",
		Ready:           s.ready.Load(),
		Rulesets:        s.rulesets.Entries(),
		VelocityBreaker: s.velocity.BreakerState().String(),
		QueueDepth:      s.queue.Len(),
		ShedInUse:       s.gate.InUse(),
		ShedCapacity:    s.gate.Capacity(),
		Counters:        s.metrics.Snapshot(),
	})
}
