// Package api is the HTTP surface of the decision engine: the evaluation
// route, health and readiness probes, the Prometheus endpoint and an
// operator status page.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/stratuspay/fraudengine/internal/evaluator"
	"github.com/stratuspay/fraudengine/internal/metrics"
	"github.com/stratuspay/fraudengine/internal/outbox"
	"github.com/stratuspay/fraudengine/internal/registry"
	"github.com/stratuspay/fraudengine/internal/shedder"
	"github.com/stratuspay/fraudengine/internal/velocity"
)

const (
	headerLoadShed   = "X-Load-Shed"
	headerReplayMode = "X-Replay-Mode"
)

// Config tunes the transport surface.
type Config struct {
	// RulesetKey is the ruleset the auth route evaluates against.
	RulesetKey string
	// MaxBodyBytes caps the request body the evaluate route will read.
	MaxBodyBytes int64
}

// Server wires the engine components behind the HTTP routes.
type Server struct {
	evaluator *evaluator.Evaluator
	queue     *outbox.Queue
	gate      *shedder.Gate
	rulesets  *registry.Registry
	velocity  *velocity.Service
	metrics   *metrics.Metrics
	ready     *atomic.Bool
	cfg       Config
}

func NewServer(
	ev *evaluator.Evaluator,
	queue *outbox.Queue,
	gate *shedder.Gate,
	rulesets *registry.Registry,
	vel *velocity.Service,
	m *metrics.Metrics,
	ready *atomic.Bool,
	cfg Config,
) *Server {
	if cfg.RulesetKey == "" {
		cfg.RulesetKey = "CARD_AUTH"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		evaluator: ev,
		queue:     queue,
		gate:      gate,
		rulesets:  rulesets,
		velocity:  vel,
		metrics:   m,
		ready:     ready,
		cfg:       cfg,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogging)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/engine/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/evaluate/auth", s.handleEvaluateAuth).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[HTTP] Response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{
		"engine_error_code": code,
		"error":             msg,
	})
}
