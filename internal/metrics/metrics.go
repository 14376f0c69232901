// Package metrics owns every instrument the engine exports. Invariant
// counters are plain atomics so the request path never takes a lock; they are
// surfaced to Prometheus through CounterFunc at scrape time.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the engine's counters and histograms. One instance per
// process, created at startup and threaded through the components.
type Metrics struct {
	registry *prometheus.Registry

	enqueueOK        atomic.Uint64
	enqueueDropped   atomic.Uint64
	shutdownDrops    atomic.Uint64
	xaddSuccess      atomic.Uint64
	xaddFailure      atomic.Uint64
	publishSuccess   atomic.Uint64
	publishFailure   atomic.Uint64
	reclaimed        atomic.Uint64
	hotReloadSuccess atomic.Uint64
	hotReloadFailure atomic.Uint64
	shed             atomic.Uint64
	velocityFallback atomic.Uint64
	breakerOpen      atomic.Uint64

	decisions   *prometheus.CounterVec
	authLatency prometheus.Histogram
}

// New builds a Metrics instance backed by its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	factory := promauto.With(m.registry)

	counter := func(name, help string, src *atomic.Uint64) {
		factory.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(src.Load())
		})
	}

	counter("fraudengine_async_enqueue_ok_total", "Outbox events accepted by the in-memory queue.", &m.enqueueOK)
	counter("fraudengine_async_enqueue_dropped_total", "Outbox events dropped because the queue was full.", &m.enqueueDropped)
	counter("fraudengine_shutdown_drops_total", "Queued events abandoned at the shutdown drain deadline.", &m.shutdownDrops)
	counter("fraudengine_outbox_xadd_success_total", "Stream appends that succeeded.", &m.xaddSuccess)
	counter("fraudengine_outbox_xadd_failure_total", "Stream appends that failed after retries.", &m.xaddFailure)
	counter("fraudengine_publish_success_total", "Decision events acknowledged by the bus.", &m.publishSuccess)
	counter("fraudengine_publish_failure_total", "Decision events the bus did not acknowledge.", &m.publishFailure)
	counter("fraudengine_reclaimed_total", "Pending stream entries reclaimed for redelivery.", &m.reclaimed)
	counter("fraudengine_hot_reload_success_total", "Ruleset hot swaps applied.", &m.hotReloadSuccess)
	counter("fraudengine_hot_reload_failure_total", "Ruleset hot swaps rejected; prior version kept.", &m.hotReloadFailure)
	counter("fraudengine_load_shed_total", "Requests answered by the shed path without evaluation.", &m.shed)
	counter("fraudengine_velocity_fallback_total", "Velocity checks served by the non-atomic two-command fallback.", &m.velocityFallback)
	counter("fraudengine_velocity_breaker_open_total", "Transitions of the velocity circuit breaker into open.", &m.breakerOpen)

	m.decisions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "fraudengine_decisions_total",
		Help: "Decisions by outcome and engine mode.",
	}, []string{"decision", "engine_mode"})

	m.authLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraudengine_auth_latency_seconds",
		Help:    "End-to-end AUTH evaluation latency.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	return m
}

func (m *Metrics) RecordEnqueueOK() { m.enqueueOK.Add(1) }

func (m *Metrics) RecordEnqueueDropped() { m.enqueueDropped.Add(1) }

func (m *Metrics) RecordXAddSuccess() { m.xaddSuccess.Add(1) }

func (m *Metrics) RecordXAddFailure() { m.xaddFailure.Add(1) }

func (m *Metrics) RecordPublishSuccess() { m.publishSuccess.Add(1) }

func (m *Metrics) RecordPublishFailure() { m.publishFailure.Add(1) }

func (m *Metrics) RecordHotReloadSuccess() { m.hotReloadSuccess.Add(1) }

func (m *Metrics) RecordHotReloadFailure() { m.hotReloadFailure.Add(1) }

func (m *Metrics) RecordShed() { m.shed.Add(1) }

func (m *Metrics) RecordVelocityFallback() { m.velocityFallback.Add(1) }

func (m *Metrics) RecordBreakerOpen() { m.breakerOpen.Add(1) }

// RecordShutdownDrops accounts for events still queued when the drain
// deadline fired.
func (m *Metrics) RecordShutdownDrops(n int) {
	if n > 0 {
		m.shutdownDrops.Add(uint64(n))
	}
}

// RecordReclaimed accounts for entries transferred by one autoclaim pass.
func (m *Metrics) RecordReclaimed(n int) {
	if n > 0 {
		m.reclaimed.Add(uint64(n))
	}
}

// RecordDecision counts a completed evaluation by outcome and mode.
func (m *Metrics) RecordDecision(decision, mode string) {
	m.decisions.WithLabelValues(decision, mode).Inc()
}

// ObserveAuthLatency records one request's evaluation duration.
func (m *Metrics) ObserveAuthLatency(d time.Duration) {
	m.authLatency.Observe(d.Seconds())
}

// Handler serves the Prometheus exposition for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot is a lock-free copy of the invariant counters, served on the
// status endpoint.
type Snapshot struct {
	AsyncEnqueueOK      uint64 `json:"async_enqueue_ok"`
	AsyncEnqueueDropped uint64 `json:"async_enqueue_dropped"`
	ShutdownDrops       uint64 `json:"shutdown_drops"`
	OutboxXAddSuccess   uint64 `json:"outbox_xadd_success"`
	OutboxXAddFailure   uint64 `json:"outbox_xadd_failure"`
	PublishSuccess      uint64 `json:"publish_success"`
	PublishFailure      uint64 `json:"publish_failure"`
	Reclaimed           uint64 `json:"reclaimed"`
	HotReloadSuccess    uint64 `json:"hot_reload_success"`
	HotReloadFailure    uint64 `json:"hot_reload_failure"`
	LoadShed            uint64 `json:"load_shed"`
	VelocityFallback    uint64 `json:"velocity_fallback"`
	BreakerOpenTotal    uint64 `json:"breaker_open_transitions"`
}

// Snapshot copies the counters at read time. No lock; values may be from
// slightly different instants, which is acceptable for a status page.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		AsyncEnqueueOK:      m.enqueueOK.Load(),
		AsyncEnqueueDropped: m.enqueueDropped.Load(),
		ShutdownDrops:       m.shutdownDrops.Load(),
		OutboxXAddSuccess:   m.xaddSuccess.Load(),
		OutboxXAddFailure:   m.xaddFailure.Load(),
		PublishSuccess:      m.publishSuccess.Load(),
		PublishFailure:      m.publishFailure.Load(),
		Reclaimed:           m.reclaimed.Load(),
		HotReloadSuccess:    m.hotReloadSuccess.Load(),
		HotReloadFailure:    m.hotReloadFailure.Load(),
		LoadShed:            m.shed.Load(),
		VelocityFallback:    m.velocityFallback.Load(),
		BreakerOpenTotal:    m.breakerOpen.Load(),
	}
}
