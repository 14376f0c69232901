// Package watcher keeps the served rulesets and the field registry current.
// It polls published manifests on a fixed cadence and swaps in newer
// versions; a failed swap leaves the prior version serving.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/stratuspay/fraudengine/internal/config"
	"github.com/stratuspay/fraudengine/internal/fields"
	"github.com/stratuspay/fraudengine/internal/metrics"
	"github.com/stratuspay/fraudengine/internal/registry"
)

// Source reads published manifest versions and loads field registry
// artifacts.
type Source interface {
	ManifestVersion(ctx context.Context, country, key string) (int64, error)
	RegistryManifestVersion(ctx context.Context) (int64, error)
	LoadFieldRegistry(ctx context.Context) (*fields.Registry, error)
}

// Rulesets is the swap surface of the ruleset cache.
type Rulesets interface {
	CurrentVersion(country, key string) (int64, bool)
	HotSwap(ctx context.Context, country, key string) registry.SwapResult
}

// Watcher polls the tracked manifests. Manifest reads are cheap; a full
// load+compile only happens when a version actually advanced.
type Watcher struct {
	source   Source
	rulesets Rulesets
	live     *fields.Live
	metrics  *metrics.Metrics
	tracked  []config.RulesetRef
	interval time.Duration
}

func New(source Source, rulesets Rulesets, live *fields.Live, m *metrics.Metrics, tracked []config.RulesetRef, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watcher{
		source:   source,
		rulesets: rulesets,
		live:     live,
		metrics:  m,
		tracked:  tracked,
		interval: interval,
	}
}

// Run polls until the context ends. It blocks; callers start it on a
// dedicated goroutine.
func (w *Watcher) Run(ctx context.Context) {
	slog.Info("[Watcher] Started", "interval", w.interval, "tracked", len(w.tracked))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep checks every tracked manifest once and swaps whatever advanced. The
// field registry goes first so a coupled registry+ruleset publish can land
// in a single pass.
func (w *Watcher) Sweep(ctx context.Context) {
	w.sweepFieldRegistry(ctx)
	for _, ref := range w.tracked {
		w.sweepRuleset(ctx, ref)
	}
}

func (w *Watcher) sweepRuleset(ctx context.Context, ref config.RulesetRef) {
	published, err := w.source.ManifestVersion(ctx, ref.Country, ref.Key)
	if err != nil {
		w.metrics.RecordHotReloadFailure()
		slog.Error("[Watcher] Manifest read failed", "ruleset", ref.String(), "error", err)
		return
	}

	loaded, ok := w.rulesets.CurrentVersion(ref.Country, ref.Key)
	if ok && published <= loaded {
		return
	}

	res := w.rulesets.HotSwap(ctx, ref.Country, ref.Key)
	if !res.Success {
		w.metrics.RecordHotReloadFailure()
		slog.Error("[Watcher] Hot swap failed, keeping prior version",
			"ruleset", ref.String(),
			"loaded_version", loaded,
			"published_version", published,
			"reason", res.Reason)
		return
	}

	w.metrics.RecordHotReloadSuccess()
	slog.Info("[Watcher] Ruleset swapped",
		"ruleset", ref.String(),
		"from_version", res.FromVersion,
		"to_version", res.ToVersion)
}

func (w *Watcher) sweepFieldRegistry(ctx context.Context) {
	published, err := w.source.RegistryManifestVersion(ctx)
	if err != nil {
		slog.Error("[Watcher] Field registry manifest read failed", "error", err)
		return
	}

	cur := w.live.Get()
	if cur != nil && published <= cur.Version {
		return
	}

	reg, err := w.source.LoadFieldRegistry(ctx)
	if err != nil {
		w.metrics.RecordHotReloadFailure()
		slog.Error("[Watcher] Field registry reload failed, keeping prior version", "error", err)
		return
	}

	w.live.Swap(reg)
	w.metrics.RecordHotReloadSuccess()
	slog.Info("[Watcher] Field registry swapped", "from_version", registryVersion(cur), "to_version", reg.Version)
}

func registryVersion(r *fields.Registry) int64 {
	if r == nil {
		return 0
	}
	return r.Version
}
