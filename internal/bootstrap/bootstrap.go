// Package bootstrap runs the ordered startup gate. An instance flips to ready
// only after every step passes; a failed step leaves the process with nothing
// safe to serve, so callers exit instead of limping.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/stratuspay/fraudengine/internal/config"
	"github.com/stratuspay/fraudengine/internal/fields"
)

// FieldSource loads the shared field registry artifact.
type FieldSource interface {
	LoadFieldRegistry(ctx context.Context) (*fields.Registry, error)
}

// RulesetStore loads every required ruleset or fails.
type RulesetStore interface {
	BulkLoad(ctx context.Context, refs []config.RulesetRef) error
}

// GroupEnsurer creates the outbox consumer group, tolerating an existing one.
type GroupEnsurer interface {
	EnsureGroup(ctx context.Context) error
}

// ScriptPreloader installs the velocity script server-side.
type ScriptPreloader interface {
	Preload(ctx context.Context) error
}

// Gate holds everything the startup sequence touches.
type Gate struct {
	Fields   FieldSource
	Live     *fields.Live
	Rulesets RulesetStore
	Required []config.RulesetRef
	Outbox   GroupEnsurer
	Velocity ScriptPreloader
	Ready    *atomic.Bool
}

// Run executes the startup steps in order: field registry, required rulesets,
// outbox consumer group, velocity script. The first failure stops the
// sequence and names the step; Ready flips only after all four pass.
func (g *Gate) Run(ctx context.Context) error {
	reg, err := g.Fields.LoadFieldRegistry(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: field registry: %w", err)
	}
	g.Live.Swap(reg)
	slog.Info("[Bootstrap] Field registry loaded", "version", reg.Version, "field_count", reg.FieldCount())

	if len(g.Required) == 0 {
		return errors.New("bootstrap: no required rulesets configured")
	}
	if err := g.Rulesets.BulkLoad(ctx, g.Required); err != nil {
		return fmt.Errorf("bootstrap: ruleset load: %w", err)
	}
	slog.Info("[Bootstrap] Required rulesets loaded", "count", len(g.Required))

	if err := g.Outbox.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("bootstrap: outbox consumer group: %w", err)
	}

	if err := g.Velocity.Preload(ctx); err != nil {
		return fmt.Errorf("bootstrap: velocity script: %w", err)
	}

	g.Ready.Store(true)
	slog.Info("[Bootstrap] Startup gate passed")
	return nil
}
