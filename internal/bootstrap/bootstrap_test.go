package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/fraudengine/internal/config"
	"github.com/stratuspay/fraudengine/internal/fields"
)

type fakeWorld struct {
	steps  []string
	failAt string
	reg    *fields.Registry
}

func (f *fakeWorld) step(name string) error {
	f.steps = append(f.steps, name)
	if f.failAt == name {
		return errors.New("injected failure")
	}
	return nil
}

func (f *fakeWorld) LoadFieldRegistry(context.Context) (*fields.Registry, error) {
	if err := f.step("fields"); err != nil {
		return nil, err
	}
	return f.reg, nil
}

func (f *fakeWorld) BulkLoad(_ context.Context, _ []config.RulesetRef) error {
	return f.step("rulesets")
}

func (f *fakeWorld) EnsureGroup(context.Context) error {
	return f.step("group")
}

func (f *fakeWorld) Preload(context.Context) error {
	return f.step("script")
}

func newGate(t *testing.T, world *fakeWorld) (*Gate, *fields.Live, *atomic.Bool) {
	t.Helper()
	if world.reg == nil {
		reg, err := fields.New(1, []fields.Field{
			{Name: "amount", ID: 0, DataType: fields.TypeNumber},
		}, nil)
		require.NoError(t, err)
		world.reg = reg
	}
	live := &fields.Live{}
	ready := &atomic.Bool{}
	return &Gate{
		Fields:   world,
		Live:     live,
		Rulesets: world,
		Required: []config.RulesetRef{{Country: "global", Key: "CARD_AUTH"}},
		Outbox:   world,
		Velocity: world,
		Ready:    ready,
	}, live, ready
}

func TestGateRunsStepsInOrder(t *testing.T) {
	world := &fakeWorld{}
	gate, live, ready := newGate(t, world)

	require.NoError(t, gate.Run(context.Background()))

	// 1. All four steps ran, in the documented order.
	assert.Equal(t, []string{"fields", "rulesets", "group", "script"}, world.steps)

	// 2. The registry is live and the instance is ready.
	require.NotNil(t, live.Get())
	assert.Equal(t, int64(1), live.Get().Version)
	assert.True(t, ready.Load())
}

func TestGateStopsAtFirstFailure(t *testing.T) {
	cases := []struct {
		failAt string
		ran    []string
	}{
		{"fields", []string{"fields"}},
		{"rulesets", []string{"fields", "rulesets"}},
		{"group", []string{"fields", "rulesets", "group"}},
		{"script", []string{"fields", "rulesets", "group", "script"}},
	}
	for _, tc := range cases {
		t.Run(tc.failAt, func(t *testing.T) {
			world := &fakeWorld{failAt: tc.failAt}
			gate, _, ready := newGate(t, world)

			err := gate.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.ran, world.steps)
			assert.False(t, ready.Load(), "a failed gate must never flip ready")
		})
	}
}

func TestGateRejectsEmptyRequiredList(t *testing.T) {
	world := &fakeWorld{}
	gate, _, ready := newGate(t, world)
	gate.Required = nil

	err := gate.Run(context.Background())
	require.Error(t, err)
	assert.False(t, ready.Load())
	// The ruleset step never ran.
	assert.Equal(t, []string{"fields"}, world.steps)
}
