package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/fraudengine/internal/config"
	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/fields"
	"github.com/stratuspay/fraudengine/internal/rules"
)

type fakeLoader struct {
	mu    sync.Mutex
	sets  map[string]*rules.CompiledRuleset
	errs  map[string]error
	calls int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		sets: make(map[string]*rules.CompiledRuleset),
		errs: make(map[string]error),
	}
}

func (f *fakeLoader) put(country, key string, rs *rules.CompiledRuleset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[country+"/"+key] = rs
	delete(f.errs, country+"/"+key)
}

func (f *fakeLoader) fail(country, key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[country+"/"+key] = err
}

func (f *fakeLoader) Load(_ context.Context, country, key string) (*rules.CompiledRuleset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	k := country + "/" + key
	if err := f.errs[k]; err != nil {
		return nil, err
	}
	rs, ok := f.sets[k]
	if !ok {
		return nil, errors.New("manifest not published")
	}
	return rs, nil
}

// testRuleset builds a single-rule set whose rule id embeds the version so a
// reader can tell which generation it observed.
func testRuleset(key string, version int64, action core.Action) *rules.CompiledRuleset {
	meta := rules.RulesetMeta{
		RulesetKey:           key,
		RulesetID:            fmt.Sprintf("rs-%s-%d", key, version),
		Version:              version,
		EvaluationType:       core.EvalAuth,
		FieldRegistryVersion: 1,
	}
	rule := &rules.CompiledRule{
		RuleID:    fmt.Sprintf("%s-v%d", key, version),
		Priority:  100,
		Enabled:   true,
		Action:    action,
		Reason:    "test",
		Predicate: func(*fields.Vector) bool { return true },
	}
	return rules.NewRuleset(meta, []*rules.CompiledRule{rule})
}

func TestGetWithFallback(t *testing.T) {
	loader := newFakeLoader()
	loader.put("BR", "CARD_AUTH", testRuleset("CARD_AUTH", 3, core.ActionDecline))
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 7, core.ActionApprove))

	reg := New(loader)
	refs := []config.RulesetRef{
		{Country: "BR", Key: "CARD_AUTH"},
		{Country: GlobalCountry, Key: "CARD_AUTH"},
	}
	require.NoError(t, reg.BulkLoad(context.Background(), refs))

	// 1. A country with its own partition resolves to it.
	rs, ok := reg.GetWithFallback("BR", "CARD_AUTH")
	require.True(t, ok)
	assert.Equal(t, int64(3), rs.Version)

	// 2. A country without one falls back to global.
	rs, ok = reg.GetWithFallback("MX", "CARD_AUTH")
	require.True(t, ok)
	assert.Equal(t, int64(7), rs.Version)

	// 3. An unknown key resolves nowhere.
	_, ok = reg.GetWithFallback("BR", "CARD_MONITOR")
	assert.False(t, ok)
}

func TestBulkLoadAbortsOnFirstFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 1, core.ActionApprove))
	loader.fail("BR", "CARD_AUTH", errors.New("artifact missing"))

	reg := New(loader)
	refs := []config.RulesetRef{
		{Country: GlobalCountry, Key: "CARD_AUTH"},
		{Country: "BR", Key: "CARD_AUTH"},
	}
	err := reg.BulkLoad(context.Background(), refs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact missing")

	// Pairs loaded before the failure stay visible; the caller decides
	// whether a partial load is fatal.
	_, ok := reg.Get(GlobalCountry, "CARD_AUTH")
	assert.True(t, ok)
	_, ok = reg.Get("BR", "CARD_AUTH")
	assert.False(t, ok)
}

func TestHotSwapReplacesVersion(t *testing.T) {
	loader := newFakeLoader()
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 5, core.ActionApprove))

	reg := New(loader)
	require.NoError(t, reg.BulkLoad(context.Background(), []config.RulesetRef{{Country: GlobalCountry, Key: "CARD_AUTH"}}))

	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 6, core.ActionDecline))
	res := reg.HotSwap(context.Background(), GlobalCountry, "CARD_AUTH")

	require.True(t, res.Success, res.Reason)
	assert.Equal(t, int64(5), res.FromVersion)
	assert.Equal(t, int64(6), res.ToVersion)

	rs, ok := reg.Get(GlobalCountry, "CARD_AUTH")
	require.True(t, ok)
	assert.Equal(t, int64(6), rs.Version)
	assert.Equal(t, core.ActionDecline, rs.Rules[0].Action)
}

func TestHotSwapFailureKeepsPrior(t *testing.T) {
	loader := newFakeLoader()
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 5, core.ActionApprove))

	reg := New(loader)
	require.NoError(t, reg.BulkLoad(context.Background(), []config.RulesetRef{{Country: GlobalCountry, Key: "CARD_AUTH"}}))

	loader.fail(GlobalCountry, "CARD_AUTH", errors.New("checksum mismatch"))
	res := reg.HotSwap(context.Background(), GlobalCountry, "CARD_AUTH")

	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "checksum mismatch")

	rs, ok := reg.Get(GlobalCountry, "CARD_AUTH")
	require.True(t, ok)
	assert.Equal(t, int64(5), rs.Version, "failed swap must not disturb the loaded version")
}

func TestHotSwapRejectsEmptyAndStale(t *testing.T) {
	loader := newFakeLoader()
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 5, core.ActionApprove))

	reg := New(loader)
	require.NoError(t, reg.BulkLoad(context.Background(), []config.RulesetRef{{Country: GlobalCountry, Key: "CARD_AUTH"}}))

	// 1. An empty compiled set is refused.
	empty := rules.NewRuleset(rules.RulesetMeta{RulesetKey: "CARD_AUTH", Version: 9}, nil)
	loader.put(GlobalCountry, "CARD_AUTH", empty)
	res := reg.HotSwap(context.Background(), GlobalCountry, "CARD_AUTH")
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "empty")

	// 2. A version behind the loaded one is refused.
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 4, core.ActionDecline))
	res = reg.HotSwap(context.Background(), GlobalCountry, "CARD_AUTH")
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "older")

	// 3. Both refusals left version 5 serving.
	v, ok := reg.CurrentVersion(GlobalCountry, "CARD_AUTH")
	require.True(t, ok)
	assert.Equal(t, int64(5), v)
}

// Readers racing a swap must observe version 5 or version 6 in full, never a
// blend of the two.
func TestHotSwapIsAtomicUnderReaders(t *testing.T) {
	loader := newFakeLoader()
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 5, core.ActionApprove))

	reg := New(loader)
	require.NoError(t, reg.BulkLoad(context.Background(), []config.RulesetRef{{Country: GlobalCountry, Key: "CARD_AUTH"}}))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var torn int
	var tornMu sync.Mutex

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				rs, ok := reg.Get(GlobalCountry, "CARD_AUTH")
				if !ok {
					tornMu.Lock()
					torn++
					tornMu.Unlock()
					continue
				}
				wantAction := core.ActionApprove
				wantRule := "CARD_AUTH-v5"
				if rs.Version == 6 {
					wantAction = core.ActionDecline
					wantRule = "CARD_AUTH-v6"
				}
				if rs.Rules[0].Action != wantAction || rs.Rules[0].RuleID != wantRule {
					tornMu.Lock()
					torn++
					tornMu.Unlock()
				}
			}
		}()
	}

	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 6, core.ActionDecline))
	res := reg.HotSwap(context.Background(), GlobalCountry, "CARD_AUTH")
	require.True(t, res.Success, res.Reason)

	close(stop)
	wg.Wait()
	assert.Zero(t, torn, "readers observed a partially applied swap")
}

func TestEntriesSnapshot(t *testing.T) {
	loader := newFakeLoader()
	loader.put("BR", "CARD_AUTH", testRuleset("CARD_AUTH", 3, core.ActionDecline))
	loader.put(GlobalCountry, "CARD_AUTH", testRuleset("CARD_AUTH", 7, core.ActionApprove))

	reg := New(loader)
	refs := []config.RulesetRef{
		{Country: GlobalCountry, Key: "CARD_AUTH"},
		{Country: "BR", Key: "CARD_AUTH"},
	}
	require.NoError(t, reg.BulkLoad(context.Background(), refs))

	entries := reg.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "BR", entries[0].Country)
	assert.Equal(t, int64(3), entries[0].Version)
	assert.Equal(t, 1, entries[0].RuleCount)
	assert.Equal(t, GlobalCountry, entries[1].Country)
	assert.Equal(t, int64(7), entries[1].Version)
}
