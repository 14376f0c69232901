// Package registry holds the compiled rulesets the engine evaluates against.
// Reads are wait-free pointer loads; writers publish whole immutable rulesets
// and never touch a value in place.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/stratuspay/fraudengine/internal/config"
	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/rules"
)

// GlobalCountry is the fallback partition for rulesets that are not
// country-bound. Lookup order is country first, then global.
const GlobalCountry = "global"

// Loader fetches, verifies and compiles the current version of one ruleset.
type Loader interface {
	Load(ctx context.Context, country, key string) (*rules.CompiledRuleset, error)
}

type slot struct {
	ptr atomic.Pointer[rules.CompiledRuleset]
}

type slotMap map[string]*slot

// Registry is the country-partitioned ruleset cache. The slot map itself is
// copy-on-write (new (country, key) pairs are rare); each slot is a single
// atomic pointer, so a hot swap is one pointer store.
type Registry struct {
	loader Loader

	mu    sync.Mutex // serializes writers only
	slots atomic.Pointer[slotMap]
}

func New(loader Loader) *Registry {
	r := &Registry{loader: loader}
	empty := make(slotMap)
	r.slots.Store(&empty)
	return r
}

func slotKey(country, key string) string {
	return country + "/" + key
}

// Get returns the compiled ruleset for (country, key). Wait-free.
func (r *Registry) Get(country, key string) (*rules.CompiledRuleset, bool) {
	slots := *r.slots.Load()
	s, ok := slots[slotKey(country, key)]
	if !ok {
		return nil, false
	}
	rs := s.ptr.Load()
	return rs, rs != nil
}

// GetWithFallback tries the country partition first, then global.
func (r *Registry) GetWithFallback(country, key string) (*rules.CompiledRuleset, bool) {
	if rs, ok := r.Get(country, key); ok {
		return rs, true
	}
	return r.Get(GlobalCountry, key)
}

// CurrentVersion reports the loaded version for a pair, if any.
func (r *Registry) CurrentVersion(country, key string) (int64, bool) {
	rs, ok := r.Get(country, key)
	if !ok {
		return 0, false
	}
	return rs.Version, true
}

func (r *Registry) install(country, key string, rs *rules.CompiledRuleset) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.slots.Load()
	k := slotKey(country, key)
	if s, ok := cur[k]; ok {
		s.ptr.Store(rs)
		return
	}

	next := make(slotMap, len(cur)+1)
	for kk, vv := range cur {
		next[kk] = vv
	}
	s := &slot{}
	s.ptr.Store(rs)
	next[k] = s
	r.slots.Store(&next)
}

// SwapResult reports the outcome of one hot swap.
type SwapResult struct {
	Success     bool
	Reason      string
	Country     string
	RulesetKey  string
	FromVersion int64
	ToVersion   int64
}

// HotSwap loads and validates the current published version for (country,
// key) and atomically replaces the slot. On any failure the prior value is
// untouched; a swap never applies partially.
func (r *Registry) HotSwap(ctx context.Context, country, key string) SwapResult {
	res := SwapResult{Country: country, RulesetKey: key}
	if prior, ok := r.Get(country, key); ok {
		res.FromVersion = prior.Version
	}

	rs, err := r.loader.Load(ctx, country, key)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	if rs.RuleCount() == 0 {
		res.Reason = fmt.Sprintf("version %d is empty", rs.Version)
		return res
	}
	if res.FromVersion > 0 && rs.Version < res.FromVersion {
		res.Reason = fmt.Sprintf("version %d is older than loaded %d", rs.Version, res.FromVersion)
		return res
	}

	r.install(country, key, rs)
	res.Success = true
	res.ToVersion = rs.Version
	return res
}

// BulkLoad resolves every required pair at startup. Any failure aborts; the
// caller must treat a partial load as fatal.
func (r *Registry) BulkLoad(ctx context.Context, refs []config.RulesetRef) error {
	for _, ref := range refs {
		rs, err := r.loader.Load(ctx, ref.Country, ref.Key)
		if err != nil {
			return fmt.Errorf("registry: load %s: %w", ref, err)
		}
		if rs.RuleCount() == 0 {
			return fmt.Errorf("registry: ruleset %s resolved empty", ref)
		}
		r.install(ref.Country, ref.Key, rs)
	}
	return nil
}

// Entry describes one loaded ruleset for the status surface.
type Entry struct {
	Country        string              `json:"country"`
	RulesetKey     string              `json:"ruleset_key"`
	Version        int64               `json:"version"`
	RuleCount      int                 `json:"rule_count"`
	CachedBuckets  int                 `json:"cached_buckets"`
	EvaluationType core.EvaluationType `json:"evaluation_type,omitempty"`
}

// Entries snapshots the loaded rulesets, sorted for stable output.
func (r *Registry) Entries() []Entry {
	slots := *r.slots.Load()
	entries := make([]Entry, 0, len(slots))
	for k, s := range slots {
		rs := s.ptr.Load()
		if rs == nil {
			continue
		}
		country, key, _ := strings.Cut(k, "/")
		entries = append(entries, Entry{
			Country:        country,
			RulesetKey:     key,
			Version:        rs.Version,
			RuleCount:      rs.RuleCount(),
			CachedBuckets:  rs.CachedBuckets(),
			EvaluationType: rs.EvaluationType,
		})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := strings.Compare(a.Country, b.Country); c != 0 {
			return c
		}
		return strings.Compare(a.RulesetKey, b.RulesetKey)
	})
	return entries
}
