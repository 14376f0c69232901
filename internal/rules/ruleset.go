package rules

import (
	"slices"
	"strings"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/fields"
)

// stringSet is a scope dimension's allowed-value set. A nil set means the
// dimension is unconstrained.
type stringSet map[string]struct{}

func newStringSet(vals []string) stringSet {
	if len(vals) == 0 {
		return nil
	}
	s := make(stringSet, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

func (s stringSet) has(v string) bool {
	_, ok := s[v]
	return ok
}

// Scope holds a rule's compiled dimension constraints. Semantics: OR within a
// dimension, AND across dimensions, no wildcards.
type Scope struct {
	Networks stringSet
	BINs     stringSet
	MCCs     stringSet
	Logos    stringSet
}

func newScope(spec *ScopeSpec) Scope {
	if spec == nil {
		return Scope{}
	}
	return Scope{
		Networks: newStringSet(spec.Network),
		BINs:     newStringSet(spec.BIN),
		MCCs:     newStringSet(spec.MCC),
		Logos:    newStringSet(spec.Logo),
	}
}

// Matches reports whether every constrained dimension accepts the
// transaction's value.
func (s Scope) Matches(network, bin, mcc, logo string) bool {
	if s.Networks != nil && !s.Networks.has(network) {
		return false
	}
	if s.BINs != nil && !s.BINs.has(bin) {
		return false
	}
	if s.MCCs != nil && !s.MCCs.has(mcc) {
		return false
	}
	if s.Logos != nil && !s.Logos.has(logo) {
		return false
	}
	return true
}

// Specificity counts constrained dimensions. GLOBAL rules score zero.
func (s Scope) Specificity() int {
	n := 0
	if s.Networks != nil {
		n++
	}
	if s.BINs != nil {
		n++
	}
	if s.MCCs != nil {
		n++
	}
	if s.Logos != nil {
		n++
	}
	return n
}

// dimensionMask encodes which dimensions are constrained, network as the
// highest bit. At equal specificity a larger mask constrains an earlier
// dimension, which is the ordering tie-break.
func (s Scope) dimensionMask() uint8 {
	var m uint8
	if s.Networks != nil {
		m |= 1 << 3
	}
	if s.BINs != nil {
		m |= 1 << 2
	}
	if s.MCCs != nil {
		m |= 1 << 1
	}
	if s.Logos != nil {
		m |= 1
	}
	return m
}

func (s Scope) IsGlobal() bool {
	return s.Specificity() == 0
}

// CompiledRule is one rule ready for evaluation: resolved scope, closure
// predicate, optional velocity clause.
type CompiledRule struct {
	RuleID    string
	Name      string
	Priority  int32
	Enabled   bool
	Action    core.Action
	Reason    string
	Scope     Scope
	Velocity  *core.VelocityConfig
	Predicate Predicate
}

// CompareRules is the rules_sorted ordering that makes first-match-wins
// deterministic:
//
//  1. scope specificity descending, ties broken by the fixed dimension order
//     (network, bin, mcc, logo); GLOBAL rules therefore sort last;
//  2. priority descending;
//  3. APPROVE before non-APPROVE at equal priority;
//  4. rule_id ascending, so sorting is a total order.
func CompareRules(a, b *CompiledRule) int {
	if d := b.Scope.Specificity() - a.Scope.Specificity(); d != 0 {
		return d
	}
	if d := int(b.Scope.dimensionMask()) - int(a.Scope.dimensionMask()); d != 0 {
		return d
	}
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	aApprove := a.Action == core.ActionApprove
	bApprove := b.Action == core.ActionApprove
	if aApprove != bApprove {
		if aApprove {
			return -1
		}
		return 1
	}
	return strings.Compare(a.RuleID, b.RuleID)
}

// CompiledRuleset is an immutable, presorted ruleset. Hot swaps replace the
// whole value behind a registry pointer; nothing here is ever mutated after
// construction.
type CompiledRuleset struct {
	RulesetKey           string
	RulesetID            string
	Version              int64
	Country              string
	EvaluationType       core.EvaluationType
	FieldRegistryVersion int64
	// Fields is the registry the predicates were compiled against. Binding
	// a transaction with any other registry would scramble slot ids.
	Fields *fields.Registry
	Rules  []*CompiledRule

	buckets *bucketIndex
}

// RulesetMeta carries the artifact identity into NewRuleset.
type RulesetMeta struct {
	RulesetKey           string
	RulesetID            string
	Version              int64
	Country              string
	EvaluationType       core.EvaluationType
	FieldRegistryVersion int64
	Fields               *fields.Registry
}

// NewRuleset sorts the compiled rules and builds the scope bucket index.
func NewRuleset(meta RulesetMeta, compiled []*CompiledRule) *CompiledRuleset {
	sorted := slices.Clone(compiled)
	slices.SortStableFunc(sorted, CompareRules)

	rs := &CompiledRuleset{
		RulesetKey:           meta.RulesetKey,
		RulesetID:            meta.RulesetID,
		Version:              meta.Version,
		Country:              meta.Country,
		EvaluationType:       meta.EvaluationType,
		FieldRegistryVersion: meta.FieldRegistryVersion,
		Fields:               meta.Fields,
		Rules:                sorted,
	}
	rs.buckets = newBucketIndex(sorted, defaultBucketCapacity)
	return rs
}

// Eligible returns the order-preserving slice of rules whose scope accepts
// the transaction's (network, bin, mcc, logo) tuple. Results are cached in a
// bounded LRU; the cache is a pure precomputation and never changes outcomes.
func (rs *CompiledRuleset) Eligible(network, bin, mcc, logo string) []*CompiledRule {
	return rs.buckets.eligible(bucketKey{network: network, bin: bin, mcc: mcc, logo: logo})
}

// RuleCount reports how many rules the set holds, enabled or not.
func (rs *CompiledRuleset) RuleCount() int {
	return len(rs.Rules)
}

// CachedBuckets reports how many scope tuples the bucket index holds.
func (rs *CompiledRuleset) CachedBuckets() int {
	return rs.buckets.entries()
}
