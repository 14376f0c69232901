package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/fraudengine/internal/core"
)

func TestEligibleFiltersAndPreservesOrder(t *testing.T) {
	visa5411 := scopedRule("visa-5411", 10, core.ActionDecline, &ScopeSpec{Network: []string{"VISA"}, MCC: []string{"5411"}})
	visaOnly := scopedRule("visa-only", 5, core.ActionDecline, &ScopeSpec{Network: []string{"VISA"}})
	amexOnly := scopedRule("amex-only", 99, core.ActionDecline, &ScopeSpec{Network: []string{"AMEX"}})
	global := scopedRule("global", 1, core.ActionApprove, nil)

	rs := NewRuleset(RulesetMeta{RulesetKey: "CARD_AUTH", Version: 1}, []*CompiledRule{
		global, amexOnly, visaOnly, visa5411,
	})

	eligible := rs.Eligible("VISA", "411111", "5411", "")
	require.Len(t, eligible, 3)
	assert.Equal(t, "visa-5411", eligible[0].RuleID)
	assert.Equal(t, "visa-only", eligible[1].RuleID)
	assert.Equal(t, "global", eligible[2].RuleID)

	eligible = rs.Eligible("AMEX", "", "7995", "")
	require.Len(t, eligible, 2)
	assert.Equal(t, "amex-only", eligible[0].RuleID)
	assert.Equal(t, "global", eligible[1].RuleID)

	eligible = rs.Eligible("ELO", "", "", "")
	require.Len(t, eligible, 1)
	assert.Equal(t, "global", eligible[0].RuleID)
}

func TestEligibleCachesTuples(t *testing.T) {
	rs := NewRuleset(RulesetMeta{RulesetKey: "CARD_AUTH", Version: 1}, []*CompiledRule{
		scopedRule("global", 1, core.ActionApprove, nil),
	})
	require.Equal(t, 0, rs.CachedBuckets())

	first := rs.Eligible("VISA", "411111", "5411", "gold")
	assert.Equal(t, 1, rs.CachedBuckets())

	second := rs.Eligible("VISA", "411111", "5411", "gold")
	assert.Equal(t, 1, rs.CachedBuckets(), "repeat lookup hits the cache")
	assert.Equal(t, first, second)

	rs.Eligible("VISA", "411111", "5999", "gold")
	assert.Equal(t, 2, rs.CachedBuckets())
}

func TestBucketCacheIsBounded(t *testing.T) {
	idx := newBucketIndex([]*CompiledRule{
		scopedRule("global", 1, core.ActionApprove, nil),
	}, 8)

	for i := 0; i < 50; i++ {
		idx.eligible(bucketKey{bin: fmt.Sprintf("bin-%d", i)})
	}
	assert.LessOrEqual(t, idx.entries(), 8, "LRU keeps the index bounded")

	// Evicted tuples recompute to the same slice.
	got := idx.eligible(bucketKey{bin: "bin-0"})
	require.Len(t, got, 1)
	assert.Equal(t, "global", got[0].RuleID)
}
