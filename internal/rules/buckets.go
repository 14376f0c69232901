package rules

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultBucketCapacity bounds the scope bucket cache. Cardinality in
// production is the set of distinct (network, bin, mcc, logo) tuples an
// instance actually sees, which is far below this for a single country.
const defaultBucketCapacity = 4096

type bucketKey struct {
	network string
	bin     string
	mcc     string
	logo    string
}

// bucketIndex caches the eligible-rule slice per scope tuple. Entries are
// derived purely from the immutable sorted rules, so concurrent misses may
// compute the same slice twice; both results are identical.
type bucketIndex struct {
	rules []*CompiledRule
	cache *lru.Cache[bucketKey, []*CompiledRule]
}

func newBucketIndex(sorted []*CompiledRule, capacity int) *bucketIndex {
	cache, err := lru.New[bucketKey, []*CompiledRule](capacity)
	if err != nil {
		// Only reachable with a non-positive capacity.
		panic(err)
	}
	return &bucketIndex{rules: sorted, cache: cache}
}

func (b *bucketIndex) eligible(k bucketKey) []*CompiledRule {
	if cached, ok := b.cache.Get(k); ok {
		return cached
	}

	out := make([]*CompiledRule, 0, len(b.rules))
	for _, r := range b.rules {
		if r.Scope.Matches(k.network, k.bin, k.mcc, k.logo) {
			out = append(out, r)
		}
	}
	b.cache.Add(k, out)
	return out
}

// entries reports the cached bucket count, for the status surface.
func (b *bucketIndex) entries() int {
	return b.cache.Len()
}
