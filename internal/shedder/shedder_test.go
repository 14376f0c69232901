package shedder

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateLimitsConcurrency(t *testing.T) {
	g := New(true, 2)

	// 1. Permits up to the limit are granted.
	assert.True(t, g.TryAcquire())
	assert.True(t, g.TryAcquire())
	assert.Equal(t, 2, g.InUse())

	// 2. The next request is denied without blocking.
	assert.False(t, g.TryAcquire())

	// 3. A release frees exactly one permit.
	g.Release()
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
}

func TestDisabledGateAdmitsEverything(t *testing.T) {
	g := New(false, 2)

	for i := 0; i < 100; i++ {
		assert.True(t, g.TryAcquire())
	}
	g.Release()
	assert.Equal(t, 0, g.Capacity())
}

func TestGateUnderContention(t *testing.T) {
	g := New(true, 8)

	// 1. Concurrent acquire/release cycles never exceed the limit and
	// never lose a permit.
	var active atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if g.TryAcquire() {
					if n := active.Add(1); n > 8 {
						t.Errorf("%d holders inside a gate of 8", n)
					}
					active.Add(-1)
					g.Release()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, g.InUse())
}
