// Package shedder bounds how many requests may hold the evaluation path at
// once. Requests that cannot claim a permit are answered by a synthesized
// fail-open response without touching any engine state.
package shedder

// Gate is a concurrency-permit gate. The zero-capacity form (disabled)
// admits everything.
type Gate struct {
	permits chan struct{}
}

func New(enabled bool, maxConcurrent int) *Gate {
	if !enabled || maxConcurrent <= 0 {
		return &Gate{}
	}
	return &Gate{permits: make(chan struct{}, maxConcurrent)}
}

// TryAcquire claims a permit without blocking. A caller that gets true must
// Release exactly once.
func (g *Gate) TryAcquire() bool {
	if g.permits == nil {
		return true
	}
	select {
	case g.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a permit claimed by TryAcquire.
func (g *Gate) Release() {
	if g.permits == nil {
		return
	}
	<-g.permits
}

// InUse reports how many permits are held right now.
func (g *Gate) InUse() int {
	return len(g.permits)
}

// Capacity reports the permit limit, zero when the gate is disabled.
func (g *Gate) Capacity() int {
	return cap(g.permits)
}
