package pool

import "sync"

// PoolSize is the number of simulator slots. Each slot selects one
// simulated host identity, so it is a scarce, globally numbered resource
// shared by every uplink.
const PoolSize = 8

// SlotPool hands out slot numbers 0..PoolSize-1, lowest free first.
// A slot stays assigned until explicitly released.
type SlotPool struct {
	mu   sync.Mutex
	free [PoolSize]bool
}

// NewSlotPool returns a pool with every slot free.
func NewSlotPool() *SlotPool {
	p := &SlotPool{}
	for i := range p.free {
		p.free[i] = true
	}
	return p
}

// Acquire claims the lowest free slot. The second return value is false
// when every slot is assigned.
func (p *SlotPool) Acquire() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.free {
		if p.free[i] {
			p.free[i] = false
			return i, true
		}
	}
	return 0, false
}

// Release returns a slot to the pool. Releasing a slot that is already
// free, or an out-of-range number, is a no-op.
func (p *SlotPool) Release(n int) {
	if n < 0 || n >= PoolSize {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[n] = true
}

// Free returns the number of unassigned slots.
func (p *SlotPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for i := range p.free {
		if p.free[i] {
			count++
		}
	}
	return count
}

// Used returns the number of assigned slots.
func (p *SlotPool) Used() int {
	return PoolSize - p.Free()
}
