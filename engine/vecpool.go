package engine

import (
	"context"
	"fmt"
)

// GPUBufferPool bounds the number of concurrent "GPU buffer" allocations
// a metal-preferred vector engine may hold at once. There is no real GPU
// backing this reference implementation; the pool exists so the
// capability contract — allocation count may not grow beyond the
// preconfigured pool size — is enforced and testable independent of any
// particular accelerator binding.
type GPUBufferPool struct {
	capacity int
	tokens   chan struct{}
}

// NewGPUBufferPool creates a pool that allows at most capacity concurrent
// allocations. capacity <= 0 degenerates to a pool of size 1.
func NewGPUBufferPool(capacity int) *GPUBufferPool {
	if capacity <= 0 {
		capacity = 1
	}
	return &GPUBufferPool{
		capacity: capacity,
		tokens:   make(chan struct{}, capacity),
	}
}

// Acquire blocks until a buffer slot is free or ctx is canceled.
func (p *GPUBufferPool) Acquire(ctx context.Context) error {
	select {
	case p.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a buffer slot to the pool. Calling Release without a
// matching Acquire returns an error instead of blocking.
func (p *GPUBufferPool) Release() error {
	select {
	case <-p.tokens:
		return nil
	default:
		return fmt.Errorf("vec engine: release called with no outstanding allocation")
	}
}

// InUse reports the current allocation count, bounded by Capacity.
func (p *GPUBufferPool) InUse() int { return len(p.tokens) }

// Capacity reports the preconfigured pool size.
func (p *GPUBufferPool) Capacity() int { return p.capacity }

// MetalVecEngine wraps the CPU brute-force VecEngine with a bounded
// buffer pool standing in for accelerator memory. Search acquires one
// buffer slot for the duration of the call, so concurrent searches on the
// same engine never exceed the preconfigured pool size; once the pool is
// saturated, further callers queue rather than spin. If the wrapped
// engine cannot service a request (e.g. during a deserialize-time schema
// mismatch), MetalVecEngine reports the error rather than silently
// falling back. No component selects between vector engines by
// preference: the search lane uses whichever engine it is given.
type MetalVecEngine struct {
	*VecEngine
	pool *GPUBufferPool
}

// NewMetalVecEngine wraps engine with a buffer pool of the given
// capacity.
func NewMetalVecEngine(vec *VecEngine, poolCapacity int) *MetalVecEngine {
	return &MetalVecEngine{VecEngine: vec, pool: NewGPUBufferPool(poolCapacity)}
}

// Search acquires a pool slot, runs the wrapped brute-force search, then
// releases the slot. A background context is used for acquisition since
// the Engine capability's Search signature carries no context; callers
// needing cancellation should bound search concurrency externally.
func (m *MetalVecEngine) Search(req SearchRequest) ([]SearchHit, error) {
	ctx := context.Background()
	if err := m.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer m.pool.Release()
	return m.VecEngine.Search(req)
}

// BufferPoolStats exposes the pool's current pressure for observability.
func (m *MetalVecEngine) BufferPoolStats() (inUse, capacity int) {
	return m.pool.InUse(), m.pool.Capacity()
}
