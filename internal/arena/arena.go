package arena

import (
	"fmt"
	"sync"
)

// Arena is a bump allocator that owns every allocation made for one
// submission's task graph. It is backed by a shared
// BlockPool: bytes are carved out of pool-provided blocks, and
// whole blocks are returned to the pool on Deinitialize.
//
// Arena also tracks task objects allocated "from" it via Track, so
// that Deinitialize releases the whole submission's task graph in one
// call, without requiring unsafe pointer arithmetic to carve Go
// structs out of raw bytes.
type Arena struct {
	mu       sync.Mutex
	pool     *BlockPool
	blocks   [][]byte
	cur      []byte // unused tail of the most recently acquired block
	tracked  []any
	deinited bool
}

// New creates a fresh arena backed by pool.
func New(pool *BlockPool) *Arena {
	return &Arena{pool: pool}
}

// Allocate returns a zeroed byte slice of the requested size, bump
// allocated out of the arena's current block. Allocations larger than
// a single block are satisfied with a dedicated, non-pooled slice
// (the overflow path every bump allocator needs) rather than failing.
func (a *Arena) Allocate(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("arena: negative allocation size %d", size)
	}
	if size == 0 {
		return []byte{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deinited {
		return nil, fmt.Errorf("arena: allocate after deinitialize")
	}

	if size > a.pool.BlockSize() {
		b := make([]byte, size)
		a.blocks = append(a.blocks, nil) // placeholder: not pool-owned, skip on release
		return b, nil
	}

	if len(a.cur) < size {
		if a.cur != nil {
			// current block still has unused tail; it stays attached to
			// this arena and is released in bulk at Deinitialize.
		}
		a.cur = a.pool.Acquire()
		a.blocks = append(a.blocks, a.cur)
	}

	out := a.cur[:size]
	a.cur = a.cur[size:]
	for i := range out {
		out[i] = 0
	}
	return out, nil
}

// Track binds obj's lifetime to the arena: it is kept reachable until
// Deinitialize runs, at which point the arena drops its reference,
// so every node in a submission's task graph is released together,
// even for Go types that aren't raw bytes (the WaitCmd/IssueCmd/
// RetireCmd task nodes themselves).
func (a *Arena) Track(obj any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracked = append(a.tracked, obj)
}

// Deinitialize returns every block to the shared pool and drops all
// tracked references. Only the first call does anything; later calls
// are no-ops, since retireCmd's cleanup is the unique owner and must
// be able to move the arena out of its struct and deinitialize the
// stack-local copy without double-releasing blocks.
func (a *Arena) Deinitialize() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deinited {
		return
	}
	a.deinited = true

	for _, b := range a.blocks {
		if b == nil {
			continue // oversized, non-pool-owned allocation
		}
		a.pool.Release(b)
	}
	a.blocks = nil
	a.cur = nil
	a.tracked = nil
}
