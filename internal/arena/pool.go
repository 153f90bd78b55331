// Package arena provides the bump allocator and shared block pool that
// back every submission's task graph.
package arena

import "sync"

// DefaultBlockSize is the size of each block handed out by a BlockPool
// when none is configured. It generalizes a fixed set of
// size-bucketed I/O buffers (128K/256K/512K/1M) into a single,
// configurable block size reused by every arena in the queue.
const DefaultBlockSize = 16 * 1024

// BlockPool hands out reusable byte-slice blocks of a fixed size,
// backed by a sync.Pool and a pointer-to-slice wrapper that avoids the
// interface-boxing allocation sync.Pool.Get would otherwise incur for
// a plain []byte.
type BlockPool struct {
	blockSize int
	pool      sync.Pool
}

// NewBlockPool creates a block pool handing out blocks of blockSize
// bytes. A non-positive blockSize falls back to DefaultBlockSize.
func NewBlockPool(blockSize int) *BlockPool {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	bp := &BlockPool{blockSize: blockSize}
	bp.pool.New = func() any {
		b := make([]byte, blockSize)
		return &b
	}
	return bp
}

// BlockSize returns the fixed size of blocks this pool hands out.
func (p *BlockPool) BlockSize() int {
	return p.blockSize
}

// Acquire returns a block of BlockSize() bytes, reused from the pool
// when available.
func (p *BlockPool) Acquire() []byte {
	b := *p.pool.Get().(*[]byte)
	return b[:cap(b)]
}

// Release returns a block to the pool. Blocks whose capacity no
// longer matches BlockSize (e.g. grown via append elsewhere) are
// dropped rather than corrupting the pool's invariants.
func (p *BlockPool) Release(b []byte) {
	if cap(b) != p.blockSize {
		return
	}
	b = b[:p.blockSize]
	p.pool.Put(&b)
}
