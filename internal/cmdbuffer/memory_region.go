package cmdbuffer

import (
	"fmt"
	"sync"
)

// ShardSize is the size of each memory-region shard (64KB). Sharded
// locking lets concurrent leaf tasks touch disjoint regions of a
// MemoryRegion in parallel instead of serializing on one mutex.
const ShardSize = 64 * 1024

// MemoryRegion is a RAM-backed store standing in for the device memory
// a real command-buffer backend would read and write. Adapted from
// a sharded-lock in-memory backend; a MemoryCommandBuffer's
// leaf tasks operate on one of these.
type MemoryRegion struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

// NewMemoryRegion creates a zeroed region of the given size.
func NewMemoryRegion(size int64) *MemoryRegion {
	numShards := (size + ShardSize - 1) / ShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &MemoryRegion{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

func (m *MemoryRegion) shardRange(off, length int64) (start, end int) {
	start = int(off / ShardSize)
	end = int((off + length - 1) / ShardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	if end < start {
		end = start
	}
	return start, end
}

// ReadAt copies into p from the region starting at off, clamped to the
// region's extent.
func (m *MemoryRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cmdbuffer: negative read offset %d", off)
	}
	if off >= m.size {
		return 0, nil
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	n := copy(p, m.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RUnlock()
	}

	return n, nil
}

// WriteAt copies p into the region starting at off.
func (m *MemoryRegion) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("cmdbuffer: negative write offset %d", off)
	}
	if off >= m.size {
		return 0, fmt.Errorf("cmdbuffer: write beyond end of region (off=%d size=%d)", off, m.size)
	}

	available := m.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	startShard, endShard := m.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	n := copy(m.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return n, nil
}

// Discard zeroes [offset, offset+length) in the region.
func (m *MemoryRegion) Discard(offset, length int64) error {
	if offset >= m.size || length <= 0 {
		return nil
	}

	end := offset + length
	if end > m.size {
		end = m.size
	}

	startShard, endShard := m.shardRange(offset, end-offset)
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	for i := offset; i < end; i++ {
		m.data[i] = 0
	}
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Unlock()
	}

	return nil
}

// Size returns the region's extent in bytes.
func (m *MemoryRegion) Size() int64 {
	return m.size
}
