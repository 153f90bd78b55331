package haltaskqueue

import (
	"context"
	"sync"
	"testing"

	"github.com/go-hal/haltaskqueue/internal/arena"
	"github.com/go-hal/haltaskqueue/internal/executor"
)

// NewTestQueue builds a Queue backed by a fresh in-process executor
// and block pool, registering cleanup with t so the executor drains
// on test exit.
func NewTestQueue(t *testing.T, id string) *Queue {
	t.Helper()
	exec := executor.New(context.Background(), executor.Config{Workers: 4, QueueSize: 256})
	t.Cleanup(func() { _ = exec.Close() })

	pool := arena.NewBlockPool(arena.DefaultBlockSize)
	return NewQueue(id, Config{Executor: exec, BlockPool: pool})
}

// RecordingCommandBuffer appends seq to a shared, mutex-guarded log
// when issued, then reports success. Used to assert FIFO issue
// ordering across many batches.
type RecordingCommandBuffer struct {
	Seq int
	Log *OrderLog
}

// OrderLog is a concurrency-safe append log.
type OrderLog struct {
	mu      sync.Mutex
	entries []int
}

// Record appends seq to the log.
func (l *OrderLog) Record(seq int) {
	l.mu.Lock()
	l.entries = append(l.entries, seq)
	l.mu.Unlock()
}

// Entries returns a snapshot of the recorded order.
func (l *OrderLog) Entries() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.entries))
	copy(out, l.entries)
	return out
}

func (c *RecordingCommandBuffer) Issue(queueState any, ar *arena.Arena, exec *executor.Executor, report func(status error)) error {
	c.Log.Record(c.Seq)
	report(nil)
	return nil
}

// FailingCommandBuffer always reports err as its completion status.
type FailingCommandBuffer struct {
	Err error
}

func (c *FailingCommandBuffer) Issue(queueState any, ar *arena.Arena, exec *executor.Executor, report func(status error)) error {
	report(c.Err)
	return nil
}

// NoOpCommandBuffer reports success without doing any work -- used
// for synchronization-only submissions.
type NoOpCommandBuffer struct{}

func (NoOpCommandBuffer) Issue(queueState any, ar *arena.Arena, exec *executor.Executor, report func(status error)) error {
	report(nil)
	return nil
}
