// Package cmdbuffer provides the command-buffer issuer collaborator
// and a memory-backed reference implementation of it.
package cmdbuffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-hal/haltaskqueue/internal/arena"
	"github.com/go-hal/haltaskqueue/internal/executor"
)

// CommandBuffer is the interface IssueCmd calls for every command
// buffer in a batch. A lower-level signature for the same operation
// would read "issue(cmd_buffer, queue_state, completion_task, arena,
// pending_submission) -> status"; the completion-task pointer and
// pending-submission are generalized here
// into a report callback (invoked exactly once with the sub-DAG's
// final status) and the executor used to enqueue leaf work.
type CommandBuffer interface {
	// Issue enqueues this command buffer's work. It returns a
	// synchronous error only for issue-time failures (e.g. malformed
	// command); asynchronous outcomes are reported exclusively
	// through report, called exactly once.
	Issue(queueState any, ar *arena.Arena, exec *executor.Executor, report func(status error)) error
}

// Op identifies a MemoryCommandBuffer leaf operation.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpDiscard
	OpFail
)

// Command is one leaf operation of a MemoryCommandBuffer.
type Command struct {
	Op     Op
	Offset int64
	Length int64 // used by OpDiscard
	Data   []byte
	Err    error // used by OpFail
}

// MemoryCommandBuffer issues each of its Commands as an independent
// leaf task against a MemoryRegion, fanning their outcomes in before
// reporting completion -- the reference command-buffer issuer used by
// the demo and by the package's own tests.
type MemoryCommandBuffer struct {
	Region   *MemoryRegion
	Commands []Command
}

// NewMemoryCommandBuffer creates a command buffer over region.
func NewMemoryCommandBuffer(region *MemoryRegion, commands ...Command) *MemoryCommandBuffer {
	return &MemoryCommandBuffer{Region: region, Commands: commands}
}

func (c *MemoryCommandBuffer) Issue(queueState any, ar *arena.Arena, exec *executor.Executor, report func(status error)) error {
	if len(c.Commands) == 0 {
		report(nil)
		return nil
	}

	fan := newFanIn(len(c.Commands), report)
	for _, cmd := range c.Commands {
		cmd := cmd
		err := exec.Submit(&executor.Task{
			Name: "cmdbuffer-leaf",
			Run: func(ctx context.Context, upstream error) error {
				if upstream != nil {
					return upstream
				}
				return c.execute(cmd)
			},
			Cleanup: func(status error) { fan.done(status) },
		})
		if err != nil {
			fan.done(err)
		}
	}
	return nil
}

func (c *MemoryCommandBuffer) execute(cmd Command) error {
	switch cmd.Op {
	case OpRead:
		_, err := c.Region.ReadAt(cmd.Data, cmd.Offset)
		return err
	case OpWrite:
		_, err := c.Region.WriteAt(cmd.Data, cmd.Offset)
		return err
	case OpDiscard:
		return c.Region.Discard(cmd.Offset, cmd.Length)
	case OpFail:
		if cmd.Err != nil {
			return cmd.Err
		}
		return fmt.Errorf("cmdbuffer: command failed")
	default:
		return fmt.Errorf("cmdbuffer: unknown op %d", cmd.Op)
	}
}

// fanIn tracks n outstanding leaf tasks and invokes report exactly
// once all have reported, carrying the first non-nil status any of
// them produced.
type fanIn struct {
	remaining atomic.Int64
	mu        sync.Mutex
	status    error
	report    func(error)
}

func newFanIn(n int, report func(error)) *fanIn {
	f := &fanIn{report: report}
	f.remaining.Store(int64(n))
	return f
}

func (f *fanIn) done(status error) {
	if status != nil {
		f.mu.Lock()
		if f.status == nil {
			f.status = status
		}
		f.mu.Unlock()
	}
	if f.remaining.Add(-1) == 0 {
		f.mu.Lock()
		final := f.status
		f.mu.Unlock()
		f.report(final)
	}
}
