package executor

import (
	"sync"
	"sync/atomic"
)

// Join implements fan-in completion: N contributors each call Done
// exactly once, and once all have reported, task is submitted to exec
// carrying the first non-nil status any contributor reported as its
// Upstream.
//
// This is how the sub-DAGs a batch's command buffers enqueue converge
// on one downstream task without hand-rolled pointer chasing: each
// command buffer reports its final status into Join.Done exactly once
// (after fanning in its own leaf tasks), and the join submits the
// shared completion task once. WaitCmd uses the same mechanism, with
// one contributor per timepoint.
type Join struct {
	exec      *Executor
	task      *Task
	remaining atomic.Int64

	mu     sync.Mutex
	status error
}

// NewJoin creates a join expecting n contributors to report into task.
// If n is zero, task is submitted immediately (a contributor list
// that turns out to be empty is a legal, trivially-satisfied join).
func NewJoin(exec *Executor, n int, task *Task) *Join {
	j := &Join{exec: exec, task: task}
	j.remaining.Store(int64(n))
	if n == 0 {
		j.submit(nil)
	}
	return j
}

// Done reports one contributor's completion status. The first non-nil
// status observed across all contributors is the one that reaches the
// completion task's Upstream field.
func (j *Join) Done(status error) {
	if status != nil {
		j.mu.Lock()
		if j.status == nil {
			j.status = status
		}
		j.mu.Unlock()
	}

	if j.remaining.Add(-1) == 0 {
		j.mu.Lock()
		final := j.status
		j.mu.Unlock()
		j.submit(final)
	}
}

func (j *Join) submit(status error) {
	j.task.Upstream = status
	if err := j.exec.Submit(j.task); err != nil && j.task.Cleanup != nil {
		// executor refused the completion task (closed or queue
		// full); still run its cleanup so the graph doesn't leak,
		// reporting the submit failure as the task's own status.
		j.task.Cleanup(err)
	}
}
