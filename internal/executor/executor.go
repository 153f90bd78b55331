// Package executor provides the in-process work-stealing task runner
// consumed by the queue core: enqueue, flush, fence acquisition,
// scope wait-idle.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	gosemaphore "golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Submit once the executor has been closed.
var ErrClosed = errors.New("executor: closed")

// ErrQueueFull is returned by Submit when the pending queue is at
// capacity, a bounded submission queue's usual backpressure signal.
var ErrQueueFull = errors.New("executor: pending queue full")

// Task is one node of a submission's task graph (WaitCmd, IssueCmd or
// RetireCmd). Run executes the node's body; Cleanup, if set, always
// runs after Run regardless of outcome, carrying the node's resulting
// status -- this is how RetireCmd's arena teardown and semaphore
// signal/fail are wired in regardless of which path Run took.
type Task struct {
	Name string
	// Upstream carries the first failure status reported by this
	// task's predecessors in the DAG (nil if none failed). A Join
	// sets this before submitting a fan-in task; root tasks (WaitCmd,
	// or IssueCmd with no wait) leave it nil.
	Upstream error
	Run      func(ctx context.Context, upstream error) error
	Cleanup  func(status error)
}

// Config configures an Executor.
type Config struct {
	// Workers is the number of goroutines pulling tasks off the
	// pending queue. Defaults to runtime.GOMAXPROCS(0) semantics via
	// the caller; Executor itself just requires a positive count.
	Workers int
	// QueueSize bounds the number of tasks that may be pending
	// (submitted but not yet started) at once, for backpressure.
	QueueSize int
}

// DefaultConfig returns a small, generally-safe executor configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 4096}
}

// Executor runs submitted tasks on a fixed pool of worker goroutines
// pulling off a bounded channel, with Submit/Flush/fence-acquire as
// its external surface.
type Executor struct {
	taskChan chan *Task
	fence    *gosemaphore.Weighted
	workers  int

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New creates an Executor and starts its worker pool.
func New(ctx context.Context, cfg Config) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	e := &Executor{
		taskChan: make(chan *Task, cfg.QueueSize),
		fence:    gosemaphore.NewWeighted(int64(cfg.Workers)),
		workers:  cfg.Workers,
		group:    group,
		ctx:      groupCtx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(e.worker)
	}

	return e
}

func (e *Executor) worker() error {
	for {
		select {
		case task, ok := <-e.taskChan:
			if !ok {
				return nil
			}
			e.run(task)
		case <-e.ctx.Done():
			return nil
		}
	}
}

func (e *Executor) run(task *Task) {
	if err := e.fence.Acquire(e.ctx, 1); err != nil {
		// context cancelled out from under us; still run Cleanup so
		// the task graph's completion and semaphore state is not
		// left dangling.
		if task.Cleanup != nil {
			task.Cleanup(err)
		}
		return
	}
	defer e.fence.Release(1)

	var status error
	func() {
		defer func() {
			if r := recover(); r != nil {
				status = fmt.Errorf("executor: task %q panicked: %v", task.Name, r)
			}
		}()
		status = task.Run(e.ctx, task.Upstream)
	}()

	if status != nil {
		e.failed.Add(1)
	}
	e.completed.Add(1)

	if task.Cleanup != nil {
		task.Cleanup(status)
	}
}

// Submit enqueues task for execution. It returns ErrClosed once Close
// has run, and ErrQueueFull if the pending queue is at capacity --
// submit never blocks on command completion; a full queue is reported
// rather than silently stalling the caller.
func (e *Executor) Submit(task *Task) error {
	if task == nil {
		return fmt.Errorf("executor: nil task")
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case e.taskChan <- task:
		e.submitted.Add(1)
		return nil
	case <-e.ctx.Done():
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Flush is a synchronization point: since this executor dispatches
// eagerly as workers free up, Flush has nothing to batch and returns
// immediately with the count of tasks submitted so far that have not
// yet completed.
func (e *Executor) Flush() (pending uint32, err error) {
	submitted := e.submitted.Load()
	completed := e.completed.Load()
	if submitted < completed {
		return 0, nil
	}
	return uint32(submitted - completed), nil
}

// AcquireFence blocks until a worker slot is free, without running
// any task on it -- the executor's fence-acquisition primitive, used
// by callers that need to bound how much work is in flight without
// submitting a task of their own.
func (e *Executor) AcquireFence(ctx context.Context) error {
	if err := e.fence.Acquire(ctx, 1); err != nil {
		return err
	}
	e.fence.Release(1)
	return nil
}

// Stats reports cumulative submitted/completed/failed task counts.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns a snapshot of cumulative task counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Submitted: e.submitted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
	}
}

// Close stops accepting new tasks and waits for in-flight and already
// queued tasks to drain before returning.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	close(e.taskChan)
	err := e.group.Wait()
	e.cancel()
	return err
}
