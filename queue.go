// Package haltaskqueue implements the task-queue core of a
// hardware-abstraction-layer used to execute pre-compiled command
// buffers against CPU-like backends: submission batches are turned
// into small wait/issue/retire task graphs, dispatched under a
// work-stealing executor, with FIFO ordering preserved per queue.
package haltaskqueue

import (
	"context"
	"sync"

	"github.com/go-hal/haltaskqueue/internal/arena"
	"github.com/go-hal/haltaskqueue/internal/executor"
	"github.com/go-hal/haltaskqueue/internal/logging"
)

// Queue is the core's single public type: it owns a reference to an
// executor, a block pool, a task scope for progress tracking, a
// mutex, and the tail outstanding issue task.
type Queue struct {
	id    string
	exec  *executor.Executor
	pool  *arena.BlockPool
	scope *executor.Scope
	state *QueueState

	mu        sync.Mutex
	tailIssue *issueCmd // guarded by mu

	logger   *logging.Logger
	observer Observer
}

// Config configures a Queue.
type Config struct {
	// Executor runs every task the queue creates. Required.
	Executor *executor.Executor
	// BlockPool backs every submission's arena. Required.
	BlockPool *arena.BlockPool
	// Logger receives structured per-batch log events. Defaults to
	// logging.Default() if nil.
	Logger *logging.Logger
	// Observer receives metrics callbacks. Defaults to NoOpObserver
	// if nil.
	Observer Observer
}

// NewQueue initializes a queue identified by id. There is no failure
// path: construction only wires references and zero-initializes state.
func NewQueue(id string, cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	return &Queue{
		id:       id,
		exec:     cfg.Executor,
		pool:     cfg.BlockPool,
		scope:    executor.NewScope(),
		state:    NewQueueState(),
		logger:   logger,
		observer: observer,
	}
}

// ID returns the queue's identifier.
func (q *Queue) ID() string {
	return q.id
}

// State returns the queue's opaque binding table, passed through to
// every command-buffer issue call.
func (q *Queue) State() *QueueState {
	return q.state
}

// Submit enqueues each batch in order, invoking submit-batch for each,
// then flushes the executor so pending work becomes
// visible to worker threads. It fails fast on the first failing
// batch: earlier batches already enqueued continue to execute
// independently (they carry their own retire that cleans up); no
// attempt is made to unwind them.
func (q *Queue) Submit(batches ...SubmissionBatch) error {
	var firstErr error
	for _, batch := range batches {
		if err := q.submitBatch(batch); err != nil {
			q.logger.Error("submit-batch failed", "queue", q.id, "error", err.Error())
			firstErr = NewQueueError("submit", q.id, CodeResourceExhausted, err.Error())
			break
		}
		q.observer.ObserveSubmit()
	}

	if _, err := q.exec.Flush(); err != nil && firstErr == nil {
		firstErr = WrapError("submit", CodeResourceExhausted, err)
	}

	return firstErr
}

// WaitIdle delegates to the scope's wait-idle with a deadline computed
// from deadline. It returns the scope's status, which
// may be a deadline-exceeded indication.
func (q *Queue) WaitIdle(ctx context.Context, deadline executor.Deadline) error {
	err := q.scope.WaitIdle(ctx, deadline)
	q.observer.ObserveWaitIdle(err != nil)
	if err != nil {
		return WrapError("wait-idle", CodeDeadlineExceeded, err)
	}
	return nil
}

// Deinitialize waits until the scope is idle with an infinite timeout,
// then asserts no submission is still chained off the tail before
// tearing the queue down. Precondition: no concurrent
// submit.
func (q *Queue) Deinitialize(ctx context.Context) error {
	if err := q.scope.WaitIdle(ctx, executor.InfiniteFuture()); err != nil {
		return WrapError("deinitialize", CodeDeadlineExceeded, err)
	}

	q.mu.Lock()
	tail := q.tailIssue
	q.mu.Unlock()
	if tail != nil {
		return NewQueueError("deinitialize", q.id, CodeFailedPrecondition,
			"tail_issue_task is not null after wait-idle")
	}

	return nil
}
