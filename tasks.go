package haltaskqueue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-hal/haltaskqueue/internal/arena"
	"github.com/go-hal/haltaskqueue/internal/cmdbuffer"
	"github.com/go-hal/haltaskqueue/internal/executor"
	"github.com/go-hal/haltaskqueue/internal/logging"
)

// batchSeq hands out monotonically increasing sequence numbers for
// log context only -- scheduling never consults them. FIFO ordering
// comes entirely from tail-issue stitching (see submitBatch below).
var batchSeq atomic.Uint64

func nextBatchSeq() uint64 {
	return batchSeq.Add(1)
}

// waitCmd is the optional predecessor to issueCmd when a batch has
// unsatisfied waits.
type waitCmd struct {
	seq  uint64
	list SemaphoreList
}

// issueCmd walks a batch's command-buffer list and asks each to
// enqueue its own sub-DAG, all converging on retireTask. continuation
// is the FIFO-stitching slot: a later submission
// on the same queue may arm it with its own root task, in which case
// issueCmd's cleanup fires it instead of clearing the queue's tail.
type issueCmd struct {
	seq            uint64
	queue          *Queue
	ar             *arena.Arena
	commandBuffers []cmdbuffer.CommandBuffer
	retireTask     *executor.Task

	continuation *executor.Task // guarded by queue.mu
}

// retireCmd is the terminal task of a submission; it owns the arena
// the whole DAG was allocated from.
type retireCmd struct {
	seq        uint64
	arena      *arena.Arena
	signals    SemaphoreList
	scope      *executor.Scope
	observer   Observer
	submitTime time.Time
}

// submitBatch implements the central submit-batch algorithm: it
// builds one batch's wait/issue/retire DAG, stitches it
// onto the queue's FIFO tail, and hands its root to the executor.
func (q *Queue) submitBatch(batch SubmissionBatch) error {
	seq := nextBatchSeq()

	// Step 1: RetireCmd allocation, owning a fresh arena.
	ar := arena.New(q.pool)
	signals, err := cloneSemaphoreList(batch.Signals, ar)
	if err != nil {
		ar.Deinitialize()
		return WrapError("submit-batch", CodeResourceExhausted, err)
	}

	rc := &retireCmd{seq: seq, arena: ar, signals: signals, scope: q.scope, observer: q.observer, submitTime: time.Now()}
	ar.Track(rc)

	retireTask := &executor.Task{Name: "retire", Run: rc.run}
	retireTask.Cleanup = func(status error) { rc.cleanup(status, q.logger) }

	// Step 2: fence -- the queue's scope tracks this submission as
	// in-flight until retire's cleanup runs.
	q.scope.Enter()

	// Step 3: WaitCmd allocation (conditional).
	var wc *waitCmd
	if batch.Waits.Len() > 0 {
		waits, err := cloneSemaphoreList(batch.Waits, ar)
		if err != nil {
			ar.Deinitialize()
			q.scope.Exit()
			return WrapError("submit-batch", CodeResourceExhausted, err)
		}
		wc = &waitCmd{seq: seq, list: waits}
		ar.Track(wc)
	}

	// Step 4: IssueCmd allocation, sized to hold the batch's command
	// buffers (a plain Go slice stands in for the arena-carved
	// variable-length tail a lower-level implementation would use).
	commandBuffers := make([]cmdbuffer.CommandBuffer, len(batch.CommandBuffers))
	copy(commandBuffers, batch.CommandBuffers)
	ic := &issueCmd{seq: seq, queue: q, ar: ar, commandBuffers: commandBuffers, retireTask: retireTask}
	ar.Track(ic)

	issueTask := &executor.Task{Name: "issue", Run: ic.run}
	issueTask.Cleanup = func(status error) { ic.cleanup(q) }

	// Step 5: wiring & FIFO stitching.
	var root *executor.Task
	if wc != nil {
		root = &executor.Task{
			Name: "wait",
			Run:  func(ctx context.Context, upstream error) error { return wc.run(ctx, upstream, issueTask, q.exec) },
		}
		root.Cleanup = func(status error) { releaseSemaphoreList(wc.list) }
	} else {
		root = issueTask
	}

	q.mu.Lock()
	priorTail := q.tailIssue
	if priorTail != nil {
		priorTail.continuation = root
	}
	q.tailIssue = ic
	q.mu.Unlock()

	// Step 6: enqueue. If a prior issue is still live, it owns firing
	// root once it finishes (see issueCmd.cleanup); otherwise this
	// batch's root is ready to run now.
	if priorTail == nil {
		if err := q.exec.Submit(root); err != nil {
			return WrapError("submit-batch", CodeResourceExhausted, err)
		}
	}
	return nil
}

// run executes waitCmd's task body: registers every (semaphore, value)
// pair as a timepoint, fanning the results into issueTask once every
// timepoint has resolved. Same-queue wait elision is
// inherited for free: semaphore.EnqueueTimepoint resolves synchronously
// when the target value is already satisfied, so join.Done fires
// before EnqueueTimepoint even returns.
func (wc *waitCmd) run(ctx context.Context, upstream error, issueTask *executor.Task, exec *executor.Executor) error {
	if upstream != nil {
		issueTask.Upstream = upstream
		_ = exec.Submit(issueTask)
		return upstream
	}

	n := wc.list.Len()
	if n == 0 {
		_ = exec.Submit(issueTask)
		return nil
	}

	join := executor.NewJoin(exec, n, issueTask)
	for i, sem := range wc.list.Semaphores {
		value := wc.list.Values[i]
		sem.EnqueueTimepoint(value, join.Done)
	}
	return nil
}

// run executes issueCmd's task body: asks every command buffer to
// enqueue its sub-DAG, all converging on retireTask.
func (ic *issueCmd) run(ctx context.Context, upstream error) error {
	if upstream != nil {
		ic.retireTask.Upstream = upstream
		_ = ic.queue.exec.Submit(ic.retireTask)
		return upstream
	}

	n := len(ic.commandBuffers)
	if n == 0 {
		_ = ic.queue.exec.Submit(ic.retireTask)
		return nil
	}

	join := executor.NewJoin(ic.queue.exec, n, ic.retireTask)
	for _, cb := range ic.commandBuffers {
		if err := cb.Issue(ic.queue.state, ic.ar, ic.queue.exec, join.Done); err != nil {
			join.Done(err)
		}
	}
	return nil
}

// cleanup clears the queue's tail pointer if it still points at ic,
// or fires whatever continuation a later submission armed onto ic in
// the meantime. The queue mutex
// serializes this against submitBatch's own Step 5, so exactly one of
// the two branches below ever runs for a given ic.
func (ic *issueCmd) cleanup(q *Queue) {
	q.mu.Lock()
	var toFire *executor.Task
	if q.tailIssue == ic {
		q.tailIssue = nil
	} else {
		toFire = ic.continuation
	}
	q.mu.Unlock()

	if toFire != nil {
		_ = q.exec.Submit(toFire)
	}
}

// run executes retireCmd's task body: advances every signal semaphore
// in order, aborting the loop (but not cleanup) on the first failure.
func (rc *retireCmd) run(ctx context.Context, upstream error) error {
	if upstream != nil {
		return upstream
	}
	for i, sem := range rc.signals.Semaphores {
		value := rc.signals.Values[i]
		err := sem.Signal(value)
		if rc.observer != nil {
			rc.observer.ObserveSignal(err == nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// cleanup always runs after retireCmd's task body. On failure, it
// fails every signal semaphore so downstream dependents observe the
// failure; it then releases the signal list and deinitializes the
// arena, destroying retireCmd itself as a side effect.
func (rc *retireCmd) cleanup(status error, logger *logging.Logger) {
	if status != nil {
		for _, sem := range rc.signals.Semaphores {
			_ = sem.Fail(status)
		}
		if logger != nil {
			logger.Warn("batch retired with failure", "seq", rc.seq, "error", status.Error())
		}
	} else if logger != nil {
		logger.Debug("batch retired", "seq", rc.seq)
	}

	if rc.observer != nil {
		rc.observer.ObserveRetire(status == nil, time.Since(rc.submitTime))
	}

	releaseSemaphoreList(rc.signals)

	// Copy the arena and scope to locals before the struct it lives
	// in (rc itself, tracked on that very arena) is invalidated by
	// Deinitialize's block release.
	ar := rc.arena
	scope := rc.scope
	rc.arena = nil
	ar.Deinitialize()
	scope.Exit()
}
