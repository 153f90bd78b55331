package haltaskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/go-hal/haltaskqueue/internal/executor"
	"github.com/go-hal/haltaskqueue/internal/semaphore"
	"github.com/stretchr/testify/require"
)

func TestQueueIDAndState(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	require.Equal(t, "queue-0", q.ID())
	require.NotNil(t, q.State())

	q.State().Bind("k", 42)
	v, ok := q.State().Lookup("k")
	require.True(t, ok)
	require.Equal(t, 42, v)
}

func TestQueueSubmitSignalOnlyBatch(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	sem := semaphore.New()

	err := q.Submit(SubmissionBatch{
		Signals: SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})
	require.NoError(t, err)

	require.NoError(t, q.WaitIdle(context.Background(), executor.InfiniteFuture()))
	require.Equal(t, uint64(1), sem.Value())
}

func TestQueueWaitIdleInfinitePastReturnsImmediately(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	err := q.WaitIdle(context.Background(), executor.InfinitePast())
	require.NoError(t, err)
}

func TestQueueWaitIdleTimesOutWhileBusy(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	sem := semaphore.New() // never signaled

	err := q.Submit(SubmissionBatch{
		Waits: SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})
	require.NoError(t, err)

	err = q.WaitIdle(context.Background(), executor.After(20*time.Millisecond))
	require.Error(t, err)
	require.True(t, IsCode(err, CodeDeadlineExceeded))
}

func TestQueueDeinitializeFailsWithOutstandingWork(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	sem := semaphore.New()

	err := q.Submit(SubmissionBatch{
		Waits: SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = q.Deinitialize(ctx)
	require.Error(t, err)

	require.NoError(t, sem.Signal(1))
}

func TestQueueDeinitializeSucceedsWhenIdle(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	err := q.Deinitialize(context.Background())
	require.NoError(t, err)
}
