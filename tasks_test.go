package haltaskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-hal/haltaskqueue/internal/cmdbuffer"
	"github.com/go-hal/haltaskqueue/internal/executor"
	"github.com/go-hal/haltaskqueue/internal/semaphore"
	"github.com/stretchr/testify/require"
)

func TestSubmitBatchFIFOOrderingAcrossManyBatches(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	log := &OrderLog{}

	const n = 100
	for i := 0; i < n; i++ {
		err := q.Submit(SubmissionBatch{
			CommandBuffers: []cmdbuffer.CommandBuffer{&RecordingCommandBuffer{Seq: i, Log: log}},
		})
		require.NoError(t, err)
	}

	require.NoError(t, q.WaitIdle(context.Background(), executor.InfiniteFuture()))

	entries := log.Entries()
	require.Len(t, entries, n)
	for i, v := range entries {
		require.Equal(t, i, v)
	}
}

func TestSubmitBatchFailurePropagatesToSignal(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	sem := semaphore.New()
	failure := errors.New("command buffer exploded")

	err := q.Submit(SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{&FailingCommandBuffer{Err: failure}},
		Signals:        SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})
	require.NoError(t, err) // submit itself succeeds; the batch fails asynchronously

	require.NoError(t, q.WaitIdle(context.Background(), executor.InfiniteFuture()))
	require.ErrorIs(t, sem.Failed(), failure)
}

func TestSubmitBatchSameQueueWaitElision(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	sem := semaphore.New()
	log := &OrderLog{}

	err := q.Submit(SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{&RecordingCommandBuffer{Seq: 0, Log: log}},
		Signals:        SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})
	require.NoError(t, err)

	// This batch waits on value 1, which the first batch's own retire
	// signals -- the wait must resolve without any external Signal call,
	// either synchronously inside EnqueueTimepoint (if that retire has
	// already run) or from the retire's Signal.
	err = q.Submit(SubmissionBatch{
		Waits:          SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
		CommandBuffers: []cmdbuffer.CommandBuffer{&RecordingCommandBuffer{Seq: 1, Log: log}},
	})
	require.NoError(t, err)

	require.NoError(t, q.WaitIdle(context.Background(), executor.InfiniteFuture()))
	require.Equal(t, []int{0, 1}, log.Entries())
}

func TestSubmitBatchCrossQueueWait(t *testing.T) {
	producer := NewTestQueue(t, "producer")
	consumer := NewTestQueue(t, "consumer")
	sem := semaphore.New()
	log := &OrderLog{}

	err := consumer.Submit(SubmissionBatch{
		Waits:          SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
		CommandBuffers: []cmdbuffer.CommandBuffer{&RecordingCommandBuffer{Seq: 1, Log: log}},
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.Empty(t, log.Entries())

	err = producer.Submit(SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{&RecordingCommandBuffer{Seq: 0, Log: log}},
		Signals:        SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})
	require.NoError(t, err)

	require.NoError(t, producer.WaitIdle(context.Background(), executor.InfiniteFuture()))
	require.NoError(t, consumer.WaitIdle(context.Background(), executor.InfiniteFuture()))
	require.Equal(t, []int{0, 1}, log.Entries())
}

func TestSubmitBatchEmptyBatchRetiresImmediately(t *testing.T) {
	q := NewTestQueue(t, "queue-0")
	err := q.Submit(SubmissionBatch{})
	require.NoError(t, err)
	require.NoError(t, q.WaitIdle(context.Background(), executor.InfiniteFuture()))
}

func TestSubmitBatchWaitElisionDoesNotLeakArenaBeforeTimepointResolves(t *testing.T) {
	// Regression test for the open question of whether a WaitCmd's
	// arena (and the semaphore list it cloned) stays valid for the
	// full round trip through EnqueueTimepoint, including the
	// already-satisfied synchronous-resolve path.
	q := NewTestQueue(t, "queue-0")
	sem := semaphore.New()
	require.NoError(t, sem.Signal(1))

	log := &OrderLog{}
	err := q.Submit(SubmissionBatch{
		Waits:          SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
		CommandBuffers: []cmdbuffer.CommandBuffer{&RecordingCommandBuffer{Seq: 0, Log: log}},
	})
	require.NoError(t, err)

	require.NoError(t, q.WaitIdle(context.Background(), executor.InfiniteFuture()))
	require.Equal(t, []int{0}, log.Entries())
}
