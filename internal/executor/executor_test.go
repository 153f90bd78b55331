package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTask(t *testing.T) {
	e := New(context.Background(), Config{Workers: 2, QueueSize: 8})
	defer e.Close()

	var ran atomic.Bool
	done := make(chan struct{})
	err := e.Submit(&Task{
		Name: "t1",
		Run: func(ctx context.Context, upstream error) error {
			ran.Store(true)
			return nil
		},
		Cleanup: func(status error) { close(done) },
	})
	require.NoError(t, err)

	<-done
	require.True(t, ran.Load())
}

func TestSubmitPropagatesErrorToCleanup(t *testing.T) {
	e := New(context.Background(), Config{Workers: 1, QueueSize: 4})
	defer e.Close()

	boom := errors.New("boom")
	done := make(chan error, 1)
	err := e.Submit(&Task{
		Run:     func(ctx context.Context, upstream error) error { return boom },
		Cleanup: func(status error) { done <- status },
	})
	require.NoError(t, err)

	got := <-done
	require.ErrorIs(t, got, boom)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	e := New(context.Background(), Config{Workers: 1, QueueSize: 1})
	require.NoError(t, e.Close())

	err := e.Submit(&Task{Run: func(ctx context.Context, upstream error) error { return nil }})
	require.ErrorIs(t, err, ErrClosed)
}

func TestSubmitQueueFullBackpressure(t *testing.T) {
	block := make(chan struct{})
	e := New(context.Background(), Config{Workers: 1, QueueSize: 1})
	defer func() {
		close(block)
		e.Close()
	}()

	// occupy the single worker
	require.NoError(t, e.Submit(&Task{Run: func(ctx context.Context, upstream error) error {
		<-block
		return nil
	}}))

	// fill the one-slot queue
	require.NoError(t, e.Submit(&Task{Run: func(ctx context.Context, upstream error) error {
		<-block
		return nil
	}}))

	err := e.Submit(&Task{Run: func(ctx context.Context, upstream error) error { return nil }})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestPanicRecoveredAsCleanupError(t *testing.T) {
	e := New(context.Background(), Config{Workers: 1, QueueSize: 1})
	defer e.Close()

	done := make(chan error, 1)
	err := e.Submit(&Task{
		Run:     func(ctx context.Context, upstream error) error { panic("kaboom") },
		Cleanup: func(status error) { done <- status },
	})
	require.NoError(t, err)

	got := <-done
	require.Error(t, got)
}

func TestAcquireFenceBlocksUntilSlotFree(t *testing.T) {
	e := New(context.Background(), Config{Workers: 1, QueueSize: 4})
	defer e.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, e.Submit(&Task{Run: func(ctx context.Context, upstream error) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	fenceAcquired := make(chan struct{})
	go func() {
		_ = e.AcquireFence(context.Background())
		close(fenceAcquired)
	}()

	select {
	case <-fenceAcquired:
		t.Fatal("fence acquired while the sole worker was busy")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-fenceAcquired
}

func TestStatsTracksCounts(t *testing.T) {
	e := New(context.Background(), Config{Workers: 4, QueueSize: 32})
	defer e.Close()

	var wg sync.WaitGroup
	var done sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		done.Add(1)
		require.NoError(t, e.Submit(&Task{
			Run: func(ctx context.Context, upstream error) error {
				wg.Done()
				return nil
			},
			Cleanup: func(status error) { done.Done() },
		}))
	}
	wg.Wait()
	done.Wait()

	stats := e.Stats()
	require.Equal(t, int64(10), stats.Submitted)
	require.Equal(t, int64(10), stats.Completed)
	require.Equal(t, int64(0), stats.Failed)
}

func TestScopeWaitIdleInfiniteFuture(t *testing.T) {
	s := NewScope()
	s.Enter()

	done := make(chan error, 1)
	go func() { done <- s.WaitIdle(context.Background(), InfiniteFuture()) }()

	select {
	case <-done:
		t.Fatal("WaitIdle returned before scope went idle")
	case <-time.After(20 * time.Millisecond):
	}

	s.Exit()
	require.NoError(t, <-done)
}

func TestScopeWaitIdleInfinitePast(t *testing.T) {
	s := NewScope()
	require.NoError(t, s.WaitIdle(context.Background(), InfinitePast()))

	s.Enter()
	err := s.WaitIdle(context.Background(), InfinitePast())
	require.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestScopeWaitIdleAbsoluteDeadlineExceeded(t *testing.T) {
	s := NewScope()
	s.Enter()

	err := s.WaitIdle(context.Background(), After(10*time.Millisecond))
	require.ErrorIs(t, err, ErrDeadlineExceeded)
}

func TestScopeWaitIdleAbsoluteDeadlineResolvesEarly(t *testing.T) {
	s := NewScope()
	s.Enter()

	go func() {
		time.Sleep(5 * time.Millisecond)
		s.Exit()
	}()

	err := s.WaitIdle(context.Background(), After(2*time.Second))
	require.NoError(t, err)
}
