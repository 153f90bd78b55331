// Command haltaskqueue-demo wires a real executor, block pool, and
// memory-backed command buffer together and drives a handful of
// submission scenarios end to end, printing the resulting semaphore
// values. It is a runnable walkthrough, not a production entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	haltaskqueue "github.com/go-hal/haltaskqueue"
	"github.com/go-hal/haltaskqueue/internal/arena"
	"github.com/go-hal/haltaskqueue/internal/cmdbuffer"
	"github.com/go-hal/haltaskqueue/internal/executor"
	"github.com/go-hal/haltaskqueue/internal/logging"
	"github.com/go-hal/haltaskqueue/internal/semaphore"
)

func main() {
	var (
		workers = flag.Int("workers", 4, "Executor worker count")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := executor.New(ctx, executor.Config{Workers: *workers, QueueSize: 4096})
	defer exec.Close()
	pool := arena.NewBlockPool(arena.DefaultBlockSize)

	logger.Info("starting demo", "workers", *workers)

	// Set up a SIGUSR1 handler for stack trace dumps, the usual idiom
	// for a long-running daemon entry point.
	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runScenarios(ctx, exec, pool, logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		logger.Info("scenarios complete")
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
	}
}

func runScenarios(ctx context.Context, exec *executor.Executor, pool *arena.BlockPool, logger *logging.Logger) {
	fmt.Println("-- signal-only batch --")
	signalOnly(exec, pool)

	fmt.Println("-- chained wait with same-queue elision --")
	chainedWait(exec, pool)

	fmt.Println("-- cross-queue wait --")
	crossQueueWait(exec, pool)

	fmt.Println("-- induced failure propagation --")
	inducedFailure(exec, pool)
}

func signalOnly(exec *executor.Executor, pool *arena.BlockPool) {
	q := haltaskqueue.NewQueue("signal-only", haltaskqueue.Config{Executor: exec, BlockPool: pool})
	done := semaphore.New()

	region := cmdbuffer.NewMemoryRegion(4096)
	cb := cmdbuffer.NewMemoryCommandBuffer(region, cmdbuffer.Command{Op: cmdbuffer.OpWrite, Offset: 0, Data: []byte("hello")})

	if err := q.Submit(haltaskqueue.SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{cb},
		Signals:        haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{done}, Values: []uint64{1}},
	}); err != nil {
		fmt.Println("submit failed:", err)
		return
	}

	_ = q.WaitIdle(context.Background(), executor.InfiniteFuture())
	fmt.Printf("signal value after write: %d\n", done.Value())
}

func chainedWait(exec *executor.Executor, pool *arena.BlockPool) {
	q := haltaskqueue.NewQueue("chained", haltaskqueue.Config{Executor: exec, BlockPool: pool})
	first := semaphore.New()
	second := semaphore.New()
	region := cmdbuffer.NewMemoryRegion(4096)

	_ = q.Submit(haltaskqueue.SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{cmdbuffer.NewMemoryCommandBuffer(region, cmdbuffer.Command{Op: cmdbuffer.OpWrite, Data: []byte("a")})},
		Signals:        haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{first}, Values: []uint64{1}},
	})

	// This wait targets value 1, which the batch above signals when it
	// retires on the same queue -- resolved synchronously if that retire
	// has already run, otherwise by its Signal, with no external signal
	// needed.
	_ = q.Submit(haltaskqueue.SubmissionBatch{
		Waits:          haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{first}, Values: []uint64{1}},
		CommandBuffers: []cmdbuffer.CommandBuffer{cmdbuffer.NewMemoryCommandBuffer(region, cmdbuffer.Command{Op: cmdbuffer.OpWrite, Data: []byte("b")})},
		Signals:        haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{second}, Values: []uint64{1}},
	})

	_ = q.WaitIdle(context.Background(), executor.InfiniteFuture())
	fmt.Printf("first=%d second=%d\n", first.Value(), second.Value())
}

func crossQueueWait(exec *executor.Executor, pool *arena.BlockPool) {
	producer := haltaskqueue.NewQueue("producer", haltaskqueue.Config{Executor: exec, BlockPool: pool})
	consumer := haltaskqueue.NewQueue("consumer", haltaskqueue.Config{Executor: exec, BlockPool: pool})
	handoff := semaphore.New()
	region := cmdbuffer.NewMemoryRegion(4096)
	consumerDone := semaphore.New()

	_ = consumer.Submit(haltaskqueue.SubmissionBatch{
		Waits:          haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{handoff}, Values: []uint64{1}},
		CommandBuffers: []cmdbuffer.CommandBuffer{cmdbuffer.NewMemoryCommandBuffer(region, cmdbuffer.Command{Op: cmdbuffer.OpRead, Data: make([]byte, 4)})},
		Signals:        haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{consumerDone}, Values: []uint64{1}},
	})

	time.Sleep(5 * time.Millisecond)
	fmt.Printf("consumer before producer signals: %d\n", consumerDone.Value())

	_ = producer.Submit(haltaskqueue.SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{cmdbuffer.NewMemoryCommandBuffer(region, cmdbuffer.Command{Op: cmdbuffer.OpWrite, Data: []byte("data")})},
		Signals:        haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{handoff}, Values: []uint64{1}},
	})

	_ = producer.WaitIdle(context.Background(), executor.InfiniteFuture())
	_ = consumer.WaitIdle(context.Background(), executor.InfiniteFuture())
	fmt.Printf("consumer after producer signals: %d\n", consumerDone.Value())
}

func inducedFailure(exec *executor.Executor, pool *arena.BlockPool) {
	q := haltaskqueue.NewQueue("failing", haltaskqueue.Config{Executor: exec, BlockPool: pool})
	sem := semaphore.New()
	region := cmdbuffer.NewMemoryRegion(64)

	_ = q.Submit(haltaskqueue.SubmissionBatch{
		CommandBuffers: []cmdbuffer.CommandBuffer{cmdbuffer.NewMemoryCommandBuffer(region, cmdbuffer.Command{Op: cmdbuffer.OpFail, Err: fmt.Errorf("induced failure")})},
		Signals:        haltaskqueue.SemaphoreList{Semaphores: []*semaphore.Semaphore{sem}, Values: []uint64{1}},
	})

	_ = q.WaitIdle(context.Background(), executor.InfiniteFuture())
	fmt.Printf("signal failed: %v\n", sem.Failed())
}
