package cmdbuffer

import (
	"context"
	"errors"
	"testing"

	"github.com/go-hal/haltaskqueue/internal/executor"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() *executor.Executor {
	return executor.New(context.Background(), executor.Config{Workers: 4, QueueSize: 64})
}

func TestMemoryRegionReadWrite(t *testing.T) {
	r := NewMemoryRegion(4096)
	n, err := r.WriteAt([]byte("hello"), 100)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = r.ReadAt(buf, 100)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
}

func TestMemoryRegionWriteBeyondExtent(t *testing.T) {
	r := NewMemoryRegion(16)
	_, err := r.WriteAt([]byte("x"), 100)
	require.Error(t, err)
}

func TestMemoryRegionDiscardZeroes(t *testing.T) {
	r := NewMemoryRegion(64)
	_, err := r.WriteAt([]byte{1, 2, 3, 4}, 0)
	require.NoError(t, err)

	require.NoError(t, r.Discard(0, 4))

	buf := make([]byte, 4)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestMemoryCommandBufferEmptyReportsImmediately(t *testing.T) {
	exec := newTestExecutor()
	defer exec.Close()

	cb := NewMemoryCommandBuffer(NewMemoryRegion(16))

	reported := make(chan error, 1)
	err := cb.Issue(nil, nil, exec, func(status error) { reported <- status })
	require.NoError(t, err)
	require.NoError(t, <-reported)
}

func TestMemoryCommandBufferWriteThenRead(t *testing.T) {
	exec := newTestExecutor()
	defer exec.Close()

	region := NewMemoryRegion(64)
	cb := NewMemoryCommandBuffer(region, Command{
		Op:     OpWrite,
		Offset: 0,
		Data:   []byte("data"),
	})

	reported := make(chan error, 1)
	err := cb.Issue(nil, nil, exec, func(status error) { reported <- status })
	require.NoError(t, err)
	require.NoError(t, <-reported)

	buf := make([]byte, 4)
	_, err = region.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "data", string(buf))
}

func TestMemoryCommandBufferFailingLeafPropagates(t *testing.T) {
	exec := newTestExecutor()
	defer exec.Close()

	region := NewMemoryRegion(64)
	boom := errors.New("boom")
	cb := NewMemoryCommandBuffer(region,
		Command{Op: OpWrite, Offset: 0, Data: []byte("ok")},
		Command{Op: OpFail, Err: boom},
	)

	reported := make(chan error, 1)
	err := cb.Issue(nil, nil, exec, func(status error) { reported <- status })
	require.NoError(t, err)
	require.ErrorIs(t, <-reported, boom)
}
