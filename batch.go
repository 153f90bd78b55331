package haltaskqueue

import (
	"github.com/go-hal/haltaskqueue/internal/arena"
	"github.com/go-hal/haltaskqueue/internal/cmdbuffer"
	"github.com/go-hal/haltaskqueue/internal/semaphore"
)

// SemaphoreList is a pair of parallel sequences: the semaphores
// referenced and the payload value each must reach. Indices
// correspond; both sequences always have equal length.
type SemaphoreList struct {
	Semaphores []*semaphore.Semaphore
	Values     []uint64
}

// Len reports the number of (semaphore, value) pairs.
func (l SemaphoreList) Len() int {
	return len(l.Semaphores)
}

// SubmissionBatch is one unit of caller intent: a set of waits that
// must be satisfied before the command buffers are issued, the
// command buffers themselves (in submission order), and a set of
// signals advanced once every command buffer has fully completed.
type SubmissionBatch struct {
	Waits          SemaphoreList
	CommandBuffers []cmdbuffer.CommandBuffer
	Signals        SemaphoreList
}

// cloneSemaphoreList deep-clones list into arena, retaining every
// semaphore it references. The clone is tracked on the arena so it
// stays reachable until the arena is deinitialized, alongside the rest
// of the submission's DAG. Tracking does not release the retained
// references; the owning command's cleanup does that through
// releaseSemaphoreList.
func cloneSemaphoreList(list SemaphoreList, ar *arena.Arena) (SemaphoreList, error) {
	if len(list.Semaphores) == 0 {
		return SemaphoreList{}, nil
	}
	if len(list.Semaphores) != len(list.Values) {
		return SemaphoreList{}, NewError("clone-semaphore-list", CodeInvalidArgument,
			"semaphore and value sequence length mismatch")
	}

	n := len(list.Semaphores)
	sems := make([]*semaphore.Semaphore, n)
	vals := make([]uint64, n)
	copy(sems, list.Semaphores)
	copy(vals, list.Values)

	for _, s := range sems {
		s.Retain()
	}

	clone := SemaphoreList{Semaphores: sems, Values: vals}
	ar.Track(clone)
	return clone, nil
}

// releaseSemaphoreList releases every semaphore a cloned list retains.
func releaseSemaphoreList(list SemaphoreList) {
	for _, s := range list.Semaphores {
		s.Release()
	}
}
