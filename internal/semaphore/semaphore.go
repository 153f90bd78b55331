// Package semaphore implements the timepoint-based wait/signal primitive
// that WaitCmd waits on and RetireCmd signals.
package semaphore

import (
	"fmt"
	"sync"
)

// Timepoint is a callback registered against a target value. Resolve is
// invoked exactly once, either synchronously (if the value is already
// satisfied or the semaphore is already failed at registration time) or
// later, from whichever Signal/Fail call first satisfies it.
type Timepoint struct {
	Value    uint64
	Resolve  func(status error)
	resolved bool
}

// Semaphore is a monotonically advancing counter with a latched failure
// state: a single mutex guards an arbitrary uint64 payload plus its
// registered waiters.
//
// Reference counted: Retain/Release track how many in-flight task
// graph nodes (their cloned semaphore lists) still hold a reference.
// The count does not govern the struct's lifetime; see Release.
type Semaphore struct {
	mu      sync.Mutex
	value   uint64
	failed  error // non-nil once Fail has been called; latched
	waiters []*Timepoint
	refs    int
}

// New creates a semaphore starting at value 0 with one implicit
// reference.
func New() *Semaphore {
	return &Semaphore{refs: 1}
}

// Retain increments the reference count. Callers (submit-batch
// constructing a task graph) must Retain once per node that stores a
// pointer to this semaphore.
func (s *Semaphore) Retain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
}

// Release decrements the reference count. The semaphore carries no
// backing resource beyond its own struct, so Release never frees
// anything itself; it exists so callers can assert graphs are torn
// down cleanly.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
}

// RefCount reports the current reference count, for tests asserting a
// submission's graph released every semaphore it retained.
func (s *Semaphore) RefCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Value reports the current value.
func (s *Semaphore) Value() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Failed reports the latched failure, if any.
func (s *Semaphore) Failed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Signal advances the semaphore to value, which must be strictly
// greater than the current value. Every registered timepoint whose
// target is now satisfied resolves with a nil status, in registration
// order.
func (s *Semaphore) Signal(value uint64) error {
	s.mu.Lock()
	if s.failed != nil {
		err := fmt.Errorf("semaphore: signal on already-failed semaphore: %w", s.failed)
		s.mu.Unlock()
		return err
	}
	if value <= s.value {
		err := fmt.Errorf("semaphore: signal value %d does not advance current value %d", value, s.value)
		s.mu.Unlock()
		return err
	}
	s.value = value
	ready, remaining := s.partitionWaiters()
	s.waiters = remaining
	s.mu.Unlock()

	for _, tp := range ready {
		tp.Resolve(nil)
	}
	return nil
}

// Fail latches a terminal failure on the semaphore. Every current and
// future timepoint registered against it resolves with status,
// propagating failure downstream instead of ever being satisfied by a
// later Signal.
func (s *Semaphore) Fail(status error) error {
	if status == nil {
		status = fmt.Errorf("semaphore: fail with nil status")
	}
	s.mu.Lock()
	if s.failed != nil {
		s.mu.Unlock()
		return fmt.Errorf("semaphore: already failed with %w", s.failed)
	}
	s.failed = status
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, tp := range waiters {
		tp.Resolve(status)
	}
	return nil
}

// EnqueueTimepoint registers resolve to run once the semaphore reaches
// value (or fails). If the semaphore is already failed, or value is
// already satisfied by the current value, resolve runs synchronously
// on the calling goroutine before EnqueueTimepoint returns -- this is
// the wait-elision fast path a same-queue WaitCmd needs: its target
// semaphore was already signalled by an earlier task on that queue.
func (s *Semaphore) EnqueueTimepoint(value uint64, resolve func(status error)) {
	s.mu.Lock()
	if s.failed != nil {
		status := s.failed
		s.mu.Unlock()
		resolve(status)
		return
	}
	if value <= s.value {
		s.mu.Unlock()
		resolve(nil)
		return
	}
	tp := &Timepoint{Value: value, Resolve: resolve}
	s.waiters = append(s.waiters, tp)
	s.mu.Unlock()
}

// partitionWaiters splits s.waiters into those satisfied by the
// current value and those still pending. Caller holds s.mu.
func (s *Semaphore) partitionWaiters() (ready, remaining []*Timepoint) {
	for _, tp := range s.waiters {
		if tp.Value <= s.value {
			ready = append(ready, tp)
		} else {
			remaining = append(remaining, tp)
		}
	}
	return ready, remaining
}
