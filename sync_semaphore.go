package arbor

import (
	"sync"
	"time"
)

// Semaphore is a counting semaphore whose Acquire suspends the calling
// Task's fiber rather than blocking an OS thread. BoundedSemaphore is
// the same type with overflow checking enabled on Release.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	initial int
	bounded bool
	waiters []*Task
}

// NewSemaphore creates a Semaphore with an initial counter of n.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{count: n, initial: n}
}

// NewBoundedSemaphore creates a Semaphore that returns
// ErrSemaphoreOverflow from Release once the counter would exceed n.
func NewBoundedSemaphore(n int) *Semaphore {
	return &Semaphore{count: n, initial: n, bounded: true}
}

// Acquire decrements the counter, suspending t until a slot is
// available or timeout elapses (a non-positive timeout waits
// forever). ok is false on timeout; err is non-nil only if a
// non-timeout exception (e.g. Task.Kill) was thrown into t.
func (s *Semaphore) Acquire(t *Task, timeout time.Duration) (ok bool, err error) {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return true, nil
	}
	s.mu.Unlock()

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	for {
		_, suspendErr := t.Suspend(func() {
			s.mu.Lock()
			s.waiters = append(s.waiters, t)
			s.mu.Unlock()
		})
		if suspendErr != nil {
			s.removeWaiter(t)
			if to != nil && to.Is(suspendErr) {
				return false, nil
			}
			return false, suspendErr
		}

		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()
			return true, nil
		}
		s.mu.Unlock()
		// spurious: someone else grabbed the slot first, reregister.
	}
}

// TryAcquire attempts a non-blocking acquire: if a permit is
// immediately available it is taken and TryAcquire returns true;
// otherwise it returns false without suspending the caller.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Release increments the counter and wakes one waiter, if any. On a
// BoundedSemaphore, releasing past the initial counter returns
// ErrSemaphoreOverflow instead.
func (s *Semaphore) Release() error {
	s.mu.Lock()
	if s.bounded && s.count >= s.initial {
		s.mu.Unlock()
		return ErrSemaphoreOverflow
	}
	s.count++
	var next *Task
	if len(s.waiters) > 0 {
		next = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.mu.Unlock()

	if next != nil {
		next.loop.CallSoon(func() { next.resume(true, nil) })
	}
	return nil
}

func (s *Semaphore) removeWaiter(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == t {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}
