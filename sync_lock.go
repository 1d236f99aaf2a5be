package arbor

import (
	"sync"
	"time"
)

// RLock is a reentrant mutual-exclusion lock: the owning Task may
// Acquire it repeatedly, releasing the same number of times before
// another Task can take it.
type RLock struct {
	mu      sync.Mutex
	owner   *Task
	depth   int
	waiters []*Task
}

// NewRLock creates an unheld RLock.
func NewRLock() *RLock {
	return &RLock{}
}

// Acquire takes the lock for t, suspending if another Task holds it.
// Reentrant: if t already owns the lock, this just bumps the hold
// count. ok is false on timeout (non-positive timeout waits forever);
// err is non-nil only on a genuine injected exception.
func (l *RLock) Acquire(t *Task, timeout time.Duration) (ok bool, err error) {
	l.mu.Lock()
	if l.owner == nil {
		l.owner = t
		l.depth = 1
		l.mu.Unlock()
		return true, nil
	}
	if l.owner == t {
		l.depth++
		l.mu.Unlock()
		return true, nil
	}
	l.mu.Unlock()

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	for {
		_, suspendErr := t.Suspend(func() {
			l.mu.Lock()
			l.waiters = append(l.waiters, t)
			l.mu.Unlock()
		})
		if suspendErr != nil {
			l.removeWaiter(t)
			if to != nil && to.Is(suspendErr) {
				return false, nil
			}
			return false, suspendErr
		}

		l.mu.Lock()
		if l.owner == nil {
			l.owner = t
			l.depth = 1
			l.mu.Unlock()
			return true, nil
		}
		l.mu.Unlock()
		// spurious: lost the race to another waiter, reregister.
	}
}

// Release drops one level of t's hold; once depth reaches zero the
// lock passes to the next waiter, if any. Returns ErrNotOwner if t
// does not currently hold the lock.
func (l *RLock) Release(t *Task) error {
	l.mu.Lock()
	if l.owner != t {
		l.mu.Unlock()
		return ErrNotOwner
	}
	l.depth--
	if l.depth > 0 {
		l.mu.Unlock()
		return nil
	}
	l.owner = nil
	var next *Task
	if len(l.waiters) > 0 {
		next = l.waiters[0]
		l.waiters = l.waiters[1:]
	}
	l.mu.Unlock()

	if next != nil {
		next.loop.CallSoon(func() { next.resume(true, nil) })
	}
	return nil
}

// Locked reports whether any Task currently holds the lock.
func (l *RLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != nil
}

func (l *RLock) removeWaiter(t *Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == t {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// Lock is an RLock restricted to a non-reentrant acquire count of
// one: a Task that already holds the lock gets a RuntimeError instead
// of silently recursing, distinguishing Lock from RLock.
type Lock struct {
	rl *RLock
}

// NewLock creates an unheld, non-reentrant Lock.
func NewLock() *Lock {
	return &Lock{rl: NewRLock()}
}

// Acquire takes the lock for t. Returns a *RuntimeError if t already
// holds it — recursive acquisition is a programming error for Lock,
// unlike RLock.
func (l *Lock) Acquire(t *Task, timeout time.Duration) (ok bool, err error) {
	l.rl.mu.Lock()
	if l.rl.owner == t {
		l.rl.mu.Unlock()
		return false, &RuntimeError{Message: "lock: non-reentrant acquire by current owner"}
	}
	l.rl.mu.Unlock()
	return l.rl.Acquire(t, timeout)
}

// Release drops t's hold, waking the next waiter if any.
func (l *Lock) Release(t *Task) error {
	return l.rl.Release(t)
}

// Locked reports whether any Task currently holds the lock.
func (l *Lock) Locked() bool {
	return l.rl.Locked()
}
