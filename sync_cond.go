package arbor

import (
	"sync"
	"time"
)

// Locker is the subset of Lock/RLock's API a Condition needs to
// release and reacquire around a wait. Both *Lock and *RLock satisfy
// it without any adapter.
type Locker interface {
	Acquire(t *Task, timeout time.Duration) (bool, error)
	Release(t *Task) error
}

// Condition pairs a Locker with a waiter queue: Wait releases the
// lock, suspends until notified, then reacquires the lock before
// returning — the threading.Condition contract, adapted to
// cooperative suspension.
type Condition struct {
	lock    Locker
	mu      sync.Mutex
	waiters []*Task
}

// NewCondition creates a Condition guarded by lock. If lock is nil, a
// fresh RLock is used.
func NewCondition(lock Locker) *Condition {
	if lock == nil {
		lock = NewRLock()
	}
	return &Condition{lock: lock}
}

// Lock returns the Locker this Condition is guarded by.
func (c *Condition) Lock() Locker { return c.lock }

// Wait releases the lock (which the caller must already hold),
// suspends t until Notify/NotifyAll wakes it or timeout elapses, then
// reacquires the lock before returning — even on timeout or injected
// exception, matching the defer-safe contract of threading.Condition.
func (c *Condition) Wait(t *Task, timeout time.Duration) (ok bool, err error) {
	if relErr := c.lock.Release(t); relErr != nil {
		return false, relErr
	}

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	_, suspendErr := t.Suspend(func() {
		c.mu.Lock()
		c.waiters = append(c.waiters, t)
		c.mu.Unlock()
	})
	if suspendErr != nil {
		c.removeWaiter(t)
		if to != nil && to.Is(suspendErr) {
			ok, err = false, nil
		} else {
			ok, err = false, suspendErr
		}
	} else {
		ok, err = true, nil
	}

	if _, reErr := c.lock.Acquire(t, 0); reErr != nil && err == nil {
		err = reErr
	}
	return ok, err
}

// WaitFor repeatedly calls Wait until predicate returns true, with
// timeout (if positive) bounding the total time spent across every
// iteration rather than each individual Wait call — a recheck loop
// with decreasing remaining time on each pass.
func (c *Condition) WaitFor(t *Task, predicate func() bool, timeout time.Duration) (ok bool, err error) {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = t.loop.Time().Add(timeout)
	}
	for !predicate() {
		remaining := timeout
		if hasDeadline {
			remaining = deadline.Sub(t.loop.Time())
			if remaining <= 0 {
				return false, nil
			}
		}
		waited, waitErr := c.Wait(t, remaining)
		if waitErr != nil {
			return false, waitErr
		}
		if !waited && hasDeadline {
			return false, nil
		}
	}
	return true, nil
}

// Notify wakes up to n waiting tasks, in FIFO order. A negative or
// oversized n wakes every waiter.
func (c *Condition) Notify(n int) {
	c.mu.Lock()
	if n < 0 || n > len(c.waiters) {
		n = len(c.waiters)
	}
	woken := c.waiters[:n]
	c.waiters = c.waiters[n:]
	c.mu.Unlock()

	for _, t := range woken {
		t.loop.CallSoon(func() { t.resume(true, nil) })
	}
}

// NotifyAll wakes every waiting task.
func (c *Condition) NotifyAll() {
	c.mu.Lock()
	n := len(c.waiters)
	c.mu.Unlock()
	c.Notify(n)
}

func (c *Condition) removeWaiter(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == t {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
