package arbor

import (
	"sync"
	"time"
)

// Event is a one-shot, broadcast-on-set cooperative flag. Unlike the
// OS-thread Go idiom (a channel closed once), Set can be called any
// number of times and Clear resets it, so internally it keeps a fresh
// channel per set/clear cycle for the cross-boundary Done() method.
type Event struct {
	mu      sync.Mutex
	set     bool
	waiters map[*Task]struct{}
	done    chan struct{}
}

// NewEvent creates an unset Event.
func NewEvent() *Event {
	return &Event{
		waiters: make(map[*Task]struct{}),
		done:    make(chan struct{}),
	}
}

// IsSet reports the current flag value.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Set raises the flag and wakes every waiting Task. A no-op if already set.
func (e *Event) Set() {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return
	}
	e.set = true
	waiters := make([]*Task, 0, len(e.waiters))
	for t := range e.waiters {
		waiters = append(waiters, t)
	}
	e.waiters = make(map[*Task]struct{})
	done := e.done
	e.mu.Unlock()

	close(done)
	for _, t := range waiters {
		t.loop.CallSoon(func() { t.resume(true, nil) })
	}
}

// Clear lowers the flag. Subsequent Wait calls will block again until
// the next Set.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		return
	}
	e.set = false
	e.done = make(chan struct{})
}

// Done returns a channel closed the next time Set is called, for
// callers outside the cooperative runtime (e.g. Task.Join). Safe to
// call from any goroutine.
func (e *Event) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Wait suspends t's fiber until the event is set or timeout elapses (a
// non-positive timeout waits forever). ok is true if the event ended
// up set; err is non-nil only if a non-timeout exception (e.g. from
// Task.Kill) was thrown into t while it waited.
func (e *Event) Wait(t *Task, timeout time.Duration) (ok bool, err error) {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return true, nil
	}
	e.mu.Unlock()

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	for {
		_, suspendErr := t.Suspend(func() {
			e.mu.Lock()
			e.waiters[t] = struct{}{}
			e.mu.Unlock()
		})

		e.mu.Lock()
		delete(e.waiters, t)
		set := e.set
		e.mu.Unlock()

		if suspendErr != nil {
			if to != nil && to.Is(suspendErr) {
				return false, nil
			}
			return false, suspendErr
		}
		if set {
			return true, nil
		}
		// spurious wakeup (e.g. Clear raced with a stale resume): reregister.
	}
}
