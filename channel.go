package arbor

import (
	"slices"
	"sync"
	"time"
)

// bomb wraps an exception sent through a Channel via SendException, so
// Receive can tell an ordinary value apart from one that must be
// re-raised in the receiver.
type bomb struct{ err error }

// Channel is a cooperative rendezvous primitive: a strict, synchronous
// hand-off when built with NewChannel (capacity 0 — a send blocks
// until a receive consumes it, and vice versa), or a bounded buffer
// when built with NewBufferedChannel, which only blocks a sender once
// the buffer is full. Built on an items deque plus waiter/sender sets,
// reimplemented on Task.Suspend so both sides suspend the calling
// Task's fiber instead of blocking a goroutine outright. The
// externally observable rendezvous semantics come from a single mutex
// plus explicit waiter/sender lists, which is simpler to keep correct
// in Go than a multi-event, multi-lock design.
type Channel struct {
	mu      sync.Mutex
	maxSize int
	items   []any
	waiters []*Task // receivers parked with no item to take yet
	senders []*Task // senders parked because the buffer is full
	closed  bool
}

// NewChannel creates a strict-rendezvous Channel: Send blocks until a
// matching Receive consumes the value.
func NewChannel() *Channel {
	return &Channel{maxSize: 0}
}

// NewBufferedChannel creates a Channel that only blocks a sender once
// capacity items are unconsumed. capacity < 0 is treated as 0 (a
// strict rendezvous).
func NewBufferedChannel(capacity int) *Channel {
	if capacity < 0 {
		capacity = 0
	}
	return &Channel{maxSize: capacity}
}

// Len returns the number of items currently buffered and not yet
// received.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close marks the channel closed. Any Task already parked in Send or
// Receive is woken with ErrClosed; subsequent Send calls fail
// immediately, and Receive still returns items buffered before Close
// and fails with ErrClosed once none are left. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := c.waiters
	senders := c.senders
	c.waiters = nil
	c.senders = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w.loop.CallSoon(func() { w.resume(nil, ErrClosed) })
	}
	for _, s := range senders {
		s.loop.CallSoon(func() { s.resume(nil, ErrClosed) })
	}
}

// Send delivers v, suspending t's fiber if the channel has no room
// (strict rendezvous: room only exists once a receiver is waiting;
// buffered: room exists below capacity). A non-positive timeout waits
// forever; ok is false on timeout.
func (c *Channel) Send(t *Task, v any, timeout time.Duration) (ok bool, err error) {
	return c.send(t, v, timeout)
}

// SendException behaves like Send, but the value is re-raised as err
// by the Receive call that consumes it instead of being returned as a
// plain value.
func (c *Channel) SendException(t *Task, sendErr error, timeout time.Duration) (ok bool, err error) {
	return c.send(t, bomb{err: sendErr}, timeout)
}

func (c *Channel) send(t *Task, v any, timeout time.Duration) (ok bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	c.items = append(c.items, v)
	needsWait := len(c.items) > c.maxSize
	c.mu.Unlock()

	c.scheduleMatch()

	if !needsWait {
		return true, nil
	}

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	for {
		_, suspendErr := t.Suspend(func() {
			c.mu.Lock()
			c.senders = append(c.senders, t)
			c.mu.Unlock()
		})
		if suspendErr != nil {
			c.removeSender(t)
			if to != nil && to.Is(suspendErr) {
				return false, nil
			}
			return false, suspendErr
		}

		c.mu.Lock()
		stillWaiting := len(c.items) > c.maxSize && contains(c.senders, t)
		c.mu.Unlock()
		if !stillWaiting {
			return true, nil
		}
		// spurious wakeup: someone else's slot opened up, reregister.
	}
}

// Receive takes the next value, suspending t's fiber until one is
// available. A value sent via SendException is re-raised as err
// instead of returned as the first result. A non-positive timeout
// waits forever; ok is false on timeout.
func (c *Channel) Receive(t *Task, timeout time.Duration) (v any, ok bool, err error) {
	c.mu.Lock()
	if len(c.items) > 0 {
		v := c.items[0]
		c.items = c.items[1:]
		c.mu.Unlock()
		c.scheduleMatch()
		return unwrapBomb(v)
	}
	if c.closed {
		c.mu.Unlock()
		return nil, false, ErrClosed
	}
	c.mu.Unlock()

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	for {
		resumed, suspendErr := t.Suspend(func() {
			c.mu.Lock()
			c.waiters = append(c.waiters, t)
			c.mu.Unlock()
		})
		if suspendErr != nil {
			c.removeWaiter(t)
			if to != nil && to.Is(suspendErr) {
				return nil, false, nil
			}
			return nil, false, suspendErr
		}

		// The matcher hands the item directly as the resume value so
		// this side never has to re-peek c.items (which may already
		// have been claimed by a different waiter).
		if payload, delivered := resumed.(channelDelivery); delivered {
			v, ok, err := unwrapBomb(payload.value)
			return v, ok, err
		}
		// spurious wakeup, reregister.
	}
}

// channelDelivery is the resume payload the matcher hands directly to
// a parked receiver, so delivery order matches pop order even when
// several receivers are parked at once.
type channelDelivery struct{ value any }

func unwrapBomb(v any) (any, bool, error) {
	if b, isBomb := v.(bomb); isBomb {
		return nil, false, b.err
	}
	return v, true, nil
}

// scheduleMatch defers the actual waiter/item/sender reconciliation to
// the next ready-queue drain — never resume a fiber synchronously from
// inside Send/Receive, since both sides may currently be mid
// fiber-switch.
func (c *Channel) scheduleMatch() {
	// Match against whichever Task happens to observe the imbalance
	// first; grab a loop reference from any currently-registered
	// waiter/sender so the CallSoon has somewhere to land.
	c.mu.Lock()
	var anyLoop *Loop
	if len(c.waiters) > 0 {
		anyLoop = c.waiters[0].loop
	} else if len(c.senders) > 0 {
		anyLoop = c.senders[0].loop
	}
	c.mu.Unlock()
	if anyLoop == nil {
		return
	}
	anyLoop.CallSoon(c.doMatch)
}

// doMatch pairs parked receivers with buffered items, and wakes parked
// senders once the buffer has drained back under capacity.
func (c *Channel) doMatch() {
	for {
		c.mu.Lock()
		switch {
		case len(c.waiters) > 0 && len(c.items) > 0:
			w := c.waiters[0]
			c.waiters = c.waiters[1:]
			v := c.items[0]
			c.items = c.items[1:]
			c.mu.Unlock()
			w.loop.CallSoon(func() { w.resume(channelDelivery{value: v}, nil) })
			continue
		case len(c.senders) > 0 && len(c.items) <= c.maxSize:
			s := c.senders[0]
			c.senders = c.senders[1:]
			c.mu.Unlock()
			s.loop.CallSoon(func() { s.resume(true, nil) })
			continue
		default:
			c.mu.Unlock()
			return
		}
	}
}

func (c *Channel) removeWaiter(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters = removeTask(c.waiters, t)
}

func (c *Channel) removeSender(t *Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders = removeTask(c.senders, t)
}

// removeTask deletes t's first occurrence in tasks.
func removeTask(tasks []*Task, t *Task) []*Task {
	if i := slices.Index(tasks, t); i >= 0 {
		return slices.Delete(tasks, i, i+1)
	}
	return tasks
}

func contains(tasks []*Task, t *Task) bool {
	return slices.Contains(tasks, t)
}
