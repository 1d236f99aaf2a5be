package arbor

import (
	"context"
	"sync"
)

// FutureState is a concurrent.futures-style state machine a Future
// moves through. CancelledAndNotified is the key divergence from a
// JS-style promise: it marks that the executor running the work has
// acknowledged the cancellation request via SetRunningOrNotifyCancel,
// so it knows not to bother computing a result nobody wants.
type FutureState int32

const (
	FuturePending FutureState = iota
	FutureRunning
	FutureCancelled
	FutureCancelledAndNotified
	FutureFinished
)

func (s FutureState) String() string {
	switch s {
	case FuturePending:
		return "pending"
	case FutureRunning:
		return "running"
	case FutureCancelled:
		return "cancelled"
	case FutureCancelledAndNotified:
		return "cancelled-and-notified"
	case FutureFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Future is a single-assignment result slot resolved from one
// goroutine and observed from any number of others, built on a
// waiter/subscriber fan-out over the 5-state concurrent.futures
// machine above rather than Promise/A+ resolution.
type Future struct {
	mu        sync.Mutex
	state     FutureState
	result    any
	err       error
	done      chan struct{}
	callbacks []func(*Future)
}

// NewFuture creates a Future in the Pending state.
func NewFuture() *Future {
	return &Future{
		state: FuturePending,
		done:  make(chan struct{}),
	}
}

// State returns the future's current state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetRunningOrNotifyCancel transitions Pending to Running and returns
// true, unless a Cancel arrived first — in which case it moves
// Cancelled to CancelledAndNotified and returns false, telling the
// executor not to bother computing a result. Returns false without
// effect if the future is already Running or Finished.
func (f *Future) SetRunningOrNotifyCancel() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case FuturePending:
		f.state = FutureRunning
		return true
	case FutureCancelled:
		f.state = FutureCancelledAndNotified
		return false
	default:
		return false
	}
}

// Cancel requests cancellation. Returns true if the future was
// Pending (or already cancelled) and is now Cancelled; returns false
// if the work is already Running or Finished and cannot be stopped.
func (f *Future) Cancel() bool {
	f.mu.Lock()
	switch f.state {
	case FuturePending:
		f.state = FutureCancelled
		f.mu.Unlock()
		f.fire()
		return true
	case FutureCancelled, FutureCancelledAndNotified:
		f.mu.Unlock()
		return true
	default:
		f.mu.Unlock()
		return false
	}
}

// SetResult resolves the future successfully. No-op if already
// resolved or cancelled.
func (f *Future) SetResult(v any) {
	f.mu.Lock()
	if f.state == FutureFinished || f.state == FutureCancelled || f.state == FutureCancelledAndNotified {
		f.mu.Unlock()
		return
	}
	f.result = v
	f.state = FutureFinished
	f.mu.Unlock()
	f.fire()
}

// SetException resolves the future with a failure. No-op if already
// resolved or cancelled.
func (f *Future) SetException(err error) {
	f.mu.Lock()
	if f.state == FutureFinished || f.state == FutureCancelled || f.state == FutureCancelledAndNotified {
		f.mu.Unlock()
		return
	}
	f.err = err
	f.state = FutureFinished
	f.mu.Unlock()
	f.fire()
}

// fire closes done and runs every registered callback exactly once.
// Safe to call more than once (e.g. both SetResult and a racing
// Cancel racing through distinct code paths); only the first call has
// any effect, guarded by the done channel's own close-once semantics.
func (f *Future) fire() {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return
	default:
	}
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(f)
	}
}

// AddDoneCallback registers fn to run once the future settles
// (cancelled or finished). If the future is already settled, fn runs
// immediately on the calling goroutine.
func (f *Future) AddDoneCallback(fn func(*Future)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Result blocks until the future settles or ctx is done. The first
// return is the resolved value; the second is the future's own
// exception (or ErrCancelled) folded into a single error return, since
// Go has no tuple-of-errors convention.
func (f *Future) Result(ctx context.Context) (any, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FutureCancelled || f.state == FutureCancelledAndNotified {
		return nil, ErrCancelled
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// Exception blocks until the future settles or ctx is done, returning
// the stored exception (nil on a clean result). The second return
// reports a wait failure (ctx expiry) separately from the stored
// exception itself.
func (f *Future) Exception(ctx context.Context) (error, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FutureCancelled || f.state == FutureCancelledAndNotified {
		return ErrCancelled, nil
	}
	return f.err, nil
}

// Done returns a channel closed once the future settles, for
// goroutine-agnostic waits (the combinators in combinators.go use
// this directly rather than Result/Exception's context plumbing).
func (f *Future) Done() <-chan struct{} {
	return f.done
}
