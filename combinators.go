package arbor

import (
	"context"
	"iter"
	"reflect"
	"time"
)

// ReturnWhen selects Wait's termination condition, mirroring
// concurrent.futures.wait's mode argument.
type ReturnWhen int

const (
	FirstCompleted ReturnWhen = iota
	FirstException
	AllCompleted
)

// Wait blocks until fs (as a set) satisfies mode, or timeout elapses
// (a non-positive timeout waits forever), splitting fs into the
// futures that settled and those that didn't. loop is accepted to
// match the rest of this package's explicit-loop convention, though
// Wait itself blocks the calling goroutine directly (via each
// Future's goroutine-agnostic Done channel) rather than suspending a
// Task fiber. Called from a Task or from Run's own goroutine it blocks
// the whole loop, so a future that only a loop callback would settle
// stays pending until timeout.
func Wait(loop *Loop, fs []*Future, timeout time.Duration, mode ReturnWhen) (done, notDone []*Future, err error) {
	_ = loop
	if len(fs) == 0 {
		return nil, nil, nil
	}

	doneSet := make(map[*Future]bool, len(fs))
	var remaining []*Future
	for _, f := range fs {
		select {
		case <-f.Done():
			doneSet[f] = true
		default:
			remaining = append(remaining, f)
		}
	}

	satisfied := func() bool {
		switch mode {
		case FirstCompleted:
			return len(doneSet) > 0
		case FirstException:
			for f := range doneSet {
				if exc, _ := f.Exception(context.Background()); exc != nil {
					return true
				}
			}
			return len(remaining) == 0
		default: // AllCompleted
			return len(remaining) == 0
		}
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = time.After(timeout)
	}

	for !satisfied() && len(remaining) > 0 {
		cases := make([]reflect.SelectCase, 0, len(remaining)+1)
		for _, f := range remaining {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(f.Done())})
		}
		if deadline != nil {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(deadline)})
		}

		chosen, _, _ := reflect.Select(cases)
		if deadline != nil && chosen == len(remaining) {
			break
		}
		f := remaining[chosen]
		doneSet[f] = true
		remaining = append(remaining[:chosen], remaining[chosen+1:]...)
	}

	for _, f := range fs {
		if doneSet[f] {
			done = append(done, f)
		} else {
			notDone = append(notDone, f)
		}
	}
	return done, notDone, nil
}

// AsCompleted yields each of fs in the order it settles, paired with
// its exception (nil on a clean result). If timeout elapses before a
// future settles, every remaining future is yielded with ErrTimedOut.
func AsCompleted(loop *Loop, fs []*Future, timeout time.Duration) iter.Seq2[*Future, error] {
	_ = loop
	return func(yield func(*Future, error) bool) {
		remaining := make([]*Future, len(fs))
		copy(remaining, fs)

		var deadline <-chan time.Time
		if timeout > 0 {
			deadline = time.After(timeout)
		}

		for len(remaining) > 0 {
			cases := make([]reflect.SelectCase, 0, len(remaining)+1)
			for _, f := range remaining {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(f.Done())})
			}
			if deadline != nil {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(deadline)})
			}

			chosen, _, _ := reflect.Select(cases)
			if deadline != nil && chosen == len(remaining) {
				for _, f := range remaining {
					if !yield(f, ErrTimedOut) {
						return
					}
				}
				return
			}

			f := remaining[chosen]
			remaining = append(remaining[:chosen], remaining[chosen+1:]...)
			exc, _ := f.Exception(context.Background())
			if !yield(f, exc) {
				return
			}
		}
	}
}
