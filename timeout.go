package arbor

import "time"

// Timeout is a cancellable scope guard: Enter arms a timer that throws
// into the owning Task's fiber after d elapses, Exit disarms it. A
// zero or negative duration schedules nothing, so guarding a call with
// NewTimeout(task, 0, nil) is always a no-op — it never fires.
//
// Timeout implements error so the default (exc == nil) case can be
// thrown and later recognized by pointer identity — exactly the
// "callers disambiguate by identity" contract a context-manager-style
// timeout needs, since two overlapping Timeouts must not be confused
// with one another.
type Timeout struct {
	task  *Task
	dur   time.Duration
	exc   error
	timer *Timer
}

// NewTimeout creates a Timeout bound to task. exc is the error thrown
// into the task's fiber when the timer fires; if nil, the Timeout
// value itself is thrown.
func NewTimeout(task *Task, d time.Duration, exc error) *Timeout {
	return &Timeout{task: task, dur: d, exc: exc}
}

func (to *Timeout) Error() string { return "arbor: timed out" }

func (to *Timeout) throwValue() error {
	if to.exc != nil {
		return to.exc
	}
	return to
}

// Enter arms the timer, if dur > 0.
func (to *Timeout) Enter() {
	if to.dur <= 0 {
		return
	}
	exc := to.throwValue()
	to.timer = to.task.loop.CallLater(to.dur, func() {
		to.task.resume(nil, exc)
	})
}

// Exit disarms the timer. If propagated is the error this Timeout
// itself threw (only possible when exc was nil at construction),
// it returns true to tell the caller to suppress it — matching
// Python's __exit__(typ, value, tb) -> bool contract. Any other
// propagated error, including a custom exc, is not suppressed.
func (to *Timeout) Exit(propagated error) (suppress bool) {
	if to.timer != nil {
		to.timer.Cancel()
		to.timer = nil
	}
	return to.exc == nil && propagated == error(to)
}

// Is reports whether err is exactly the value this Timeout throws,
// letting primitives that don't want to use the full Enter/Exit
// pairing (because they need the bool-vs-error distinction mid-loop)
// check identity directly.
func (to *Timeout) Is(err error) bool {
	return err != nil && err == to.throwValue()
}

// WithTimeout runs fn under a Timeout scoped to task; if fn returns
// exactly the timeout's own sentinel error, WithTimeout swallows it
// and returns nil instead, matching Enter/Exit's suppress contract.
func WithTimeout(task *Task, d time.Duration, fn func() error) (err error) {
	to := NewTimeout(task, d, nil)
	to.Enter()
	defer func() {
		if to.Exit(err) {
			err = nil
		}
	}()
	err = fn()
	return err
}
