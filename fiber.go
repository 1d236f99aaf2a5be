package arbor

import "sync/atomic"

// fiber emulates a stackful coroutine's switch(value) -> value contract
// using one goroutine per fiber and a pair of unbuffered channels.
//
// Only the fiber currently holding control may call Switch on another
// fiber; for task fibers this is enforced one level up, by Task: only
// the loop fiber may switch/throw into a task fiber.
type fiber struct {
	resume chan fiberIn
	yield  chan fiberOut
	parent *fiber
	alive  atomic.Bool
}

type fiberIn struct {
	value any
	exc   error // non-nil: resume by throwing exc into the fiber instead of returning value
}

type fiberOut struct {
	value any
	err   error // the fiber's own suspension-point error, if any (not a crash)
	done  bool  // the entry function returned or panicked; fiber is now dead
	panic any   // recovered panic value, only set when done && panic != nil
}

// newFiber starts the fiber's goroutine, parked until the first Switch.
// entry receives the value passed to the first Switch and returns the
// value yielded on final exit. entry suspends by calling f.Suspend
// (for task fibers, through Task.Suspend).
func newFiber(parent *fiber, entry func(in fiberIn) any) *fiber {
	f := &fiber{
		resume: make(chan fiberIn),
		yield:  make(chan fiberOut),
		parent: parent,
	}
	f.alive.Store(true)
	go f.run(entry)
	return f
}

func (f *fiber) run(entry func(in fiberIn) any) {
	in := <-f.resume

	var out fiberOut
	func() {
		defer func() {
			f.alive.Store(false)
			if r := recover(); r != nil {
				out.done = true
				out.panic = r
			}
		}()
		out.value = entry(in)
		out.done = true
	}()

	f.yield <- out
}

// Switch hands control to f, carrying value, and blocks until f suspends
// again (or exits). It must only be called by whichever fiber currently
// holds control — normally the loop fiber, resuming a task.
func (f *fiber) Switch(value any) (any, bool, error) {
	if !f.alive.Load() {
		return nil, true, &RuntimeError{Message: "switch to dead fiber"}
	}
	f.resume <- fiberIn{value: value}
	out := <-f.yield
	return out.value, out.done, panicToErr(out.panic)
}

// Throw injects exc into f at its current suspension point, as if the
// blocking call that parked it had raised exc instead of returning
// normally. Used by Task.Kill and Timeout.
func (f *fiber) Throw(exc error) (any, bool, error) {
	if !f.alive.Load() {
		return nil, true, &RuntimeError{Message: "throw into dead fiber"}
	}
	f.resume <- fiberIn{exc: exc}
	out := <-f.yield
	return out.value, out.done, panicToErr(out.panic)
}

// Suspend yields control back to whichever fiber most recently called
// Switch/Throw on f, and parks until the next Switch/Throw. Called from
// deep within entry's call stack (e.g. from inside a blocking
// primitive), not just at entry's top level — any number of
// Switch/Suspend round trips may occur before entry finally returns.
func (f *fiber) Suspend() (any, error) {
	f.yield <- fiberOut{}
	in := <-f.resume
	if in.exc != nil {
		return nil, in.exc
	}
	return in.value, nil
}

// Alive reports whether the fiber's goroutine has not yet returned.
func (f *fiber) Alive() bool { return f.alive.Load() }

// SetParent reparents f under p. Reparenting to the same parent again
// (the common "does the loop try to become the loop's own parent"
// situation described by Design Notes §9) is a silent no-op rather than
// an error.
func (f *fiber) SetParent(p *fiber) {
	if f.parent == p {
		return
	}
	f.parent = p
}

func panicToErr(p any) error {
	if p == nil {
		return nil
	}
	if err, ok := p.(error); ok {
		return &RuntimeError{Message: "task panic: " + err.Error()}
	}
	return &RuntimeError{Message: "task panic"}
}
