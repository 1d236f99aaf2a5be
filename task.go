package arbor

import (
	"context"
	"errors"
	"sync/atomic"
)

type taskState int32

const (
	taskNotStarted taskState = iota
	taskStarted
	taskFinished
)

// Task is a cooperatively-scheduled unit of work running on its own
// fiber, parented to the owning Loop's fiber, with panic recovery
// around its entry point and done-channel-based join tracking.
type Task struct {
	loop   *Loop
	fiber  *fiber
	name   string
	target func(t *Task) error

	state atomic.Int32

	exitEvent *Event
	err       error
}

// Spawn creates a Task bound to loop, running fn once Start is called.
// fn receives the Task itself so blocking primitives (Event.Wait,
// Semaphore.Acquire, ...) can be called against it.
func Spawn(loop *Loop, name string, fn func(t *Task) error) *Task {
	t := &Task{
		loop:      loop,
		name:      name,
		target:    fn,
		exitEvent: NewEvent(),
	}
	t.fiber = newFiber(loop.loopFiber, func(in fiberIn) any {
		if in.exc != nil {
			return in.exc
		}
		return t.target(t)
	})
	return t
}

// Name returns the task's name, useful for logging and debugging.
func (t *Task) Name() string { return t.name }

// Running reports whether the task has been started and has not yet
// finished (it may currently be suspended on a blocking primitive).
func (t *Task) Running() bool {
	return taskState(t.state.Load()) == taskStarted
}

// Start schedules the task's first resume on the next ready-queue
// drain. Calling Start twice returns ErrTaskAlreadyStarted.
func (t *Task) Start() error {
	if !t.state.CompareAndSwap(int32(taskNotStarted), int32(taskStarted)) {
		return ErrTaskAlreadyStarted
	}
	t.loop.CallSoon(func() { t.resume(nil, nil) })
	return nil
}

// Kill interrupts the task with exc (defaulting to *TaskExit), either
// before it ever runs (in which case it is marked started-then-killed
// and target never executes) or at its current suspension point.
// Killing a finished task is a no-op.
func (t *Task) Kill(exc error) {
	if exc == nil {
		exc = &TaskExit{}
	}
	for {
		cur := taskState(t.state.Load())
		if cur == taskFinished {
			return
		}
		if cur == taskNotStarted {
			if !t.state.CompareAndSwap(int32(taskNotStarted), int32(taskStarted)) {
				continue
			}
		}
		t.loop.CallSoon(func() { t.resume(nil, exc) })
		return
	}
}

// Join blocks until the task finishes or ctx is done, returning the
// task's terminal error (nil on a clean exit, the TaskExit/panic error
// otherwise). Unlike the blocking primitives in sync_*.go, Join waits
// on a plain channel rather than suspending a fiber, so it can be
// called from goroutines outside the runtime. Called from inside a
// Task it blocks the whole loop, and the joined task cannot finish
// before ctx is done.
func (t *Task) Join(ctx context.Context) error {
	select {
	case <-t.exitEvent.Done():
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Suspend is the primitive every blocking call in sync_*.go, channel.go,
// stream.go, tcp.go, and Sleep is built on: register arms whatever will eventually
// resume the task (adding it to a waiter set, scheduling a timer that
// throws a timeout), then the calling goroutine — which is the task's
// own fiber goroutine — parks until that resumer fires. It must be
// called from the task's own fiber (i.e. from within fn passed to
// Spawn, directly or transitively), never from the loop goroutine.
func (t *Task) Suspend(register func()) (any, error) {
	register()
	return t.fiber.Suspend()
}

// resume hands control to the task's fiber (suspending the caller,
// i.e. the loop goroutine, until the task itself suspends or exits),
// then processes a terminal exit if this resume finished it. Must only
// be called from within the cooperative runtime (ready-queue Handlers,
// timer fires, poll dispatch), matching fiber's "only loop fiber may
// switch" rule.
func (t *Task) resume(value any, exc error) {
	var out any
	var done bool
	var ferr error
	if exc != nil {
		out, done, ferr = t.fiber.Throw(exc)
	} else {
		out, done, ferr = t.fiber.Switch(value)
	}
	if !done {
		return
	}
	t.finish(out, ferr)
}

func (t *Task) finish(out any, ferr error) {
	t.state.Store(int32(taskFinished))

	var taskErr error
	switch {
	case ferr != nil:
		taskErr = ferr
	default:
		if e, ok := out.(error); ok {
			taskErr = e
		}
	}
	t.err = taskErr
	t.exitEvent.Set()

	if taskErr == nil {
		return
	}
	var exit *TaskExit
	if errors.As(taskErr, &exit) {
		return
	}
	t.loop.logf(LevelError, "task", "task %q exited with error: %v", t.name, taskErr)
}
