package arbor

import (
	"errors"
	"fmt"
)

// Standard loop lifecycle sentinel errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("arbor: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("arbor: loop has been terminated")

	// ErrReentrantRun is returned when Run is called from within the loop's own goroutine.
	ErrReentrantRun = errors.New("arbor: cannot call Run from within the loop")

	// ErrFDAlreadyRegistered is returned when a reader or writer is registered twice for a fd.
	ErrFDAlreadyRegistered = errors.New("arbor: fd already has a reader or writer registered")

	// ErrFDNotRegistered describes removing a reader/writer that was never registered.
	// RemoveReader and RemoveWriter do not return it; they report that case by returning false.
	ErrFDNotRegistered = errors.New("arbor: fd not registered")

	// ErrSignalOutOfRange is returned by AddSignalHandler for an invalid signal number.
	ErrSignalOutOfRange = errors.New("arbor: signal number out of range")

	// ErrTaskAlreadyStarted is returned by Task.Start when called a second time.
	ErrTaskAlreadyStarted = errors.New("arbor: task already started")

	// ErrNotOwner is returned when releasing a lock or condition not owned by the caller.
	ErrNotOwner = errors.New("arbor: lock not owned by caller")

	// ErrSemaphoreOverflow is returned by BoundedSemaphore.Release when it would
	// exceed the semaphore's initial counter value.
	ErrSemaphoreOverflow = errors.New("arbor: semaphore released too many times")

	// ErrClosed is returned by operations on a closed ReadBuffer, Stream, or Channel.
	ErrClosed = errors.New("arbor: closed")

	// ErrBufferOverflow is returned by ReadBuffer.Feed when the buffer's maxSize would be exceeded.
	ErrBufferOverflow = errors.New("arbor: read buffer overflow")

	// ErrBrokenBarrier is returned by Barrier.Wait when the barrier is broken or reset mid-wait.
	ErrBrokenBarrier = errors.New("arbor: barrier broken")

	// ErrCancelled is returned by Future.Result/Exception when the future was cancelled.
	ErrCancelled = errors.New("arbor: future was cancelled")

	// ErrTimedOut is returned by blocking waits that exceed their deadline.
	ErrTimedOut = errors.New("arbor: operation timed out")
)

// TaskExit is the sentinel error injected into a task fiber by Task.Kill.
// It is caught silently by the task's run wrapper, unlike any other panic
// or error value, which propagates to the loop's exception hook.
type TaskExit struct {
	// Reason is an optional human-readable cause, for logging only.
	Reason string
}

func (e *TaskExit) Error() string {
	if e.Reason == "" {
		return "arbor: task killed"
	}
	return "arbor: task killed: " + e.Reason
}

// StreamError wraps a transport-level error with the kind of stream that
// produced it, so callers can disambiguate TCP/Unix/UDP failures without
// type-asserting on the underlying net package error.
type StreamError struct {
	Kind string // "tcp", "unix", "udp"
	Op   string // "read", "write", "shutdown", "accept"
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("arbor: %s %s: %v", e.Kind, e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// RuntimeError represents a programming-error class of failure — API
// misuse such as double-starting the loop or releasing an unowned lock.
// These are not meant to be recovered from programmatically; they exist
// so errors.As can distinguish them from transport/cancellation errors.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string { return "arbor: " + e.Message }

// WrapError wraps err with a message, preserving it for errors.Is/errors.As.
func WrapError(message string, err error) error {
	return fmt.Errorf("%s: %w", message, err)
}
