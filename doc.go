// Package arbor is a cooperative, single-goroutine concurrency runtime.
//
// Many independent logical flows of control ("tasks") share one driving
// goroutine by voluntarily suspending at I/O, timer, and synchronization
// points. At the center is a [Loop]: a ready queue, a monotonic timer
// heap, a file-descriptor poller, a signal dispatcher, and a worker-pool
// bridge for blocking calls. Surrounding it are cooperative primitives
// ([Event], [Semaphore], [BoundedSemaphore], [RLock], [Condition],
// [Future], [Channel]) layered on a lightweight fiber abstraction.
//
// # Fiber model
//
// Go has no stackful-coroutine switch primitive, so the fiber contract is
// expressed with a goroutine per [Task] parked on a channel: the loop
// goroutine "switches into" a task by sending a value on its resume
// channel and blocking until the task suspends again (sends on its yield
// channel) or exits. Exactly one goroutine runs task code at any instant;
// see fiber.go for the mechanism.
//
// # Execution model
//
// [Loop.Run] drains the ready queue, runs expired timers, polls for I/O
// readiness, and dispatches signals, one tick at a time, on a single
// goroutine. [Task]s suspend at [Event.Wait], [Semaphore.Acquire],
// [Stream] reads, and similar primitives; they never preempt each
// other. [Future.Result], [Wait], and [Task.Join] do not suspend a Task:
// they block the calling goroutine.
package arbor
