package arbor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pollState is one entry per registered file descriptor: at most one
// reader and one writer, and pevents is always the bitwise OR of
// (READABLE if a reader is set) and (WRITABLE if a writer is set).
type pollState struct {
	fd            int
	pevents       IOEvents
	readHandler   *Handler
	writeHandler  *Handler
}

// Loop is the reactor at the center of the runtime: a ready queue, a
// timer heap, a file-descriptor poller, and a signal dispatcher, all
// driven from one goroutine by Run.
//
// Cross-thread safety: only CallSoon/CallFromThread (both route through
// the mutex-protected ready queue) and the ThreadPool bridge are safe to
// call from a goroutine other than the one currently holding the
// cooperative "token" (the loop goroutine itself, or whichever task
// fiber the loop has switched into). Every other method — CallLater,
// AddReader/AddWriter, AddSignalHandler, and friends — assumes it is
// called from within the cooperative runtime.
type Loop struct {
	state atomicState

	ready  *readyQueue
	timers timerHeap

	fds     map[int]*pollState
	poller  poller
	signals *signalDispatcher

	wakeReadFD  int
	wakeWriteFD int
	wakePending atomic.Bool

	loopFiber *fiber

	logger Logger
	opts   *loopOptions

	metrics *Metrics

	stopOnce sync.Once
	done     chan struct{}

	tickAnchor time.Time

	// runningGoroutine is unused: Run rejects a reentrant call from its
	// own goroutine through the currentLoops registry (ErrReentrantRun)
	// and any other second call through the state check
	// (ErrLoopAlreadyRunning).
	runningGoroutine chan struct{}
}

// New creates a Loop ready to Run. Exactly one Loop per call to Run is
// expected at a time: nothing prevents constructing several, but only
// one should be driven by a given goroutine tree.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	readFD, writeFD, err := createWakePipe()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		ready:       newReadyQueue(),
		timers:      make(timerHeap, 0),
		fds:         make(map[int]*pollState),
		signals:     newSignalDispatcher(),
		wakeReadFD:  readFD,
		wakeWriteFD: writeFD,
		loopFiber:   &fiber{},
		logger:      cfg.logger,
		opts:        cfg,
		done:        make(chan struct{}),
	}
	l.loopFiber.alive.Store(true)
	if cfg.metricsEnabled {
		l.metrics = newMetrics()
	}

	l.poller = newPoller()
	if err := l.poller.init(); err != nil {
		_ = closeFD(readFD)
		if writeFD != readFD {
			_ = closeFD(writeFD)
		}
		return nil, err
	}
	if err := l.poller.registerFD(readFD, EventRead); err != nil {
		_ = l.poller.close()
		_ = closeFD(readFD)
		if writeFD != readFD {
			_ = closeFD(writeFD)
		}
		return nil, err
	}
	l.fds[readFD] = &pollState{fd: readFD, pevents: EventRead}

	return l, nil
}

// Logger returns the loop's configured structured logger.
func (l *Loop) Logger() Logger { return l.logger }

// Metrics returns the loop's metrics snapshot, or nil if metrics were
// not enabled via WithMetrics.
func (l *Loop) Metrics() *Metrics { return l.metrics }

// State returns the current lifecycle state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Time returns the loop's current notion of "now" — real wall-clock
// time, exposed as a method so timer math always goes through one call
// site.
func (l *Loop) Time() time.Time { return time.Now() }

// CallSoon appends fn to the ready queue, to run on the next drain.
// Safe to call from any goroutine.
func (l *Loop) CallSoon(fn func()) *Handler {
	h := newHandler(fn)
	l.ready.push(h)
	l.wake()
	return h
}

// CallFromThread is identical to CallSoon but documents the intended
// cross-thread use explicitly: append to the ready queue and signal the
// wake pipe so a sleeping poll() returns promptly. No reactor handle is
// touched from the calling thread.
func (l *Loop) CallFromThread(fn func()) *Handler {
	return l.CallSoon(fn)
}

// CallLater schedules fn to run after delay. A non-positive delay
// degrades to CallSoon.
func (l *Loop) CallLater(delay time.Duration, fn func()) *Timer {
	if delay <= 0 {
		t := &timerHandle{Handler: Handler{fn: fn}, index: -1}
		l.ready.push(&t.Handler)
		l.wake()
		return &Timer{t: t, l: l}
	}
	t := &timerHandle{
		Handler: Handler{fn: fn},
		when:    l.Time().Add(delay),
	}
	l.timers.pushHeap(t)
	return &Timer{t: t, l: l}
}

// CallRepeatedly schedules fn to run every interval, starting after one
// interval elapses. interval must be > 0.
func (l *Loop) CallRepeatedly(interval time.Duration, fn func()) *Timer {
	t := &timerHandle{
		Handler: Handler{fn: fn},
		when:    l.Time().Add(interval),
		repeat:  interval,
	}
	l.timers.pushHeap(t)
	return &Timer{t: t, l: l}
}

// CallAt is sugar over CallLater(when.Sub(l.Time()), fn).
func (l *Loop) CallAt(when time.Time, fn func()) *Timer {
	return l.CallLater(when.Sub(l.Time()), fn)
}

func (h *timerHeap) pushHeap(t *timerHandle) {
	*h = append(*h, t)
	t.index = len(*h) - 1
	h.fixUp(t.index)
}

// fixUp/fixDown avoid importing container/heap's exported Push/Pop for
// a single insert, since we also need heap.Remove for single-timer
// cancellation (see timer.go, which does use container/heap directly).
func (h timerHeap) fixUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.Less(i, parent) {
			break
		}
		h.Swap(i, parent)
		i = parent
	}
}

func (l *Loop) removeTimer(t *timerHandle) {
	l.timers.remove(t)
}

// AddReader registers fn to run whenever fd is readable. Only one
// reader may be registered per fd at a time.
func (l *Loop) AddReader(fd int, fn func()) (*Handler, error) {
	return l.addIO(fd, EventRead, fn)
}

// AddWriter registers fn to run whenever fd is writable.
func (l *Loop) AddWriter(fd int, fn func()) (*Handler, error) {
	return l.addIO(fd, EventWrite, fn)
}

func (l *Loop) addIO(fd int, dir IOEvents, fn func()) (*Handler, error) {
	ps, ok := l.fds[fd]
	if !ok {
		ps = &pollState{fd: fd}
		l.fds[fd] = ps
	}
	if dir == EventRead && ps.readHandler != nil {
		return nil, ErrFDAlreadyRegistered
	}
	if dir == EventWrite && ps.writeHandler != nil {
		return nil, ErrFDAlreadyRegistered
	}

	h := newHandler(fn)
	wasZero := ps.pevents == 0
	if dir == EventRead {
		ps.readHandler = h
	} else {
		ps.writeHandler = h
	}
	ps.pevents |= dir

	var err error
	if wasZero {
		err = l.poller.registerFD(fd, ps.pevents)
	} else {
		err = l.poller.modifyFD(fd, ps.pevents)
	}
	if err != nil {
		if dir == EventRead {
			ps.readHandler = nil
		} else {
			ps.writeHandler = nil
		}
		ps.pevents &^= dir
		return nil, err
	}
	return h, nil
}

// RemoveReader clears the reader registered for fd, if any.
func (l *Loop) RemoveReader(fd int) bool { return l.removeIO(fd, EventRead) }

// RemoveWriter clears the writer registered for fd, if any.
func (l *Loop) RemoveWriter(fd int) bool { return l.removeIO(fd, EventWrite) }

func (l *Loop) removeIO(fd int, dir IOEvents) bool {
	ps, ok := l.fds[fd]
	if !ok {
		return false
	}
	var had bool
	if dir == EventRead && ps.readHandler != nil {
		ps.readHandler = nil
		had = true
	}
	if dir == EventWrite && ps.writeHandler != nil {
		ps.writeHandler = nil
		had = true
	}
	if !had {
		return false
	}
	ps.pevents &^= dir
	if ps.pevents == 0 {
		_ = l.poller.unregisterFD(fd)
		delete(l.fds, fd)
	} else {
		_ = l.poller.modifyFD(fd, ps.pevents)
	}
	return true
}

// AddSignalHandler installs fn to run whenever sig is delivered to the
// process while the loop is running. Multiple handlers for the same
// signal all fire.
func (l *Loop) AddSignalHandler(sig syscall.Signal, fn func()) (*SignalHandler, error) {
	if sig <= 0 {
		return nil, ErrSignalOutOfRange
	}
	needWatch := !l.signals.hasAny()
	h := &signalHandler{Handler: Handler{fn: fn}, sig: sig}
	l.signals.add(sig, h)
	if needWatch {
		l.watchSignals()
	} else {
		l.refreshSignalWatch()
	}
	return &SignalHandler{h: h, l: l}, nil
}

func (l *Loop) removeSignalHandler(sig syscall.Signal, h *signalHandler) {
	l.signals.remove(sig, h)
}

// RemoveSignalHandler cancels and removes every handler registered for
// sig, equivalent to calling Cancel on every SignalHandler
// AddSignalHandler has returned for that signal so far. Removing a
// signal with no registered handlers is a no-op. The process stays
// subscribed to the OS signal (os/signal has no per-caller removal),
// but a stray delivery afterward simply finds an empty handler set.
func (l *Loop) RemoveSignalHandler(sig syscall.Signal) {
	l.signals.removeAll(sig)
}

// Run drives the reactor until Stop or Destroy is called. It may only
// be invoked once per Loop and must not be called reentrantly from
// within the loop itself.
func (l *Loop) Run() error {
	if cur, ok := currentLoops.Load(getGoroutineID()); ok && cur.(*Loop) == l {
		return ErrReentrantRun
	}
	if !l.state.CAS(StateAwake, StateRunning) {
		cur := l.state.Load()
		if cur == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}
	defer close(l.done)

	gid := getGoroutineID()
	currentLoops.Store(gid, l)
	defer currentLoops.Delete(gid)

	l.tickAnchor = time.Now()

	for {
		cur := l.state.Load()
		if cur == StateTerminating || cur == StateTerminated {
			l.shutdown()
			return nil
		}
		l.tick()
	}
}

// RunForever is sugar over Run: identical behavior. The loop always
// runs until Stop/Destroy regardless of which entrypoint was used;
// there is no separate "run a single pending batch then return"
// behavior.
func (l *Loop) RunForever() error { return l.Run() }

// Stop requests the reactor to stop at the next tick boundary.
func (l *Loop) Stop() {
	for {
		cur := l.state.Load()
		if cur == StateTerminating || cur == StateTerminated {
			return
		}
		if l.state.CAS(cur, StateTerminating) {
			if cur == StateAwake {
				l.state.Store(StateTerminated)
				return
			}
			l.wake()
			return
		}
	}
}

// Destroy tears down every live reactor handle. Must be called after
// Run has returned, from the same goroutine that created the Loop.
func (l *Loop) Destroy() error {
	l.state.Store(StateTerminated)
	for fd := range l.fds {
		_ = l.poller.unregisterFD(fd)
	}
	err := l.poller.close()
	_ = closeFD(l.wakeReadFD)
	if l.wakeWriteFD != l.wakeReadFD {
		_ = closeFD(l.wakeWriteFD)
	}
	return err
}

// tick runs one reactor iteration: expire timers, dispatch signals
// onto the ready queue, drain the ready queue, and poll for I/O — in
// that order.
func (l *Loop) tick() {
	if l.metrics != nil {
		l.metrics.recordTick()
		l.metrics.RecordQueueDepth(l.ready.length())
	}
	l.runTimers()
	l.drainSignals()
	l.ready.drain(l.metrics)
	l.poll()
}

func (l *Loop) runTimers() {
	now := l.Time()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := l.timers.popMin()
		if !t.Cancelled() {
			t.run()
			if l.metrics != nil {
				l.metrics.recordTimer()
			}
		}
		if t.repeat > 0 && !t.Cancelled() {
			t.when = now.Add(t.repeat)
			l.timers.pushHeap(t)
		}
	}
}

func (h *timerHeap) popMin() *timerHandle {
	n := len(*h)
	t := (*h)[0]
	(*h)[0] = (*h)[n-1]
	(*h)[0].index = 0
	(*h)[n-1] = nil
	*h = (*h)[:n-1]
	if len(*h) > 0 {
		h.fixDown(0)
	}
	t.index = -1
	return t
}

func (h timerHeap) fixDown(i int) {
	n := len(h)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		smallest := left
		if right := left + 1; right < n && h.Less(right, left) {
			smallest = right
		}
		if !h.Less(smallest, i) {
			break
		}
		h.Swap(i, smallest)
		i = smallest
	}
}

// drainSignals delivers any OS signals received since the last tick.
// Installed via watchSignals/refreshSignalWatch (signal.go).
func (l *Loop) drainSignals() {
	l.drainPendingSignals()
}

// calculateTimeout determines how long poll() may block: zero if there
// is ready-queue work, otherwise capped by the next timer, otherwise a
// bounded maximum so Stop()/signals are still observed promptly.
func (l *Loop) calculateTimeout() int {
	if l.ready.length() > 0 {
		return 0
	}
	const maxDelay = 10 * time.Second
	delay := maxDelay
	if len(l.timers) > 0 {
		d := l.timers[0].when.Sub(l.Time())
		if d < 0 {
			d = 0
		}
		if d < delay {
			delay = d
		}
	}
	if delay > 0 && delay < time.Millisecond {
		return 1
	}
	return int(delay.Milliseconds())
}

func (l *Loop) poll() {
	if l.state.Load() != StateRunning {
		return
	}
	if !l.state.CAS(StateRunning, StateSleeping) {
		return
	}
	if l.ready.length() > 0 {
		l.state.CAS(StateSleeping, StateRunning)
		return
	}
	if l.state.Load() == StateTerminating {
		return
	}

	timeout := l.calculateTimeout()
	l.wakePending.Store(false)
	err := l.poller.poll(timeout, l.dispatchIOEvent)
	l.state.CAS(StateSleeping, StateRunning)
	if err != nil {
		l.logf(LevelError, "poll", "poller error: %v", err)
	}
}

// dispatchIOEvent handles a single poll callback: for each direction
// the poller reports, enqueue the live handler or clear the masked-out
// bit, then re-arm if pevents changed.
func (l *Loop) dispatchIOEvent(fd int, events IOEvents) {
	if fd == l.wakeReadFD {
		drainWakePipe(l.wakeReadFD)
		return
	}

	ps, ok := l.fds[fd]
	if !ok {
		return
	}
	modified := false

	if events&EventRead != 0 {
		if ps.readHandler != nil {
			if ps.readHandler.Cancelled() {
				ps.readHandler = nil
				ps.pevents &^= EventRead
				modified = true
			} else {
				l.ready.push(ps.readHandler)
			}
		} else {
			events &^= EventRead
		}
	}
	if events&EventWrite != 0 {
		if ps.writeHandler != nil {
			if ps.writeHandler.Cancelled() {
				ps.writeHandler = nil
				ps.pevents &^= EventWrite
				modified = true
			} else {
				l.ready.push(ps.writeHandler)
			}
		} else {
			events &^= EventWrite
		}
	}
	if events&(EventError|EventHangup) != 0 {
		if ps.readHandler != nil {
			l.ready.push(ps.readHandler)
		}
		if ps.writeHandler != nil {
			l.ready.push(ps.writeHandler)
		}
	}

	if modified {
		if ps.pevents == 0 {
			_ = l.poller.unregisterFD(fd)
			delete(l.fds, fd)
		} else {
			_ = l.poller.modifyFD(fd, ps.pevents)
		}
	}
}

func (l *Loop) wake() {
	state := l.state.Load()
	if state == StateTerminated {
		return
	}
	if state != StateSleeping {
		return
	}
	if l.wakePending.CompareAndSwap(false, true) {
		_ = writeWakePipe(l.wakeWriteFD)
	}
}

// shutdown drains the ready queue until it stays empty. It closes no
// handles; Destroy does that.
func (l *Loop) shutdown() {
	l.state.Store(StateTerminated)
	for l.ready.length() > 0 {
		l.ready.drain(l.metrics)
		runtime.Gosched()
	}
}

func closeFD(fd int) error { return unix.Close(fd) }
