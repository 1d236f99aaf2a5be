package arbor

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// signalHandler is a Handler extended with the signal number it
// answers for. The loop keeps signal -> set<signalHandler>; every
// handler registered for a delivered signal fires.
type signalHandler struct {
	Handler
	sig syscall.Signal
}

// SignalHandler is the public handle returned by AddSignalHandler.
type SignalHandler struct {
	h *signalHandler
	l *Loop
}

// Cancel removes this handler from the loop's signal map. Cancellation
// of one handler never affects sibling handlers registered for the
// same signal.
func (s *SignalHandler) Cancel() {
	s.h.Cancel()
	s.l.removeSignalHandler(s.sig(), s.h)
}

func (s *SignalHandler) sig() syscall.Signal { return s.h.sig }

// signalDispatcher owns the loop's OS signal channel and the
// signal -> handler-set map.
type signalDispatcher struct {
	mu       sync.Mutex
	handlers map[syscall.Signal]map[*signalHandler]struct{}
	notifyCh chan syscallSignal

	osCh    chan os.Signal
	watched map[syscall.Signal]bool

	// wake is called by relay after each relayed signal so a sleeping
	// poll returns and the next tick dispatches it.
	wake func()
}

type syscallSignal = syscall.Signal

func newSignalDispatcher() *signalDispatcher {
	return &signalDispatcher{
		handlers: make(map[syscall.Signal]map[*signalHandler]struct{}),
		notifyCh: make(chan syscallSignal, 64),
		watched:  make(map[syscall.Signal]bool),
	}
}

// startWatch begins relaying OS signal delivery into notifyCh, calling
// wake after each one. Safe to call more than once; only the first
// call spins up the relay goroutine.
func (d *signalDispatcher) startWatch(wake func()) {
	d.mu.Lock()
	if d.osCh == nil {
		d.osCh = make(chan os.Signal, 64)
		d.wake = wake
		go d.relay()
	}
	d.mu.Unlock()
	d.refreshWatch()
}

// refreshWatch installs signal.Notify for every signal currently
// registered that is not already being watched. Signals are never
// un-watched once observed, since os/signal has no per-caller removal
// and a stray delivery after the last handler is removed is simply
// dropped by fire (its handler set will be empty).
func (d *signalDispatcher) refreshWatch() {
	d.mu.Lock()
	var toWatch []os.Signal
	for sig := range d.handlers {
		if !d.watched[sig] {
			d.watched[sig] = true
			toWatch = append(toWatch, sig)
		}
	}
	ch := d.osCh
	d.mu.Unlock()
	if ch != nil && len(toWatch) > 0 {
		signal.Notify(ch, toWatch...)
	}
}

func (d *signalDispatcher) relay() {
	for s := range d.osCh {
		sig, ok := s.(syscall.Signal)
		if !ok {
			continue
		}
		select {
		case d.notifyCh <- sig:
		default:
			// notifyCh full: signal coalesces, matching typical
			// at-least-one-delivery signal semantics rather than
			// blocking the OS signal delivery goroutine.
		}
		if d.wake != nil {
			d.wake()
		}
	}
}

func (d *signalDispatcher) add(sig syscall.Signal, h *signalHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.handlers[sig]
	if !ok {
		set = make(map[*signalHandler]struct{})
		d.handlers[sig] = set
	}
	set[h] = struct{}{}
}

func (d *signalDispatcher) remove(sig syscall.Signal, h *signalHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.handlers[sig]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(d.handlers, sig)
		}
	}
}

// removeAll cancels and removes every handler registered for sig, so
// any already enqueued onto the ready queue from a signal delivered
// just before removal is skipped at drain rather than run.
func (d *signalDispatcher) removeAll(sig syscall.Signal) {
	d.mu.Lock()
	set := d.handlers[sig]
	delete(d.handlers, sig)
	d.mu.Unlock()
	for h := range set {
		h.Cancel()
	}
}

// fire enqueues every live handler registered for sig onto q.
func (d *signalDispatcher) fire(sig syscall.Signal, q *readyQueue) {
	d.mu.Lock()
	set := d.handlers[sig]
	handlers := make([]*signalHandler, 0, len(set))
	for h := range set {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		q.push(&h.Handler)
	}
}

func (d *signalDispatcher) hasAny() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers) > 0
}

// watchSignals starts the OS signal relay for l, called the first time
// any signal handler is registered. Each relayed signal queues an empty
// callback, which keeps poll from sleeping past the signal.
func (l *Loop) watchSignals() { l.signals.startWatch(func() { l.CallSoon(func() {}) }) }

// refreshSignalWatch extends the OS signal relay to cover any newly
// registered signal numbers.
func (l *Loop) refreshSignalWatch() { l.signals.refreshWatch() }

// drainPendingSignals dispatches every signal observed since the last
// tick onto the ready queue, called once per tick from Loop.tick.
func (l *Loop) drainPendingSignals() {
	for {
		select {
		case sig := <-l.signals.notifyCh:
			l.signals.fire(sig, l.ready)
		default:
			return
		}
	}
}
