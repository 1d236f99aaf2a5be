package arbor

import (
	"regexp"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Stream is the byte-oriented connection abstraction built on top of
// a ReadBuffer and the loop's fd reader/writer registration:
// delimited/length-prefixed reads over a reactor-driven, non-blocking
// socket. TCPConnection and UnixConnection both compose a baseStream
// rather than inheriting from a shared base type.
type Stream interface {
	ReadBytes(t *Task, n int, timeout time.Duration) ([]byte, error)
	ReadUntil(t *Task, delim []byte, timeout time.Duration) ([]byte, error)
	ReadUntilRegex(t *Task, re *regexp.Regexp, timeout time.Duration) ([]byte, error)
	Write(data []byte) error
	Shutdown() error
	Close() error
}

// baseStream is the composed implementation shared by TCPConnection
// and UnixConnection: a raw non-blocking fd registered with the loop's
// poller, feeding a ReadBuffer on the read side and an unbounded byte
// queue on the write side, with pre-connect write buffering and
// half-close semantics. Write never blocks and does not report whether
// the queue has drained.

// closeKind distinguishes why a baseStream stopped accepting reads, so
// blockingRead can tell a clean EOF ("EOF is not an error; it yields
// an empty read") apart from a transport failure or an explicit
// app-initiated Close (both of which raise).
type closeKind int

const (
	closeNone closeKind = iota
	closeEOF
	closeError
	closeExplicit
)

type baseStream struct {
	kind string
	loop *Loop
	fd   int
	buf  *ReadBuffer

	mu           sync.Mutex
	waiters      []*Task
	writeQueue   [][]byte // buffered writes issued before connected
	pendingWrite []byte   // bytes written but not yet flushed to the fd
	connected    bool
	closeKind    closeKind
	closeErr     error
	readReg      bool
	writeReg     bool
}

func (s *baseStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeKind != closeNone
}

func newBaseStream(loop *Loop, kind string, fd int, maxBuffer int) *baseStream {
	return &baseStream{
		loop: loop,
		kind: kind,
		fd:   fd,
		buf:  NewReadBuffer(maxBuffer),
	}
}

// markConnected flips the stream to connected, starts the read
// registration, and drains any writes queued before connection in a
// single Write call.
func (s *baseStream) markConnected() {
	s.mu.Lock()
	s.connected = true
	pending := s.writeQueue
	s.writeQueue = nil
	s.mu.Unlock()

	s.startReading()

	if len(pending) > 0 {
		var all []byte
		for _, chunk := range pending {
			all = append(all, chunk...)
		}
		_ = s.queueWrite(all)
	}
}

func (s *baseStream) startReading() {
	s.mu.Lock()
	if s.readReg || s.closeKind != closeNone {
		s.mu.Unlock()
		return
	}
	s.readReg = true
	s.mu.Unlock()
	_, _ = s.loop.AddReader(s.fd, s.onReadable)
}

func (s *baseStream) onReadable() {
	var chunk [64 * 1024]byte
	n, err := unix.Read(s.fd, chunk[:])
	if n > 0 {
		if feedErr := s.buf.Feed(chunk[:n]); feedErr != nil {
			s.fail(feedErr)
			return
		}
		s.wakeWaiters()
	}
	if n == 0 {
		s.fail(nil) // clean EOF
		return
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		s.fail(err)
	}
}

// fail marks the stream terminally closed — cause nil means a clean
// EOF (not an error; it yields an empty read), non-nil means a
// transport failure that every pending and future read must raise —
// and wakes every blocked reader so it can observe the new state.
func (s *baseStream) fail(cause error) {
	s.mu.Lock()
	if s.closeKind != closeNone {
		s.mu.Unlock()
		return
	}
	if cause == nil {
		s.closeKind = closeEOF
	} else {
		s.closeKind = closeError
		s.closeErr = cause
	}
	s.mu.Unlock()

	s.loop.RemoveReader(s.fd)
	s.loop.RemoveWriter(s.fd)
	s.wakeWaiters()
}

func (s *baseStream) wakeWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, t := range waiters {
		t.loop.CallSoon(func() { t.resume(true, nil) })
	}
}

// Write sends data if connected, or queues it if the stream hasn't
// completed connecting yet.
func (s *baseStream) Write(data []byte) error {
	s.mu.Lock()
	if s.closeKind != closeNone {
		s.mu.Unlock()
		return &StreamError{Kind: s.kind, Op: "write", Err: ErrClosed}
	}
	if !s.connected {
		s.writeQueue = append(s.writeQueue, append([]byte(nil), data...))
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.queueWrite(data)
}

func (s *baseStream) queueWrite(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.closeKind != closeNone {
		s.mu.Unlock()
		return &StreamError{Kind: s.kind, Op: "write", Err: ErrClosed}
	}
	s.pendingWrite = append(s.pendingWrite, data...)
	s.mu.Unlock()
	s.flushWrites()
	return nil
}

func (s *baseStream) flushWrites() {
	s.mu.Lock()
	if s.closeKind != closeNone || len(s.pendingWrite) == 0 {
		s.mu.Unlock()
		return
	}
	data := s.pendingWrite
	s.mu.Unlock()

	n, err := unix.Write(s.fd, data)
	if n > 0 {
		s.mu.Lock()
		s.pendingWrite = s.pendingWrite[n:]
		remaining := len(s.pendingWrite) > 0
		s.mu.Unlock()
		if !remaining {
			s.stopWriteReg()
			return
		}
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		s.fail(err)
		return
	}
	s.ensureWriteReg()
}

func (s *baseStream) ensureWriteReg() {
	s.mu.Lock()
	if s.writeReg || s.closeKind != closeNone {
		s.mu.Unlock()
		return
	}
	s.writeReg = true
	s.mu.Unlock()
	_, _ = s.loop.AddWriter(s.fd, s.flushWrites)
}

func (s *baseStream) stopWriteReg() {
	s.mu.Lock()
	if !s.writeReg {
		s.mu.Unlock()
		return
	}
	s.writeReg = false
	s.mu.Unlock()
	s.loop.RemoveWriter(s.fd)
}

// Shutdown half-closes the write side, letting the peer observe EOF
// while this side keeps draining its read buffer.
func (s *baseStream) Shutdown() error {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		return &StreamError{Kind: s.kind, Op: "shutdown", Err: err}
	}
	return nil
}

// Close tears down the stream: both buffers are cleared and further
// operations raise.
func (s *baseStream) Close() error {
	s.mu.Lock()
	if s.closeKind != closeNone {
		s.mu.Unlock()
		return nil
	}
	s.closeKind = closeExplicit
	waiters := s.waiters
	s.waiters = nil
	s.writeQueue = nil
	s.pendingWrite = nil
	s.mu.Unlock()

	s.loop.RemoveReader(s.fd)
	s.loop.RemoveWriter(s.fd)
	s.buf.Close()
	err := unix.Close(s.fd)

	for _, t := range waiters {
		t.loop.CallSoon(func() { t.resume(true, nil) })
	}
	if err != nil {
		return &StreamError{Kind: s.kind, Op: "close", Err: err}
	}
	return nil
}

func (s *baseStream) removeWaiter(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == t {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// onTerminalRead is consulted once attempt has failed and the stream
// is terminally closed: a clean EOF drains whatever remains (possibly
// nothing) as a successful, final read ("EOF is not an error; it
// yields an empty read"); a transport failure or explicit Close raises
// instead.
func (s *baseStream) onTerminalRead(op string) ([]byte, error, bool) {
	s.mu.Lock()
	kind := s.closeKind
	closeErr := s.closeErr
	s.mu.Unlock()
	switch kind {
	case closeNone:
		return nil, nil, false
	case closeEOF:
		return s.buf.Drain(), nil, true
	case closeError:
		return nil, &StreamError{Kind: s.kind, Op: op, Err: closeErr}, true
	default: // closeExplicit
		return nil, &StreamError{Kind: s.kind, Op: op, Err: ErrClosed}, true
	}
}

// blockingRead suspends t until attempt succeeds, the stream closes,
// or timeout elapses, matching the suspend/retry shape every other
// primitive in this package uses.
func (s *baseStream) blockingRead(t *Task, timeout time.Duration, op string, attempt func() ([]byte, bool)) ([]byte, error) {
	if data, ok := attempt(); ok {
		return data, nil
	}
	if data, err, terminal := s.onTerminalRead(op); terminal {
		return data, err
	}

	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	for {
		_, suspendErr := t.Suspend(func() {
			s.mu.Lock()
			s.waiters = append(s.waiters, t)
			s.mu.Unlock()
		})
		if suspendErr != nil {
			s.removeWaiter(t)
			if to != nil && to.Is(suspendErr) {
				return nil, &StreamError{Kind: s.kind, Op: op, Err: ErrTimedOut}
			}
			return nil, suspendErr
		}
		if data, ok := attempt(); ok {
			return data, nil
		}
		if data, err, terminal := s.onTerminalRead(op); terminal {
			return data, err
		}
		// not enough data yet, reregister
	}
}

func (s *baseStream) readBytes(t *Task, n int, timeout time.Duration) ([]byte, error) {
	return s.blockingRead(t, timeout, "read", func() ([]byte, bool) { return s.buf.Read(n) })
}

func (s *baseStream) readUntil(t *Task, delim []byte, timeout time.Duration) ([]byte, error) {
	return s.blockingRead(t, timeout, "read", func() ([]byte, bool) { return s.buf.ReadUntil(delim) })
}

func (s *baseStream) readUntilRegex(t *Task, re *regexp.Regexp, timeout time.Duration) ([]byte, error) {
	return s.blockingRead(t, timeout, "read", func() ([]byte, bool) { return s.buf.ReadUntilRegex(re) })
}
