package arbor

import (
	"sync"

	"golang.org/x/sys/unix"
)

// ConnHandler processes one accepted connection, running on its own
// Task so it can use the cooperative blocking Stream methods freely.
type ConnHandler func(t *Task, conn Stream)

// StreamServer accepts connections on a bound, listening fd and hands
// each one to a ConnHandler running on its own Task. One StreamServer
// serves either TCP or Unix sockets depending on how it was
// constructed (ListenTCP/ListenUnix); HandleConnection is the
// app-overridable entry point.
type StreamServer struct {
	loop *Loop
	kind string
	fd   int
	wrap func(connFD int) Stream

	// Handler is invoked once per accepted connection. The default
	// HandleConnection method calls it if set, closing the connection
	// immediately otherwise.
	Handler ConnHandler

	mu     sync.Mutex
	closed bool
}

func newStreamServer(loop *Loop, kind string, fd int, wrap func(int) Stream) *StreamServer {
	return &StreamServer{loop: loop, kind: kind, fd: fd, wrap: wrap}
}

// Bind is a no-op retained for API symmetry: binding already happens
// in ListenTCP/ListenUnix, since Go's raw-socket bind step needs the
// resolved sockaddr up front rather than as a later call. Present so
// callers following a Bind-then-Serve shape compile unchanged.
func (s *StreamServer) Bind(_ string) error { return nil }

// Serve starts listening with the given backlog and begins accepting
// connections, dispatching each to HandleConnection on its own Task.
func (s *StreamServer) Serve(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return &StreamError{Kind: s.kind, Op: "listen", Err: err}
	}
	_, err := s.loop.AddReader(s.fd, s.acceptLoop)
	if err != nil {
		return &StreamError{Kind: s.kind, Op: "listen", Err: err}
	}
	return nil
}

func (s *StreamServer) acceptLoop() {
	for {
		connFD, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				s.loop.logf(LevelError, "server", "%s accept failed: %v", s.kind, err)
			}
			return
		}
		conn := s.wrap(connFD)
		if bs, ok := conn.(interface{ markConnected() }); ok {
			bs.markConnected()
		}
		task := Spawn(s.loop, s.kind+"-conn", func(t *Task) error {
			s.HandleConnection(t, conn)
			return nil
		})
		if startErr := task.Start(); startErr != nil {
			s.loop.logf(LevelError, "server", "%s connection task start failed: %v", s.kind, startErr)
		}
	}
}

// HandleConnection runs Handler if set, otherwise closes conn
// immediately. Override by assigning Handler, or by embedding
// StreamServer and shadowing this method in a wrapper type.
func (s *StreamServer) HandleConnection(t *Task, conn Stream) {
	if s.Handler != nil {
		s.Handler(t, conn)
		return
	}
	conn.Close()
}

// Close stops accepting and closes the listening socket.
func (s *StreamServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.loop.RemoveReader(s.fd)
	if err := unix.Close(s.fd); err != nil {
		return &StreamError{Kind: s.kind, Op: "close", Err: err}
	}
	return nil
}
