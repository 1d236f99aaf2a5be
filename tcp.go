package arbor

import (
	"net"
	"regexp"
	"time"

	"golang.org/x/sys/unix"
)

const defaultStreamBuffer = 4 << 20

// TCPConnection is a Stream backed by a non-blocking TCP socket, with
// separate connect and accept paths.
type TCPConnection struct {
	*baseStream
}

func newTCPConnection(loop *Loop, fd int) *TCPConnection {
	return &TCPConnection{baseStream: newBaseStream(loop, "tcp", fd, defaultStreamBuffer)}
}

func (c *TCPConnection) ReadBytes(t *Task, n int, timeout time.Duration) ([]byte, error) {
	return c.readBytes(t, n, timeout)
}

func (c *TCPConnection) ReadUntil(t *Task, delim []byte, timeout time.Duration) ([]byte, error) {
	return c.readUntil(t, delim, timeout)
}

func (c *TCPConnection) ReadUntilRegex(t *Task, re *regexp.Regexp, timeout time.Duration) ([]byte, error) {
	return c.readUntilRegex(t, re, timeout)
}

// DialTCP connects to addr ("host:port"), suspending t until the
// non-blocking connect completes or timeout elapses.
func DialTCP(t *Task, loop *Loop, addr string, timeout time.Duration) (*TCPConnection, error) {
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &StreamError{Kind: "tcp", Op: "dial", Err: err}
	}

	domain := unix.AF_INET
	if resolved.IP == nil || resolved.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, &StreamError{Kind: "tcp", Op: "dial", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "tcp", Op: "dial", Err: err}
	}

	sa := tcpSockaddr(domain, resolved)
	connErr := unix.Connect(fd, sa)
	conn := newTCPConnection(loop, fd)

	if connErr == nil {
		conn.markConnected()
		return conn, nil
	}
	if connErr != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, &StreamError{Kind: "tcp", Op: "dial", Err: connErr}
	}

	if err := waitWritable(t, loop, fd, timeout, "tcp", "dial"); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if serr, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); serr != 0 {
		unix.Close(fd)
		return nil, &StreamError{Kind: "tcp", Op: "dial", Err: unix.Errno(serr)}
	}

	conn.markConnected()
	return conn, nil
}

// waitWritable suspends t until fd becomes writable (used to detect
// non-blocking connect completion) or timeout elapses.
func waitWritable(t *Task, loop *Loop, fd int, timeout time.Duration, kind, op string) error {
	var to *Timeout
	if timeout > 0 {
		to = NewTimeout(t, timeout, nil)
		to.Enter()
		defer to.Exit(nil)
	}

	_, suspendErr := t.Suspend(func() {
		loop.AddWriter(fd, func() {
			loop.RemoveWriter(fd)
			t.loop.CallSoon(func() { t.resume(true, nil) })
		})
	})
	if suspendErr != nil {
		loop.RemoveWriter(fd)
		if to != nil && to.Is(suspendErr) {
			return &StreamError{Kind: kind, Op: op, Err: ErrTimedOut}
		}
		return suspendErr
	}
	return nil
}

func tcpSockaddr(domain int, addr *net.TCPAddr) unix.Sockaddr {
	if domain == unix.AF_INET {
		var a [4]byte
		copy(a[:], addr.IP.To4())
		return &unix.SockaddrInet4{Port: addr.Port, Addr: a}
	}
	var a [16]byte
	ip := addr.IP.To16()
	copy(a[:], ip)
	return &unix.SockaddrInet6{Port: addr.Port, Addr: a}
}

// ListenTCP binds and returns a StreamServer listening on addr
// ("host:port"). Serve must be called to start accepting connections.
func ListenTCP(loop *Loop, addr string) (*StreamServer, error) {
	resolved, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &StreamError{Kind: "tcp", Op: "bind", Err: err}
	}

	domain := unix.AF_INET
	if resolved.IP == nil || resolved.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, &StreamError{Kind: "tcp", Op: "bind", Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "tcp", Op: "bind", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "tcp", Op: "bind", Err: err}
	}
	if err := unix.Bind(fd, tcpSockaddr(domain, resolved)); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "tcp", Op: "bind", Err: err}
	}

	return newStreamServer(loop, "tcp", fd, func(connFD int) Stream {
		return newTCPConnection(loop, connFD)
	}), nil
}
