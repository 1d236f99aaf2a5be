package arbor

import (
	"regexp"
	"time"

	"golang.org/x/sys/unix"
)

// UnixConnection is a Stream backed by a non-blocking Unix domain
// socket, grounded the same way as TCPConnection.
type UnixConnection struct {
	*baseStream
}

func newUnixConnection(loop *Loop, fd int) *UnixConnection {
	return &UnixConnection{baseStream: newBaseStream(loop, "unix", fd, defaultStreamBuffer)}
}

func (c *UnixConnection) ReadBytes(t *Task, n int, timeout time.Duration) ([]byte, error) {
	return c.readBytes(t, n, timeout)
}

func (c *UnixConnection) ReadUntil(t *Task, delim []byte, timeout time.Duration) ([]byte, error) {
	return c.readUntil(t, delim, timeout)
}

func (c *UnixConnection) ReadUntilRegex(t *Task, re *regexp.Regexp, timeout time.Duration) ([]byte, error) {
	return c.readUntilRegex(t, re, timeout)
}

// DialUnix connects to the Unix domain socket at path, suspending t
// until the non-blocking connect completes or timeout elapses.
func DialUnix(t *Task, loop *Loop, path string, timeout time.Duration) (*UnixConnection, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &StreamError{Kind: "unix", Op: "dial", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "unix", Op: "dial", Err: err}
	}

	connErr := unix.Connect(fd, &unix.SockaddrUnix{Name: path})
	conn := newUnixConnection(loop, fd)

	if connErr == nil {
		conn.markConnected()
		return conn, nil
	}
	if connErr != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, &StreamError{Kind: "unix", Op: "dial", Err: connErr}
	}

	if err := waitWritable(t, loop, fd, timeout, "unix", "dial"); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if serr, _ := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); serr != 0 {
		unix.Close(fd)
		return nil, &StreamError{Kind: "unix", Op: "dial", Err: unix.Errno(serr)}
	}

	conn.markConnected()
	return conn, nil
}

// ListenUnix binds and returns a StreamServer listening on the Unix
// domain socket at path. Serve must be called to start accepting.
func ListenUnix(loop *Loop, path string) (*StreamServer, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &StreamError{Kind: "unix", Op: "bind", Err: err}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "unix", Op: "bind", Err: err}
	}
	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return nil, &StreamError{Kind: "unix", Op: "bind", Err: err}
	}

	return newStreamServer(loop, "unix", fd, func(connFD int) Stream {
		return newUnixConnection(loop, connFD)
	}), nil
}
