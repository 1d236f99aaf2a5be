package arbor

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

// socketPairForTest returns a connected, non-blocking Unix socket pair
// for tests that need a real pollable fd without going through
// DialTCP/DialUnix's connect handshake.
func socketPairForTest() ([2]int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return [2]int{}, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			return [2]int{}, err
		}
	}
	return [2]int{fds[0], fds[1]}, nil
}

// serverAddrForTest reads back the ephemeral port ListenTCP bound to,
// so a test dialer can connect to "127.0.0.1:0" without racing a fixed
// port against other tests.
func serverAddrForTest(t *testing.T, s *StreamServer) string {
	t.Helper()
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockaddr type %T", sa)
	}
	return fmt.Sprintf("127.0.0.1:%d", in4.Port)
}
