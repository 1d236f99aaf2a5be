package arbor

import (
	"fmt"
	"strings"
	"time"
)

// ParseEndpoint splits an endpoint string of the form
// "tcp:host:port", "udp:host:port", or "unix:/path" into its network
// and address parts.
func ParseEndpoint(s string) (network, addr string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("arbor: malformed endpoint %q, expected network:address", s)
	}
	network, addr = parts[0], parts[1]
	switch network {
	case "tcp", "udp", "unix":
	default:
		return "", "", fmt.Errorf("arbor: unsupported endpoint network %q", network)
	}
	if addr == "" {
		return "", "", fmt.Errorf("arbor: malformed endpoint %q, empty address", s)
	}
	return network, addr, nil
}

// Connect dials endpoint ("tcp:host:port" or "unix:/path") and returns
// a connected Stream. Connect exists purely as a thin dispatch
// convenience over DialTCP/DialUnix.
//
// "udp:host:port" parses successfully (ParseEndpoint accepts it
// alongside tcp/unix) but Connect itself returns an error: UDP is
// datagram-oriented and has no byte-stream framing for
// ReadUntil/ReadUntilRegex to operate on, so it does not fit the
// Stream interface this module's byte-oriented readiness callbacks
// build on. A UDP-specific send/recv-from API would need its own
// interface.
func Connect(t *Task, loop *Loop, endpoint string, timeout time.Duration) (Stream, error) {
	network, addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	switch network {
	case "tcp":
		return DialTCP(t, loop, addr, timeout)
	case "unix":
		return DialUnix(t, loop, addr, timeout)
	default:
		return nil, fmt.Errorf("arbor: connect: %q transport not supported by Stream", network)
	}
}

// Listen binds and returns a StreamServer for endpoint
// ("tcp:host:port" or "unix:/path"). Listen does not use backlog and
// does not start listening: the listen backlog is the one passed to
// StreamServer.Serve.
func Listen(loop *Loop, endpoint string, backlog int) (*StreamServer, error) {
	network, addr, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	switch network {
	case "tcp":
		return ListenTCP(loop, addr)
	case "unix":
		return ListenUnix(loop, addr)
	default:
		return nil, fmt.Errorf("arbor: listen: %q transport not supported by StreamServer", network)
	}
}
