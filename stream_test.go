package arbor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStream_TCPEcho covers a client writing a
// line, the server echoes it back, read with ReadUntil.
func TestStream_TCPEcho(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	server, err := ListenTCP(loop, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	server.Handler = func(t *Task, conn Stream) {
		defer conn.Close()
		line, err := conn.ReadUntil(t, []byte("\n"), 2*time.Second)
		if err != nil {
			return
		}
		_ = conn.Write(line)
	}
	require.NoError(t, server.Serve(16))

	addr := serverAddrForTest(t, server)

	result := make(chan string, 1)
	client := Spawn(loop, "client", func(t *Task) error {
		conn, err := DialTCP(t, loop, addr, 2*time.Second)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.Write([]byte("ping\n")); err != nil {
			return err
		}
		echoed, err := conn.ReadUntil(t, []byte("\n"), 2*time.Second)
		if err != nil {
			return err
		}
		result <- string(echoed)
		return nil
	})
	require.NoError(t, client.Start())

	select {
	case got := <-result:
		assert.Equal(t, "ping\n", got)
	case <-time.After(3 * time.Second):
		t.Fatal("echo round trip never completed")
	}
}

// TestStream_EOFReturnsRemainderNotError reproduces the stream.go fix:
// a clean peer-initiated close must surface whatever was already
// buffered as a successful read, not a *StreamError.
func TestStream_EOFReturnsRemainderNotError(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	server, err := ListenTCP(loop, "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	server.Handler = func(t *Task, conn Stream) {
		_ = conn.Write([]byte("partial"))
		conn.Close() // no trailing delimiter: client's ReadUntil can't match
	}
	require.NoError(t, server.Serve(16))
	addr := serverAddrForTest(t, server)

	result := make(chan []byte, 1)
	resultErr := make(chan error, 1)
	client := Spawn(loop, "client", func(t *Task) error {
		conn, err := DialTCP(t, loop, addr, 2*time.Second)
		if err != nil {
			return err
		}
		defer conn.Close()
		data, err := conn.ReadUntil(t, []byte("\n"), 2*time.Second)
		result <- data
		resultErr <- err
		return nil
	})
	require.NoError(t, client.Start())

	select {
	case data := <-result:
		assert.Equal(t, "partial", string(data))
		assert.NoError(t, <-resultErr)
	case <-time.After(3 * time.Second):
		t.Fatal("EOF read never completed")
	}
}

// TestStream_ReadAfterCloseNeverReturnsStaleBytes covers the case
// where data was buffered but never read before an explicit Close:
// the close must discard it, so a later ReadBytes call surfaces
// ErrClosed instead of handing back bytes the application never
// consumed.
func TestStream_ReadAfterCloseNeverReturnsStaleBytes(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	fds, err := socketPairForTest()
	require.NoError(t, err)
	conn := newTCPConnection(loop, fds[0])
	defer closeFD(fds[1])
	conn.markConnected()

	require.NoError(t, conn.buf.Feed([]byte("unread bytes")))

	require.NoError(t, conn.Close())

	_, err = conn.ReadBytes(nil, 4, 0)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, streamErr.Err, ErrClosed)
}

func TestStream_WriteAfterCloseErrors(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	fds, err := socketPairForTest()
	require.NoError(t, err)
	conn := newTCPConnection(loop, fds[0])
	defer closeFD(fds[1])
	conn.markConnected()

	require.NoError(t, conn.Close())
	err = conn.Write([]byte("too late"))

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, streamErr.Err, ErrClosed)
}
