package arbor

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBuffer_ReadExactBytes(t *testing.T) {
	b := NewReadBuffer(0)
	require.NoError(t, b.Feed([]byte("hello ")))
	require.NoError(t, b.Feed([]byte("world")))

	got, ok := b.Read(5)
	require.True(t, ok)
	assert.Equal(t, "hello", string(got))

	_, ok = b.Read(100)
	assert.False(t, ok)

	got, ok = b.Read(6)
	require.True(t, ok)
	assert.Equal(t, " world", string(got))
}

// TestReadBuffer_DelimiterStraddlesChunks covers a delimiter split
// across two Feed calls: it is only found once the straddling chunks
// are merged.
func TestReadBuffer_DelimiterStraddlesChunks(t *testing.T) {
	b := NewReadBuffer(0)
	require.NoError(t, b.Feed([]byte("partial-li")))

	_, ok := b.ReadUntil([]byte("\r\n"))
	assert.False(t, ok)

	require.NoError(t, b.Feed([]byte("ne\r\nrest")))

	line, ok := b.ReadUntil([]byte("\r\n"))
	require.True(t, ok)
	assert.Equal(t, "partial-line\r\n", string(line))

	assert.Equal(t, 4, b.Len()) // "rest" remains buffered
}

func TestReadBuffer_ReadUntilRegex(t *testing.T) {
	b := NewReadBuffer(0)
	require.NoError(t, b.Feed([]byte("key: value\nnext")))

	re := regexp.MustCompile(`[^\n]*\n`)
	line, ok := b.ReadUntilRegex(re)
	require.True(t, ok)
	assert.Equal(t, "key: value\n", string(line))
}

func TestReadBuffer_FeedRejectsOverflow(t *testing.T) {
	b := NewReadBuffer(4)
	require.NoError(t, b.Feed([]byte("1234")))
	err := b.Feed([]byte("5"))
	assert.ErrorIs(t, err, ErrBufferOverflow)

	// overflow closes the buffer as a side effect; further feeds fail.
	err = b.Feed([]byte("6"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadBuffer_DrainReturnsRemainderOnce(t *testing.T) {
	b := NewReadBuffer(0)
	require.NoError(t, b.Feed([]byte("left")))
	require.NoError(t, b.Feed([]byte("over")))

	out := b.Drain()
	assert.Equal(t, "leftover", string(out))
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain())
}

// TestReadBuffer_CloseDiscardsBufferedDataAndFailsReads confirms Close
// is not just a Feed-rejection flag: unread bytes buffered before
// Close must never be handed back by a later Read/ReadUntil/
// ReadUntilRegex call.
func TestReadBuffer_CloseDiscardsBufferedDataAndFailsReads(t *testing.T) {
	b := NewReadBuffer(0)
	require.NoError(t, b.Feed([]byte("stale data\n")))

	b.Close()

	_, ok := b.Read(4)
	assert.False(t, ok)

	_, ok = b.ReadUntil([]byte("\n"))
	assert.False(t, ok)

	_, ok = b.ReadUntilRegex(regexp.MustCompile(`.*\n`))
	assert.False(t, ok)

	assert.Equal(t, 0, b.Len())
	assert.ErrorIs(t, b.Feed([]byte("x")), ErrClosed)
}
