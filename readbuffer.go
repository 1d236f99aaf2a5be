package arbor

import (
	"bytes"
	"regexp"
	"sync"
)

// ReadBuffer is a bounded deque of byte chunks using a gradual-merge
// strategy: the head chunk is scanned in place and only merged with
// its neighbor on a failed scan ("double the prefix"), repeating until
// a match is found or the buffer collapses to a single chunk. This
// keeps repeated partial scans amortized rather than re-copying the
// whole buffer on every Feed.
type ReadBuffer struct {
	mu      sync.Mutex
	maxSize int
	chunks  [][]byte
	total   int
	closed  bool
}

// NewReadBuffer creates an empty ReadBuffer that rejects Feed once the
// buffered total would exceed maxSize (a maxSize <= 0 means unbounded).
func NewReadBuffer(maxSize int) *ReadBuffer {
	return &ReadBuffer{maxSize: maxSize}
}

// Feed appends data to the buffer. Returns ErrClosed if the buffer is
// already closed, or ErrBufferOverflow (closing the buffer as a side
// effect) if appending would exceed maxSize.
func (b *ReadBuffer) Feed(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.maxSize > 0 && b.total+len(data) > b.maxSize {
		b.closed = true
		return ErrBufferOverflow
	}
	chunk := append([]byte(nil), data...)
	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)
	return nil
}

// Read returns exactly n bytes and true, or (nil, false) if fewer than
// n bytes are currently buffered or the buffer is closed. It does not
// consume anything on a short read.
func (b *ReadBuffer) Read(n int) ([]byte, bool) {
	if n <= 0 {
		return nil, n == 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	if !b.ensureHeadAtLeast(n) {
		return nil, false
	}
	head := b.chunks[0]
	result := append([]byte(nil), head[:n]...)
	if rest := head[n:]; len(rest) > 0 {
		b.chunks[0] = rest
	} else {
		b.chunks = b.chunks[1:]
	}
	b.total -= n
	return result, true
}

// ReadUntil returns the buffered bytes up to and including the first
// occurrence of delim, or (nil, false) if delim has not appeared yet
// or the buffer is closed.
func (b *ReadBuffer) ReadUntil(delim []byte) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	return b.consumeUntil(func(head []byte) int {
		i := bytes.Index(head, delim)
		if i < 0 {
			return -1
		}
		return i + len(delim)
	})
}

// ReadUntilRegex returns the buffered bytes through the end of the
// first match of re, or (nil, false) if re has not matched yet or the
// buffer is closed.
func (b *ReadBuffer) ReadUntilRegex(re *regexp.Regexp) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	return b.consumeUntil(func(head []byte) int {
		loc := re.FindIndex(head)
		if loc == nil {
			return -1
		}
		return loc[1]
	})
}

// Close marks the buffer closed and discards whatever is still
// buffered: every Feed, Read, ReadUntil, and ReadUntilRegex call
// afterward fails (Feed with ErrClosed, the reads with (nil, false)).
// Callers that need to recover data buffered before a non-explicit
// close (e.g. a clean peer EOF) must call Drain instead of Close.
func (b *ReadBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.chunks = nil
	b.total = 0
}

// Drain returns and removes every remaining buffered byte regardless
// of the closed flag, for callers that need to hand back whatever is
// left after a clean EOF rather than treat closing as an error
// condition. Returns nil (not an error) if nothing remains.
func (b *ReadBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.total == 0 {
		return nil
	}
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.total = 0
	return out
}

// Len returns the total number of buffered, unread bytes.
func (b *ReadBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// ensureHeadAtLeast merges leading chunks until the head chunk holds
// at least n bytes, or the whole buffer (a single chunk) still falls
// short. Caller must hold b.mu.
func (b *ReadBuffer) ensureHeadAtLeast(n int) bool {
	if b.total < n {
		return false
	}
	for len(b.chunks[0]) < n && len(b.chunks) > 1 {
		b.chunks[0] = append(b.chunks[0], b.chunks[1]...)
		b.chunks = append(b.chunks[:1], b.chunks[2:]...)
	}
	return len(b.chunks[0]) >= n
}

// consumeUntil repeatedly scans (and, on failure, merges) the head
// chunk via search, which returns the exclusive end index of a match
// within the chunk it's given, or -1. Caller must hold b.mu.
func (b *ReadBuffer) consumeUntil(search func(head []byte) int) ([]byte, bool) {
	if len(b.chunks) == 0 {
		return nil, false
	}
	for {
		idx := search(b.chunks[0])
		if idx >= 0 {
			head := b.chunks[0]
			result := append([]byte(nil), head[:idx]...)
			if rest := head[idx:]; len(rest) > 0 {
				b.chunks[0] = rest
			} else {
				b.chunks = b.chunks[1:]
			}
			b.total -= idx
			return result, true
		}
		if len(b.chunks) == 1 {
			return nil, false
		}
		b.chunks[0] = append(b.chunks[0], b.chunks[1]...)
		b.chunks = append(b.chunks[:1], b.chunks[2:]...)
	}
}
