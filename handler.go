package arbor

import "sync/atomic"

// Handler is a deferred, cancellable callable — the unit of work the
// ready queue, timer heap, and signal map all hold. A cancelled
// Handler is never invoked; if already enqueued, it is skipped at
// drain.
type Handler struct {
	fn        func()
	cancelled atomic.Bool
}

// newHandler wraps fn as a Handler.
func newHandler(fn func()) *Handler {
	return &Handler{fn: fn}
}

// Cancel marks the handler as cancelled. A cancelled Handler already
// sitting in the ready queue is skipped at drain time; it is never
// invoked.
func (h *Handler) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (h *Handler) Cancelled() bool {
	return h.cancelled.Load()
}

func (h *Handler) run() {
	if h.cancelled.Load() || h.fn == nil {
		return
	}
	h.fn()
}
