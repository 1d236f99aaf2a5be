package arbor

import (
	"container/heap"
	"time"
)

// timerHandle is a Handler extended with a reactor timer slot and an
// optional repeat interval. Cancellation removes it from the loop's
// timer heap; if repeat is 0 it is one-shot.
type timerHandle struct {
	Handler
	when   time.Time
	repeat time.Duration
	index  int // heap index, maintained by container/heap for O(log n) cancel
}

// Timer is the public handle returned by CallLater/CallRepeatedly,
// letting callers cancel a scheduled callback.
type Timer struct {
	t *timerHandle
	l *Loop
}

// Cancel stops and removes the timer. Safe to call more than once, and
// safe after the timer has already fired.
func (t *Timer) Cancel() {
	t.t.Cancel()
	t.l.removeTimer(t.t)
}

// Pending reports whether the timer is still armed.
func (t *Timer) Pending() bool {
	return !t.t.Cancelled() && t.t.index >= 0
}

// Sleep suspends t for d, the cooperative equivalent of time.Sleep: it
// parks the calling task's fiber and lets every other ready task run
// in the meantime, rather than blocking an OS thread. A non-positive d
// returns immediately without suspending. Returns early with a non-nil
// error if t is killed (or otherwise thrown into) while asleep; the
// timer registered to wake it is cancelled in that case.
func Sleep(t *Task, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	var timer *Timer
	_, err := t.Suspend(func() {
		timer = t.loop.CallLater(d, func() { t.resume(true, nil) })
	})
	if err != nil {
		timer.Cancel()
	}
	return err
}

// timerHeap is a min-heap of *timerHandle ordered by fire time,
// carrying handles (not raw tasks) so a single timer can be cancelled
// in O(log n) via its heap index.
type timerHeap []*timerHandle

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timerHandle)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) remove(t *timerHandle) {
	if t.index < 0 || t.index >= len(*h) || (*h)[t.index] != t {
		return
	}
	heap.Remove(h, t.index)
}
