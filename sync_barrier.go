package arbor

import "sync"

// Barrier is a cyclic rendezvous point for a fixed number of parties.
// Once the last party arrives, every waiter is released simultaneously
// and the barrier resets itself for the next cycle.
type Barrier struct {
	mu         sync.Mutex
	parties    int
	count      int
	generation int
	broken     bool
	waiters    []*Task
}

// NewBarrier creates a Barrier for the given number of parties.
func NewBarrier(parties int) *Barrier {
	return &Barrier{parties: parties}
}

// Wait blocks t until parties tasks have called Wait on the same
// generation, then returns the arrival index (0 for the first party to
// arrive, parties-1 for the party that completed the barrier). Returns
// ErrBrokenBarrier if the barrier is or becomes broken, or is Reset,
// while t waits.
func (b *Barrier) Wait(t *Task) (index int, err error) {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		return -1, ErrBrokenBarrier
	}
	gen := b.generation
	idx := b.count
	b.count++

	if b.count == b.parties {
		waiters := b.waiters
		b.waiters = nil
		b.count = 0
		b.generation++
		b.mu.Unlock()

		for _, wt := range waiters {
			wt.loop.CallSoon(func() { wt.resume(true, nil) })
		}
		return idx, nil
	}
	b.mu.Unlock()

	resumed, suspendErr := t.Suspend(func() {
		b.mu.Lock()
		b.waiters = append(b.waiters, t)
		b.mu.Unlock()
	})

	b.mu.Lock()
	broken := b.broken
	advanced := b.generation != gen
	b.mu.Unlock()

	if suspendErr != nil {
		b.Abort()
		return idx, suspendErr
	}
	if broken || !advanced || resumed != true {
		return idx, ErrBrokenBarrier
	}
	return idx, nil
}

// Abort breaks the barrier, releasing every current waiter with
// ErrBrokenBarrier and causing every future Wait to fail the same way
// until Reset is called.
func (b *Barrier) Abort() {
	b.mu.Lock()
	b.broken = true
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, t := range waiters {
		t.loop.CallSoon(func() { t.resume(true, nil) })
	}
}

// Reset clears a broken barrier and releases any current waiters
// (with ErrBrokenBarrier, since they did not complete a generation),
// starting a fresh generation with zero arrivals.
func (b *Barrier) Reset() {
	b.mu.Lock()
	b.broken = false
	b.count = 0
	b.generation++
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, t := range waiters {
		t.loop.CallSoon(func() { t.resume(false, nil) })
	}
}

// Parties returns the number of parties required to trip the barrier.
func (b *Barrier) Parties() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parties
}

// NWaiting returns the number of parties currently waiting.
func (b *Barrier) NWaiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// Broken reports whether the barrier is currently in the broken state.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
