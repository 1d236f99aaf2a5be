package arbor

import (
	"runtime"
	"sync"
)

// currentLoops maps the real OS-level goroutine ID that is executing
// Run to the *Loop it is driving, letting code with no explicit *Loop
// in scope find one via Current. A registry rather than a single flag
// since more than one Loop may be running (one per goroutine tree) at
// once.
var currentLoops sync.Map // goroutineID uint64 -> *Loop

// Current returns the Loop currently being driven by Run on the
// calling goroutine, if any. Only valid to call from the goroutine
// that invoked Run — not from a Task's fiber goroutine, which is a
// distinct real goroutine even though it executes cooperatively;
// tasks should hold onto their Loop explicitly instead (Spawn already
// requires one).
func Current() (*Loop, bool) {
	v, ok := currentLoops.Load(getGoroutineID())
	if !ok {
		return nil, false
	}
	return v.(*Loop), true
}

// getGoroutineID returns the calling goroutine's runtime ID, parsed
// out of the "goroutine N [...]" header runtime.Stack writes.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
