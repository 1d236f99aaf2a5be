package arbor

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSignal_MultipleHandlersAllFire covers two
// independent handlers registered for the same signal both run, and
// cancelling one never affects the other.
func TestSignal_MultipleHandlersAllFire(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	var mu sync.Mutex
	var fired []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	h1, err := loop.AddSignalHandler(syscall.SIGUSR1, record("first"))
	require.NoError(t, err)
	_, err = loop.AddSignalHandler(syscall.SIGUSR1, record("second"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // let signal.Notify install
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.ElementsMatch(t, []string{"first", "second"}, fired)
	fired = nil
	mu.Unlock()

	h1.Cancel()
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"second"}, fired)
	mu.Unlock()
}

// TestLoop_RemoveSignalHandlerStopsEveryHandlerForThatSignal covers
// bulk removal: two handlers registered for the same signal both stop
// firing after RemoveSignalHandler, while a handler for a different
// signal is unaffected.
func TestLoop_RemoveSignalHandlerStopsEveryHandlerForThatSignal(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	var mu sync.Mutex
	var fired []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			fired = append(fired, name)
			mu.Unlock()
		}
	}

	_, err = loop.AddSignalHandler(syscall.SIGUSR2, record("a"))
	require.NoError(t, err)
	_, err = loop.AddSignalHandler(syscall.SIGUSR2, record("b"))
	require.NoError(t, err)
	otherHandle, err := loop.AddSignalHandler(syscall.SIGUSR1, record("other"))
	require.NoError(t, err)
	defer otherHandle.Cancel()

	time.Sleep(20 * time.Millisecond) // let signal.Notify install

	loop.RemoveSignalHandler(syscall.SIGUSR2)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR2))
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"other"}, fired)
	mu.Unlock()

	// removing a signal with no handlers left is a harmless no-op.
	loop.RemoveSignalHandler(syscall.SIGUSR2)
}

func TestLoop_AddSignalHandlerRejectsInvalidSignal(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	defer loop.Destroy()

	_, err = loop.AddSignalHandler(0, func() {})
	assert.ErrorIs(t, err, ErrSignalOutOfRange)
}
