package arbor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTimeout_ZeroDurationNeverFires covers the "Timeout(None)
// never fires": a zero duration arms nothing, so a task that suspends
// forever under it is only ever released by an explicit resume.
func TestTimeout_ZeroDurationNeverFires(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	result := make(chan error, 1)
	task := Spawn(loop, "guarded", func(t *Task) error {
		return WithTimeout(t, 0, func() error {
			_, err := t.Suspend(func() {
				t.loop.CallLater(30*time.Millisecond, func() { t.resume(nil, nil) })
			})
			return err
		})
	})
	require.NoError(t, task.Start())
	go func() { result <- task.Join(context.Background()) }()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("task guarded by a zero timeout never completed")
	}
}

// TestTimeout_FiresAndIsRecognizedByIdentity covers Timeout.Is's
// pointer-identity contract: the error a fired Timeout throws is
// recognized by Is as that Timeout's own sentinel, and Exit reports it
// as one to suppress.
func TestTimeout_FiresAndIsRecognizedByIdentity(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	outcome := make(chan string, 1)
	task := Spawn(loop, "timed-out", func(t *Task) error {
		to := NewTimeout(t, 20*time.Millisecond, nil)
		to.Enter()
		_, err := t.Suspend(func() {
			// never resumed explicitly: only the timeout's own throw
			// will release this suspend.
		})
		suppressed := to.Exit(err)
		switch {
		case err != nil && to.Is(err) && suppressed:
			outcome <- "fired-suppressed"
		default:
			outcome <- "unexpected"
		}
		return nil
	})
	require.NoError(t, task.Start())

	select {
	case got := <-outcome:
		assert.Equal(t, "fired-suppressed", got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
}

// TestWithTimeout_SuppressesOwnSentinel confirms WithTimeout swallows
// exactly its own timeout error and returns nil, per Enter/Exit's
// suppress contract.
func TestWithTimeout_SuppressesOwnSentinel(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	result := make(chan error, 1)
	task := Spawn(loop, "suppressed", func(t *Task) error {
		return WithTimeout(t, 20*time.Millisecond, func() error {
			_, err := t.Suspend(func() {})
			return err
		})
	})
	require.NoError(t, task.Start())
	go func() {
		result <- task.Join(context.Background())
	}()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WithTimeout never suppressed its own sentinel")
	}
}

// TestWithTimeout_PropagatesOtherErrors confirms an unrelated error
// returned by fn passes through untouched.
func TestWithTimeout_PropagatesOtherErrors(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	sentinel := errors.New("boom")
	result := make(chan error, 1)
	task := Spawn(loop, "failing", func(t *Task) error {
		return WithTimeout(t, time.Second, func() error {
			return sentinel
		})
	})
	require.NoError(t, task.Start())
	go func() {
		result <- task.Join(context.Background())
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, sentinel)
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated error was not propagated")
	}
}

// TestWithTimeout_PropagatesCustomException confirms a non-nil exc
// passed to a Timeout is thrown verbatim rather than the Timeout
// value itself, and so is never suppressed by Exit.
func TestWithTimeout_PropagatesCustomException(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	sentinel := &RuntimeError{Message: "custom timeout"}
	result := make(chan error, 1)
	task := Spawn(loop, "custom-exc", func(t *Task) error {
		to := NewTimeout(t, 20*time.Millisecond, sentinel)
		to.Enter()
		_, err := t.Suspend(func() {})
		to.Exit(err)
		return err
	})
	require.NoError(t, task.Start())
	go func() {
		result <- task.Join(context.Background())
	}()

	select {
	case err := <-result:
		assert.Same(t, sentinel, err)
	case <-time.After(2 * time.Second):
		t.Fatal("custom timeout exception never propagated")
	}
}
