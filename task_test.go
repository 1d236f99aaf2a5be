package arbor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTask_SleepOrder covers a three-task interleaved sleep
// scenario: each task sleeps a fixed amount three times, and the
// observed completion order across all nine sleeps is 1,2,3,1,2,3,1,2,3
// (every delay is equal, so each round follows spawn order).
func TestTask_SleepOrder(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	var order []int
	results := make(chan []int, 1)

	spawnSleeper := func(id int) *Task {
		return Spawn(loop, "sleeper", func(task *Task) error {
			for i := 0; i < 3; i++ {
				_ = Sleep(task, 10*time.Millisecond)
				order = append(order, id)
				if len(order) == 9 {
					results <- append([]int(nil), order...)
				}
			}
			return nil
		})
	}

	tasks := []*Task{spawnSleeper(1), spawnSleeper(2), spawnSleeper(3)}
	for _, tsk := range tasks {
		require.NoError(t, tsk.Start())
	}

	select {
	case got := <-results:
		assert.Equal(t, []int{1, 2, 3, 1, 2, 3, 1, 2, 3}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("sleepers never completed")
	}
}

// TestSleep_ZeroDurationReturnsImmediately confirms Sleep(t, 0) never
// suspends the calling task's fiber.
func TestSleep_ZeroDurationReturnsImmediately(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	done := make(chan error, 1)
	task := Spawn(loop, "zero-sleep", func(task *Task) error {
		done <- Sleep(task, 0)
		return nil
	})
	require.NoError(t, task.Start())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("zero-duration sleep never returned")
	}
}

// TestSleep_KillWakesItWithAnError confirms a sleeping task is woken
// by Kill rather than left parked until its timer fires, and that
// Sleep surfaces the resulting error to the caller.
func TestSleep_KillWakesItWithAnError(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	woke := make(chan error, 1)
	task := Spawn(loop, "sleeper", func(task *Task) error {
		woke <- Sleep(task, time.Hour)
		return nil
	})
	require.NoError(t, task.Start())

	loop.CallSoon(func() { task.Kill(nil) })

	select {
	case err := <-woke:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("killed sleeper never woke")
	}
}

func TestTask_KillBeforeStart(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	ran := make(chan struct{}, 1)
	task := Spawn(loop, "never-runs", func(t *Task) error {
		close(ran)
		return nil
	})
	task.Kill(nil)

	err = task.Join(context.Background())
	var exit *TaskExit
	assert.True(t, errors.As(err, &exit))

	select {
	case <-ran:
		t.Fatal("killed-before-start task body executed")
	case <-time.After(100 * time.Millisecond):
	}

	assert.ErrorIs(t, task.Start(), ErrTaskAlreadyStarted)
}

func TestTask_KillWhileSuspended(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	event := NewEvent()
	finished := make(chan error, 1)
	task := Spawn(loop, "waiter", func(t *Task) error {
		_, err := event.Wait(t, 0)
		return err
	})
	require.NoError(t, task.Start())

	loop.CallSoon(func() {
		task.Kill(nil)
	})

	go func() { finished <- task.Join(context.Background()) }()

	select {
	case err := <-finished:
		var exit *TaskExit
		assert.True(t, errors.As(err, &exit))
	case <-time.After(2 * time.Second):
		t.Fatal("killed task never finished")
	}
}

func TestTask_JoinReturnsNilOnCleanExit(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	task := Spawn(loop, "clean", func(t *Task) error { return nil })
	require.NoError(t, task.Start())

	err = task.Join(context.Background())
	assert.NoError(t, err)
	assert.False(t, task.Running())
}

func TestTask_JoinPropagatesError(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	sentinel := errors.New("boom")
	task := Spawn(loop, "erroring", func(t *Task) error { return sentinel })
	require.NoError(t, task.Start())

	err = task.Join(context.Background())
	assert.ErrorIs(t, err, sentinel)
}
