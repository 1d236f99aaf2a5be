package arbor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadPool_SubmitResolvesOnLoopThread(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	pool := NewThreadPool(loop, 2)
	defer pool.Close()

	future := pool.Submit(func() (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "result", nil
	})

	v, err := future.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "result", v)
}

func TestThreadPool_SubmitPropagatesError(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	pool := NewThreadPool(loop, 1)
	defer pool.Close()

	sentinel := errors.New("boom")
	future := pool.Submit(func() (any, error) { return nil, sentinel })

	_, err = future.Result(context.Background())
	assert.ErrorIs(t, err, sentinel)
}

func TestThreadPool_SubmitRecoversPanic(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	pool := NewThreadPool(loop, 1)
	defer pool.Close()

	future := pool.Submit(func() (any, error) {
		panic("worker exploded")
	})

	_, err = future.Result(context.Background())
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "worker exploded", panicErr.Value)
}

func TestThreadPool_SubmitAfterCloseFails(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	pool := NewThreadPool(loop, 1)
	pool.Close()

	future := pool.Submit(func() (any, error) { return 1, nil })
	_, err = future.Result(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestThreadPool_ManyJobsAllComplete(t *testing.T) {
	loop, err := New()
	require.NoError(t, err)
	stop := runLoop(t, loop)
	defer stop()

	pool := NewThreadPool(loop, 4)
	defer pool.Close()

	const n = 20
	futures := make([]*Future, n)
	for i := 0; i < n; i++ {
		i := i
		futures[i] = pool.Submit(func() (any, error) { return i * i, nil })
	}
	for i, f := range futures {
		v, err := f.Result(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i*i, v)
	}
}
