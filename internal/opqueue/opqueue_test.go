package opqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/opqueue"
)

func TestSubmit_RunsInOrder(t *testing.T) {
	q := opqueue.New()
	defer q.Close()

	var mu sync.Mutex
	var order []int

	var futures []*opqueue.Future
	for i := 0; i < 50; i++ {
		i := i
		futures = append(futures, q.Submit(func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futures {
		require.NoError(t, f.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestSubmit_FailureDoesNotStopChain(t *testing.T) {
	q := opqueue.New()
	defer q.Close()

	boom := errors.New("boom")
	f1 := q.Submit(func() error { return boom })
	ran := false
	f2 := q.Submit(func() error {
		ran = true
		return nil
	})

	assert.ErrorIs(t, f1.Err(), boom)
	require.NoError(t, f2.Err())
	assert.True(t, ran)
}

func TestCurrent_IsChainTail(t *testing.T) {
	q := opqueue.New()
	defer q.Close()

	release := make(chan struct{})
	q.Submit(func() error {
		<-release
		return nil
	})
	last := q.Submit(func() error { return nil })

	assert.Same(t, last, q.Current())

	close(release)
	require.NoError(t, q.Current().Err())
}

func TestCurrent_EmptyQueueResolved(t *testing.T) {
	q := opqueue.New()
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Current().Wait(ctx))
}

func TestWait_ContextCancel(t *testing.T) {
	q := opqueue.New()
	defer q.Close()

	release := make(chan struct{})
	defer close(release)
	f := q.Submit(func() error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)
}

func TestClose_DrainsAndRejectsNew(t *testing.T) {
	q := opqueue.New()

	ran := false
	f := q.Submit(func() error {
		ran = true
		return nil
	})
	q.Close()

	require.NoError(t, f.Err())
	assert.True(t, ran)
	assert.ErrorIs(t, q.Submit(func() error { return nil }).Err(), opqueue.ErrClosed)
}
