package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestQueueRunsTasks(t *testing.T) {
	q := NewQueue(2, 8, time.Second, nil)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, int32(5), n.Load())
}

func TestQueueLogsFailuresWithoutPropagating(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	q := NewQueue(1, 1, time.Second, zap.New(core).Sugar())

	err := q.Submit("send-mail", func(context.Context) error { return errors.New("smtp down") })
	require.NoError(t, err)
	require.NoError(t, q.Shutdown(context.Background()))

	failed := logs.FilterMessage("task failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "send-mail", failed[0].ContextMap()["task"])
}

func TestQueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(1, 1, time.Second, nil)
	started := make(chan struct{})

	require.NoError(t, q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, q.Submit("buffered", func(context.Context) error { return nil }))
	assert.ErrorIs(t, q.Submit("overflow", func(context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.ErrorIs(t, q.Submit("late", func(context.Context) error { return nil }), ErrClosed)
}

func TestQueueRecoversPanics(t *testing.T) {
	q := NewQueue(1, 2, time.Second, nil)
	var ran atomic.Bool
	require.NoError(t, q.Submit("panic", func(context.Context) error { panic("boom") }))
	require.NoError(t, q.Submit("after", func(context.Context) error {
		ran.Store(true)
		return nil
	}))
	require.NoError(t, q.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}

func TestQueueTaskTimeout(t *testing.T) {
	q := NewQueue(1, 1, 20*time.Millisecond, nil)
	got := make(chan error, 1)
	require.NoError(t, q.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}))
	require.NoError(t, q.Shutdown(context.Background()))
	assert.ErrorIs(t, <-got, context.DeadlineExceeded)
}
