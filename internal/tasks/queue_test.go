package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueRunsSubmittedTasks(t *testing.T) {
	q := NewQueue(Config{Workers: 2, QueueSize: 8})

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit("count", func(context.Context) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, q.Shutdown(context.Background()))
	require.EqualValues(t, 5, count.Load())
}

func TestQueueSurvivesFailingAndPanickingTasks(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 4})

	var ran atomic.Bool
	require.NoError(t, q.Submit("fail", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, q.Submit("panic", func(context.Context) error { panic("boom") }))
	require.NoError(t, q.Submit("ok", func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	require.NoError(t, q.Shutdown(context.Background()))
	require.True(t, ran.Load())
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, q.Submit("buffered", func(context.Context) error { return nil }))
	require.ErrorIs(t, q.Submit("overflow", func(context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewQueue(Config{Workers: 1})
	require.NoError(t, q.Shutdown(context.Background()))
	require.NoError(t, q.Shutdown(context.Background()))

	require.ErrorIs(t, q.Submit("late", func(context.Context) error { return nil }), ErrQueueClosed)
}

func TestQueueShutdownHonoursDeadline(t *testing.T) {
	q := NewQueue(Config{Workers: 1, TaskTimeout: time.Minute})

	started := make(chan struct{})
	require.NoError(t, q.Submit("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, q.Shutdown(ctx))
}
