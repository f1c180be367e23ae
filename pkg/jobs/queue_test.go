package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
		wg   sync.WaitGroup
	)
	wg.Add(3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		wg.Done()
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{ID: id}))
	}
	wg.Wait()
	require.NoError(t, q.Stop(context.Background()))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		assert.Equal(t, 1, job.Attempt)
		close(done)
		return nil
	}, QueueConfig{MaxRetries: 1, RetryDelay: 10 * time.Millisecond})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "x"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueueNoRetriesWhenDisabled(t *testing.T) {
	var calls int32
	handled := make(chan struct{}, 1)
	q := NewQueue("once", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		handled <- struct{}{}
		return errors.New("boom")
	}, QueueConfig{MaxRetries: 0, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	<-handled
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueEnqueueLifecycle(t *testing.T) {
	q := NewQueue("life", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "early"}))

	q.Start(context.Background())
	require.NoError(t, q.Stop(context.Background()))

	err := q.Enqueue(Job{ID: "late"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueClosed))
}

func TestQueueStopWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	q := NewQueue("graceful", func(ctx context.Context, job Job) error {
		close(started)
		<-release
		atomic.StoreInt32(&finished, 1)
		return nil
	}, QueueConfig{})
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(Job{ID: "slow"}))
	<-started

	_, running := q.Stats()
	assert.Equal(t, 1, running)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, q.Stop(ctx))

	close(release)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&finished) == 1 }, time.Second, 5*time.Millisecond)
}
