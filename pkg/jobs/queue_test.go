package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 2)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		done <- job.ID
		return nil
	}, Config{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.Enqueue(Job{ID: "b"}))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.True(t, got["a"] && got["b"])
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	var calls int32
	exhausted := make(chan Job, 1)
	q := NewQueue("retry", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, Config{MaxRetries: 1, Backoff: 10 * time.Millisecond, OnExhausted: func(j Job, _ error) { exhausted <- j }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	select {
	case job := <-exhausted:
		assert.Equal(t, "x", job.ID)
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never exhausted")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueueRecoversPanics(t *testing.T) {
	exhausted := make(chan error, 1)
	q := NewQueue("panic", func(context.Context, Job) error {
		panic("bad row")
	}, Config{OnExhausted: func(_ Job, err error) { exhausted <- err }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "p"}))
	select {
	case err := <-exhausted:
		assert.Contains(t, err.Error(), "bad row")
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}
}

func TestQueueRejectsWhenStopped(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, Config{})
	assert.ErrorIs(t, q.Enqueue(Job{ID: "a"}), ErrNotRunning)
}

func TestQueueRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, _ Job) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}, Config{Workers: 1, Buffer: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	require.Eventually(t, func() bool { return q.Depth() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "2"}))
	assert.ErrorIs(t, q.Enqueue(Job{ID: "3"}), ErrQueueFull)
}
