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
	done := make(chan string, 2)
	q := NewQueue("receipts", func(_ context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "RCPT-1", Type: "receipt"}))
	require.NoError(t, q.Enqueue(Job{ID: "RCPT-2", Type: "receipt"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.True(t, seen["RCPT-1"])
	assert.True(t, seen["RCPT-2"])
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var calls int32
	done := make(chan struct{})
	q := NewQueue("receipts", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("render failed")
		}
		close(done)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "RCPT-1"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueEnqueueRequiresStart(t *testing.T) {
	q := NewQueue("receipts", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "RCPT-1"})
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueueEnqueueDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("receipts", func(context.Context, Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(release)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "busy"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "buffered"}))
	assert.ErrorIs(t, q.Enqueue(Job{ID: "overflow"}), ErrQueueFull)
	assert.Equal(t, 1, q.Pending())
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveJob(queue, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, queue+":"+outcome)
}

func (o *recordingObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func TestQueueDeadLettersAfterMaxRetries(t *testing.T) {
	observer := &recordingObserver{}
	dead := make(chan Job, 1)
	q := NewQueue("receipts", func(context.Context, Job) error {
		return errors.New("storage offline")
	}, QueueConfig{
		Workers:      1,
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
		Observer:     observer,
		OnDeadLetter: func(job Job, _ error) { dead <- job },
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "RCPT-9", Type: "receipt"}))
	select {
	case job := <-dead:
		assert.Equal(t, "RCPT-9", job.ID)
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the dead letter hook")
	}
	assert.Equal(t, []string{"receipts:retried", "receipts:retried", "receipts:dead_letter"}, observer.snapshot())
}

func TestQueueBackoffDoublesUpToCap(t *testing.T) {
	q := NewQueue("receipts", nil, QueueConfig{RetryDelay: 100 * time.Millisecond, MaxRetryDelay: 350 * time.Millisecond})
	assert.Equal(t, 100*time.Millisecond, q.backoff(1))
	assert.Equal(t, 200*time.Millisecond, q.backoff(2))
	assert.Equal(t, 350*time.Millisecond, q.backoff(3))
	assert.Equal(t, 350*time.Millisecond, q.backoff(8))
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	var processed int32
	q := NewQueue("receipts", func(context.Context, Job) error {
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&processed, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8, DrainTimeout: time.Second})
	q.Start(context.Background())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "RCPT"}))
	}
	q.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&processed), int32(3))
	assert.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueStopped)
}
