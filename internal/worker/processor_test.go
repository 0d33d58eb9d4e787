package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cisco7507/align-audio/internal/logging"
	"github.com/cisco7507/align-audio/internal/orchestrator"
	"github.com/cisco7507/align-audio/internal/queue"
	"github.com/cisco7507/align-audio/internal/store"
)

type fakeJobs struct {
	mu         sync.Mutex
	ran        []string
	recovered  []string
	run        func(ctx context.Context, id string) error
	recoverErr error
}

func (j *fakeJobs) Run(ctx context.Context, id string) error {
	j.mu.Lock()
	j.ran = append(j.ran, id)
	run := j.run
	j.mu.Unlock()
	if run != nil {
		return run(ctx, id)
	}
	return nil
}

func (j *fakeJobs) Recover(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recovered = append(j.recovered, id)
	return j.recoverErr
}

func (j *fakeJobs) ranIDs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ran...)
}

// countingQueue records lease renewals.
type countingQueue struct {
	*queue.RedisQueue
	extends atomic.Int32
}

func (q *countingQueue) ExtendLease(ctx context.Context, id string, d time.Duration) error {
	q.extends.Add(1)
	return q.RedisQueue.ExtendLease(ctx, id, d)
}

func newQueue(t *testing.T) *countingQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &countingQueue{RedisQueue: queue.NewRedisQueueWithClient(client, "test", time.Minute)}
}

func newProcessor(q Queue, jobs Jobs, concurrency int) *Processor {
	return NewProcessor(Options{
		Queue:        q,
		Jobs:         jobs,
		Concurrency:  concurrency,
		PollInterval: 5 * time.Millisecond,
		Lease:        time.Minute,
		Logger:       logging.Discard(),
	})
}

// runUntil runs the processor until cond holds, then shuts it down.
func runUntil(t *testing.T, p *Processor, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func inFlight(t *testing.T, q *countingQueue) int64 {
	t.Helper()
	n, err := q.InFlight(context.Background())
	require.NoError(t, err)
	return n
}

func TestProcessorRunsAndAcksJobs(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	jobs := &fakeJobs{}
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	p := newProcessor(q, jobs, 1)
	runUntil(t, p, func() bool { return len(jobs.ranIDs()) == 3 && inFlight(t, q) == 0 })

	assert.Equal(t, []string{"a", "b", "c"}, jobs.ranIDs())
}

func TestProcessorAcksStaleDeliveries(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	jobs := &fakeJobs{run: func(_ context.Context, id string) error {
		if id == "gone" {
			return store.ErrNotFound
		}
		return orchestrator.ErrInvalidTransition
	}}
	require.NoError(t, q.Enqueue(ctx, "done"))
	require.NoError(t, q.Enqueue(ctx, "gone"))

	p := newProcessor(q, jobs, 2)
	runUntil(t, p, func() bool { return len(jobs.ranIDs()) == 2 && inFlight(t, q) == 0 })
}

func TestProcessorLeavesLeaseOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	jobs := &fakeJobs{run: func(context.Context, string) error { return errors.New("db down") }}
	require.NoError(t, q.Enqueue(ctx, "job"))

	p := newProcessor(q, jobs, 1)
	runUntil(t, p, func() bool { return len(jobs.ranIDs()) == 1 })
	assert.EqualValues(t, 1, inFlight(t, q))
}

func TestProcessorShutdownLeavesJobLeased(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	started := make(chan struct{})
	jobs := &fakeJobs{run: func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, q.Enqueue(ctx, "job"))

	p := newProcessor(q, jobs, 1)
	runUntil(t, p, func() bool {
		select {
		case <-started:
			return true
		default:
			return false
		}
	})
	assert.EqualValues(t, 1, inFlight(t, q))
}

func TestProcessorBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	var running, peak atomic.Int32
	jobs := &fakeJobs{run: func(context.Context, string) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	}}
	for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	p := newProcessor(q, jobs, 2)
	runUntil(t, p, func() bool { return len(jobs.ranIDs()) == 6 && inFlight(t, q) == 0 })
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestProcessorRenewsLeaseWhileRunning(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	jobs := &fakeJobs{run: func(context.Context, string) error {
		time.Sleep(60 * time.Millisecond)
		return nil
	}}
	require.NoError(t, q.Enqueue(ctx, "slow"))

	p := NewProcessor(Options{
		Queue:        q,
		Jobs:         jobs,
		PollInterval: 5 * time.Millisecond,
		Lease:        time.Minute,
		Heartbeat:    10 * time.Millisecond,
		Logger:       logging.Discard(),
	})
	runUntil(t, p, func() bool { return len(jobs.ranIDs()) == 1 && inFlight(t, q) == 0 })
	assert.GreaterOrEqual(t, q.extends.Load(), int32(1))
}

func TestReclaimRecoversExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	require.NoError(t, q.Enqueue(ctx, "crashed"))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "crashed", id)

	jobs := &fakeJobs{}
	p := newProcessor(q, jobs, 1)
	p.now = func() time.Time { return time.Now().Add(time.Hour) }
	p.reclaim(ctx)

	assert.Equal(t, []string{"crashed"}, jobs.recovered)
	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
	assert.Zero(t, inFlight(t, q))

	// A reclaimed id whose job is no longer running is still redelivered.
	require.NoError(t, q.Ack(ctx, "crashed"))
	jobs.recoverErr = orchestrator.ErrInvalidTransition
	_, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	p.reclaim(ctx)
	assert.Len(t, jobs.recovered, 2)
}
