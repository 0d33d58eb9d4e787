package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueueWithClient(client, "test", visibility)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, inflight)

	require.NoError(t, q.Ack(ctx, id))
	inflight, err = q.InFlight(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, inflight)
}

func TestDequeueEmpty(t *testing.T) {
	q := newTestQueue(t, time.Minute)
	id, err := q.DequeueWithLease(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRequeueExpired(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Second)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	reclaimed, err := q.RequeueExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "lease still valid")

	reclaimed, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, reclaimed)

	again, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", again)
}

func TestExtendLeaseKeepsJobLeased(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Second)

	require.NoError(t, q.Enqueue(ctx, "job-1"))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NoError(t, q.ExtendLease(ctx, "job-1", time.Hour))

	reclaimed, err := q.RequeueExpired(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	// Extending an acked job must not resurrect it.
	require.NoError(t, q.Ack(ctx, "job-1"))
	require.NoError(t, q.ExtendLease(ctx, "job-1", time.Hour))
	inflight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, inflight)
}
