package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "broadcast", 10*time.Millisecond, zap.NewNop()), client
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, "broadcast:c1:batch:1", map[string]any{"batch": 1}, Options{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Strategy:    BackoffFixed,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, "broadcast:c1:batch:1", handle.Name)
	assert.Equal(t, "broadcast", handle.Queue)

	job, err := q.claimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, handle.ID, job.ID)
	assert.Equal(t, 1, job.Attempt)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, float64(1), payload["batch"])

	// Nothing else is due.
	next, err := q.claimDue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestEnqueueDelayedJobNotDue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "broadcast:c1:batch:2", nil, Options{
		Delay:       time.Hour,
		MaxAttempts: 1,
	})
	require.NoError(t, err)

	job, err := q.claimDue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "job delayed by an hour must not be claimable now")
}

func TestEnqueueDuplicateName(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "broadcast:c1:batch:1", nil, Options{MaxAttempts: 1})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "broadcast:c1:batch:1", nil, Options{MaxAttempts: 1})
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestProcessRetriesThenBuries(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "broadcast:c1:batch:1", nil, Options{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		Strategy:    BackoffFixed,
	})
	require.NoError(t, err)

	boom := errors.New("send failed")
	fail := func(ctx context.Context, job Job) error { return boom }

	// Attempt 1 fails -> rescheduled.
	job, err := q.claimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	q.process(ctx, *job, fail)

	time.Sleep(5 * time.Millisecond)
	job, err = q.claimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job, "failed job must be rescheduled")
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, "send failed", job.LastError)

	// Attempt 2 fails -> buried in the dead set, name released.
	q.process(ctx, *job, fail)

	dead, err := client.LLen(ctx, "queue:broadcast:dead").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	_, err = q.Enqueue(ctx, "broadcast:c1:batch:1", nil, Options{MaxAttempts: 1})
	assert.NoError(t, err, "name must be reusable after burial")
}

func TestProcessSuccessReleasesName(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "broadcast:c2:batch:1", nil, Options{MaxAttempts: 1})
	require.NoError(t, err)

	job, err := q.claimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	q.process(ctx, *job, func(ctx context.Context, job Job) error { return nil })

	_, err = q.Enqueue(ctx, "broadcast:c2:batch:1", nil, Options{MaxAttempts: 1})
	assert.NoError(t, err)
}

func TestOptionsRetryDelay(t *testing.T) {
	fixed := Options{Backoff: time.Second, Strategy: BackoffFixed}
	assert.Equal(t, time.Second, fixed.RetryDelay(1))
	assert.Equal(t, time.Second, fixed.RetryDelay(4))

	exp := Options{Backoff: time.Second, Strategy: BackoffExponential}
	assert.Equal(t, time.Second, exp.RetryDelay(1))
	assert.Equal(t, 2*time.Second, exp.RetryDelay(2))
	assert.Equal(t, 4*time.Second, exp.RetryDelay(3))
}

func TestProcessPostponeKeepsAttempt(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "broadcast:c3:batch:1", nil, Options{MaxAttempts: 1})
	require.NoError(t, err)

	job, err := q.claimDue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	// Postponed jobs are rescheduled without consuming the single attempt.
	q.process(ctx, *job, func(ctx context.Context, job Job) error {
		return fmt.Errorf("campaign paused: %w", ErrPostpone)
	})

	dead, err := client.LLen(ctx, "queue:broadcast:dead").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), dead)

	raw, err := client.Get(ctx, "queue:broadcast:job:"+job.ID).Result()
	require.NoError(t, err)
	var rescheduled Job
	require.NoError(t, json.Unmarshal([]byte(raw), &rescheduled))
	assert.Equal(t, 1, rescheduled.Attempt)
}
