package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// claimScript atomically pops the earliest due job id from the schedule.
// KEYS[1] = scheduled zset, ARGV[1] = now (unix ms).
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then
  return false
end
redis.call('ZREM', KEYS[1], due[1])
return due[1]
`)

// RedisQueue is a Redis-backed delayed queue: a sorted set keyed by ready
// time plus one JSON blob per job. Jobs survive process restarts; execution
// is at-least-once.
type RedisQueue struct {
	client       *redis.Client
	name         string
	pollInterval time.Duration
	log          *zap.Logger
}

func NewRedisQueue(client *redis.Client, name string, pollInterval time.Duration, log *zap.Logger) *RedisQueue {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &RedisQueue{client: client, name: name, pollInterval: pollInterval, log: log}
}

func (q *RedisQueue) scheduleKey() string       { return fmt.Sprintf("queue:%s:scheduled", q.name) }
func (q *RedisQueue) jobKey(id string) string   { return fmt.Sprintf("queue:%s:job:%s", q.name, id) }
func (q *RedisQueue) nameKey(name string) string { return fmt.Sprintf("queue:%s:name:%s", q.name, name) }
func (q *RedisQueue) deadKey() string           { return fmt.Sprintf("queue:%s:dead", q.name) }

// Enqueue schedules a job to run no earlier than now + opts.Delay. The job
// name is a dedup key: a second enqueue under the same name fails with
// ErrDuplicateJob while the first is still pending.
func (q *RedisQueue) Enqueue(ctx context.Context, name string, payload any, opts Options) (*JobHandle, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:         uuid.New().String(),
		Name:       name,
		Payload:    data,
		Attempt:    1,
		Opts:       opts,
		EnqueuedAt: now,
	}

	ok, err := q.client.SetNX(ctx, q.nameKey(name), job.ID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve job name: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("job %q: %w", name, ErrDuplicateJob)
	}

	encoded, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}

	runAt := now.Add(opts.Delay)
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), encoded, 0)
	pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		// Roll back the name reservation so a retry of this enqueue can win.
		q.client.Del(ctx, q.nameKey(name))
		return nil, fmt.Errorf("schedule job: %w", err)
	}

	q.log.Debug("job enqueued",
		zap.String("queue", q.name),
		zap.String("job_name", name),
		zap.Duration("delay", opts.Delay),
	)

	return &JobHandle{ID: job.ID, Name: name, Queue: q.name, Opts: opts, EnqueuedAt: now}, nil
}

// Run polls for due jobs until ctx is cancelled. Failed jobs are rescheduled
// with the job's backoff policy until MaxAttempts, then moved to the dead
// set.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				claimed, err := q.claimDue(ctx)
				if err != nil {
					q.log.Error("claim failed", zap.Error(err))
					break
				}
				if claimed == nil {
					break
				}
				q.process(ctx, *claimed, handler)
			}
		}
	}
}

func (q *RedisQueue) claimDue(ctx context.Context) (*Job, error) {
	res, err := claimScript.Run(ctx, q.client, []string{q.scheduleKey()}, time.Now().UTC().UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := res.(string)
	if !ok {
		return nil, nil
	}

	raw, err := q.client.Get(ctx, q.jobKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) process(ctx context.Context, job Job, handler Handler) {
	err := handler(ctx, job)
	if err == nil {
		q.finish(ctx, job)
		return
	}

	if errors.Is(err, ErrPostpone) {
		q.log.Debug("job postponed", zap.String("job_name", job.Name))
		q.reschedule(ctx, job, postponeDelay)
		return
	}

	q.log.Warn("job failed",
		zap.String("job_name", job.Name),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.Opts.MaxAttempts),
		zap.Error(err),
	)

	if job.Attempt >= job.Opts.MaxAttempts {
		q.bury(ctx, job, err)
		return
	}

	retryDelay := job.Opts.RetryDelay(job.Attempt)
	job.Attempt++
	job.LastError = err.Error()
	q.reschedule(ctx, job, retryDelay)
}

// postponeDelay is how long a not-yet-runnable job waits before the next
// status check.
const postponeDelay = 30 * time.Second

func (q *RedisQueue) reschedule(ctx context.Context, job Job, delay time.Duration) {
	encoded, err := json.Marshal(job)
	if err != nil {
		q.log.Error("encode rescheduled job", zap.Error(err))
		return
	}
	runAt := time.Now().UTC().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), encoded, 0)
	pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("reschedule job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *RedisQueue) finish(ctx context.Context, job Job) {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.jobKey(job.ID))
	pipe.Del(ctx, q.nameKey(job.Name))
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("cleanup job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (q *RedisQueue) bury(ctx context.Context, job Job, cause error) {
	job.LastError = cause.Error()
	encoded, err := json.Marshal(job)
	if err != nil {
		return
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.deadKey(), encoded)
	pipe.Del(ctx, q.jobKey(job.ID))
	pipe.Del(ctx, q.nameKey(job.Name))
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("bury job", zap.String("job_id", job.ID), zap.Error(err))
	}
	q.log.Error("job permanently failed",
		zap.String("job_name", job.Name),
		zap.Int("attempts", job.Attempt),
		zap.Error(cause),
	)
}
