package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueuePrefix = "queue:trips:"

// KEYS[1] job hash, KEYS[2] wait list. Returns 0 when the id is retained.
const submitLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'kind', ARGV[2], 'payload', ARGV[3], 'state', 'waiting',
  'attempts_made', 0, 'max_attempts', ARGV[4], 'backoff_ms', ARGV[5],
  'progress', 0, 'created_at', ARGV[6], 'updated_at', ARGV[6])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`

// KEYS[1] wait list, KEYS[2] delayed zset, KEYS[3] active zset. ARGV[1] now
// ms, ARGV[2] job key prefix, ARGV[3] lease ms, ARGV[4] retention ms, ARGV[5]
// stalled error. Takes back expired leases, promotes due delayed jobs, then
// claims the first waiting job on the wait list.
const reserveLua = `
local now = tonumber(ARGV[1])
local stalled = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now)
for _, id in ipairs(stalled) do
  redis.call('ZREM', KEYS[3], id)
  local key = ARGV[2] .. id
  if redis.call('HGET', key, 'state') == 'active' then
    local made = tonumber(redis.call('HGET', key, 'attempts_made'))
    local max = tonumber(redis.call('HGET', key, 'max_attempts'))
    if made < max then
      redis.call('HSET', key, 'state', 'waiting', 'error', ARGV[5], 'lease_until', 0, 'updated_at', ARGV[1])
      redis.call('RPUSH', KEYS[1], id)
    else
      redis.call('HSET', key, 'state', 'failed', 'error', ARGV[5], 'lease_until', 0, 'updated_at', ARGV[1])
      if tonumber(ARGV[4]) > 0 then
        redis.call('PEXPIRE', key, ARGV[4])
      end
    end
  end
end
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  local key = ARGV[2] .. id
  if redis.call('HGET', key, 'state') == 'delayed' then
    redis.call('HSET', key, 'state', 'waiting')
    redis.call('RPUSH', KEYS[1], id)
  end
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return false
  end
  local key = ARGV[2] .. id
  if redis.call('HGET', key, 'state') == 'waiting' then
    local lease = string.format('%.0f', now + tonumber(ARGV[3]))
    redis.call('HINCRBY', key, 'attempts_made', 1)
    redis.call('HSET', key, 'state', 'active', 'updated_at', ARGV[1], 'run_at', 0, 'lease_until', lease)
    redis.call('ZADD', KEYS[3], lease, id)
    return id
  end
end
`

// KEYS[1] job hash, KEYS[2] active zset. ARGV[1] id, ARGV[2] lease deadline
// ms. Renews the lease only while the job is still active.
const renewLua = `
if redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
  redis.call('HSET', KEYS[1], 'lease_until', ARGV[2])
end
return 1
`

// RedisBacklog keeps jobs in Redis hashes. Ready ids live in a list and
// retries wait in a sorted set scored by their due time.
type RedisBacklog struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
	lease     time.Duration
	clock     func() time.Time
	submit    *redis.Script
	reserve   *redis.Script
	renew     *redis.Script
}

// NewRedisBacklog constructs a backlog under prefix. Terminal jobs expire
// after retention.
func NewRedisBacklog(client redis.Cmdable, prefix string, retention time.Duration) *RedisBacklog {
	if prefix == "" {
		prefix = defaultQueuePrefix
	}
	return &RedisBacklog{
		client:    client,
		prefix:    prefix,
		retention: retention,
		lease:     DefaultLease,
		clock:     time.Now,
		submit:    redis.NewScript(submitLua),
		reserve:   redis.NewScript(reserveLua),
		renew:     redis.NewScript(renewLua),
	}
}

// WithLease sets how long a reserved job may go without progress.
func (r *RedisBacklog) WithLease(lease time.Duration) *RedisBacklog {
	if lease > 0 {
		r.lease = lease
	}
	return r
}

// WithClock replaces the time source used for due times, for tests.
func (r *RedisBacklog) WithClock(clock func() time.Time) *RedisBacklog {
	r.clock = clock
	return r
}

func (r *RedisBacklog) jobKey(id string) string { return r.prefix + "job:" + id }
func (r *RedisBacklog) waitKey() string         { return r.prefix + "wait" }
func (r *RedisBacklog) delayedKey() string      { return r.prefix + "delayed" }
func (r *RedisBacklog) activeKey() string       { return r.prefix + "active" }

func (r *RedisBacklog) Submit(ctx context.Context, kind Kind, payload json.RawMessage, opts Options) (string, error) {
	if opts.ID == "" {
		return "", errJobIDRequired
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	err := r.submit.Run(ctx, r.client, []string{r.jobKey(opts.ID), r.waitKey()},
		opts.ID, string(kind), string(payload), maxAttempts, opts.Backoff.Delay.Milliseconds(), r.clock().UnixMilli()).Err()
	if err != nil {
		return "", fmt.Errorf("redis submit: %w", err)
	}
	return opts.ID, nil
}

func (r *RedisBacklog) Reserve(ctx context.Context) (*Job, error) {
	id, err := r.reserve.Run(ctx, r.client, []string{r.waitKey(), r.delayedKey(), r.activeKey()},
		r.clock().UnixMilli(), r.prefix+"job:", r.lease.Milliseconds(), r.retention.Milliseconds(), errLeaseExpired.Error()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis reserve: %w", err)
	}
	job, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *RedisBacklog) Progress(ctx context.Context, id string, pct int) error {
	now := r.clock()
	if err := r.update(ctx, id, map[string]any{"progress": pct, "updated_at": now.UnixMilli()}); err != nil {
		return err
	}
	if err := r.renew.Run(ctx, r.client, []string{r.jobKey(id), r.activeKey()}, id, now.Add(r.lease).UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis renew lease: %w", err)
	}
	return nil
}

func (r *RedisBacklog) Complete(ctx context.Context, id string, result json.RawMessage) error {
	if err := r.update(ctx, id, map[string]any{
		"state":       string(StateCompleted),
		"result":      string(result),
		"error":       "",
		"lease_until": 0,
		"updated_at":  r.clock().UnixMilli(),
	}); err != nil {
		return err
	}
	if err := r.client.ZRem(ctx, r.activeKey(), id).Err(); err != nil {
		return fmt.Errorf("redis release lease: %w", err)
	}
	return r.expire(ctx, id)
}

func (r *RedisBacklog) Fail(ctx context.Context, id string, cause error, retry bool) (Job, error) {
	job, err := r.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	now := r.clock()
	job.State, job.RunAt = failedState(job, retry, now)
	if cause != nil {
		job.Error = cause.Error()
	}
	job.UpdatedAt = now

	job.LeaseUntil = time.Time{}

	fields := map[string]any{
		"state":       string(job.State),
		"error":       job.Error,
		"updated_at":  now.UnixMilli(),
		"run_at":      unixMilli(job.RunAt),
		"lease_until": 0,
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.jobKey(id), fields)
		pipe.ZRem(ctx, r.activeKey(), id)
		if job.State == StateDelayed {
			pipe.ZAdd(ctx, r.delayedKey(), redis.Z{Score: float64(job.RunAt.UnixMilli()), Member: id})
		} else if r.retention > 0 {
			pipe.Expire(ctx, r.jobKey(id), r.retention)
		}
		return nil
	})
	if err != nil {
		return Job{}, fmt.Errorf("redis fail job: %w", err)
	}
	return job, nil
}

func (r *RedisBacklog) Get(ctx context.Context, id string) (Job, error) {
	fields, err := r.client.HGetAll(ctx, r.jobKey(id)).Result()
	if err != nil {
		return Job{}, fmt.Errorf("redis get job: %w", err)
	}
	if len(fields) == 0 {
		return Job{}, ErrJobNotFound
	}
	return decodeJob(fields)
}

func (r *RedisBacklog) update(ctx context.Context, id string, fields map[string]any) error {
	n, err := r.client.Exists(ctx, r.jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis update job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	if err := r.client.HSet(ctx, r.jobKey(id), fields).Err(); err != nil {
		return fmt.Errorf("redis update job: %w", err)
	}
	return nil
}

func (r *RedisBacklog) expire(ctx context.Context, id string) error {
	if r.retention <= 0 {
		return nil
	}
	if err := r.client.Expire(ctx, r.jobKey(id), r.retention).Err(); err != nil {
		return fmt.Errorf("redis expire job: %w", err)
	}
	return nil
}

func decodeJob(f map[string]string) (Job, error) {
	job := Job{
		ID:      f["id"],
		Kind:    Kind(f["kind"]),
		Payload: json.RawMessage(f["payload"]),
		State:   State(f["state"]),
		Error:   f["error"],
	}
	if res := f["result"]; res != "" {
		job.Result = json.RawMessage(res)
	}
	var n [8]int64
	for i, name := range []string{"attempts_made", "max_attempts", "backoff_ms", "progress", "created_at", "updated_at", "run_at", "lease_until"} {
		raw := f[name]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Job{}, fmt.Errorf("decode job %s field %s: %w", job.ID, name, err)
		}
		n[i] = v
	}
	job.AttemptsMade = int(n[0])
	job.MaxAttempts = int(n[1])
	job.Backoff = time.Duration(n[2]) * time.Millisecond
	job.Progress = int(n[3])
	job.CreatedAt = time.UnixMilli(n[4])
	job.UpdatedAt = time.UnixMilli(n[5])
	if n[6] > 0 {
		job.RunAt = time.UnixMilli(n[6])
	}
	if n[7] > 0 {
		job.LeaseUntil = time.UnixMilli(n[7])
	}
	return job, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
