package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLease is how long a task claimed by Due stays hidden from other pollers before
// it becomes due again.
const DefaultLease = 30 * time.Second

// claimDue atomically picks due members and pushes their score past the lease, returning
// their payloads.
var claimDue = redis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #keys == 0 then
	return {}
end
for _, k in ipairs(keys) do
	redis.call('ZADD', KEYS[1], 'XX', ARGV[3], k)
end
return redis.call('HMGET', KEYS[2], unpack(keys))
`)

// RedisBackend persists tasks in a sorted set scored by deadline (unix millis), with a
// payload hash and a per-race index for cancellation.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
	lease  time.Duration
}

// NewRedisBackend stores tasks under keys starting with prefix (e.g. "race_tasks").
func NewRedisBackend(rdb redis.UniversalClient, prefix string, lease time.Duration) *RedisBackend {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &RedisBackend{rdb: rdb, prefix: prefix, lease: lease}
}

func (b *RedisBackend) queueKey() string   { return b.prefix }
func (b *RedisBackend) payloadKey() string { return b.prefix + ":payload" }
func (b *RedisBackend) raceKey(raceID uuid.UUID) string {
	return b.prefix + ":race:" + raceID.String()
}

func (b *RedisBackend) Schedule(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal task %s: %w", t.Key(), err)
			}
			key := t.Key()
			pipe.ZAddNX(ctx, b.queueKey(), redis.Z{Score: float64(t.At.UnixMilli()), Member: key})
			pipe.HSetNX(ctx, b.payloadKey(), key, data)
			pipe.SAdd(ctx, b.raceKey(t.RaceID), key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule %d tasks: %w", len(tasks), err)
	}
	return nil
}

func (b *RedisBackend) Due(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := claimDue.Run(ctx, b.rdb,
		[]string{b.queueKey(), b.payloadKey()},
		now.UnixMilli(), limit, now.Add(b.lease).UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	tasks := make([]Task, 0, len(res))
	for _, raw := range res {
		payload, ok := raw.(string)
		if !ok {
			// payload already acked by another poller
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decode task payload: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (b *RedisBackend) Ack(ctx context.Context, t Task) error {
	key := t.Key()
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, b.queueKey(), key)
		pipe.HDel(ctx, b.payloadKey(), key)
		pipe.SRem(ctx, b.raceKey(t.RaceID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack task %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) CancelRace(ctx context.Context, raceID uuid.UUID) error {
	keys, err := b.rdb.SMembers(ctx, b.raceKey(raceID)).Result()
	if err != nil {
		return fmt.Errorf("list tasks for race %s: %w", raceID, err)
	}
	_, err = b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			members := make([]interface{}, len(keys))
			for i, k := range keys {
				members[i] = k
			}
			pipe.ZRem(ctx, b.queueKey(), members...)
			pipe.HDel(ctx, b.payloadKey(), keys...)
		}
		pipe.Del(ctx, b.raceKey(raceID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel tasks for race %s: %w", raceID, err)
	}
	return nil
}
