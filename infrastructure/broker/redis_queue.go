package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

const (
	defaultVisibility = 10 * time.Minute
	// promoteBatch caps how many delayed/expired jobs one claim call moves
	// back to ready, keeping the script bounded under backlog.
	promoteBatch = 128
)

// promoteScript moves due delayed jobs and expired leases back onto the ready
// list. KEYS: delayed zset, processing zset, ready list. ARGV: now (ms), batch.
var promoteScript = redis.NewScript(`
local moved = 0
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[3], id)
  moved = moved + 1
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[3], id)
  moved = moved + 1
end
return moved
`)

// claimScript pops one ready job and records its visibility deadline in the
// processing zset. KEYS: ready list, processing zset. ARGV: deadline (ms).
var claimScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// nackScript releases a lease back to the queue. Returns 0 when the lease was
// already reaped. KEYS: processing zset, delayed zset, ready list.
// ARGV: handle, ready-at (ms), delayed flag.
var nackScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
if tonumber(ARGV[3]) == 1 then
  redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
else
  redis.call('LPUSH', KEYS[3], ARGV[1])
end
return 1
`)

// RedisQueue is an at-least-once job broker on Redis. Ready jobs live on a
// list, delayed jobs and leases on zsets scored by their ready-at/deadline
// instants, payloads in per-job hashes.
type RedisQueue struct {
	client      *redis.Client
	dedupWindow time.Duration
}

func NewRedisQueue(client *redis.Client, dedupWindow time.Duration) repository.IJobQueue {
	if dedupWindow <= 0 {
		dedupWindow = 24 * time.Hour
	}
	return &RedisQueue{client: client, dedupWindow: dedupWindow}
}

func readyKey(queue string) string      { return queue + ":ready" }
func delayedKey(queue string) string    { return queue + ":delayed" }
func processingKey(queue string) string { return queue + ":processing" }
func jobKey(queue, id string) string    { return queue + ":job:" + id }
func dedupKey(queue, key string) string { return queue + ":dedup:" + key }

func (q *RedisQueue) Enqueue(ctx context.Context, queue string, payload []byte, opts repository.EnqueueOptions) error {
	if queue == "" {
		return model.NewError(model.KindValidation, "queue name is required")
	}
	if len(payload) == 0 {
		return model.NewError(model.KindValidation, "job payload is empty")
	}
	if opts.DedupKey != "" {
		fresh, err := q.client.SetNX(ctx, dedupKey(queue, opts.DedupKey), "1", q.dedupWindow).Result()
		if err != nil {
			return model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
		}
		if !fresh {
			logger.GetLogger().WithFields(log.Fields{"queue": queue, "dedupKey": opts.DedupKey}).
				Debug("Duplicate job suppressed")
			return nil
		}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, jobKey(queue, id), "payload", payload, "enqueued_at", now.UnixMilli())
		if opts.Delay > 0 {
			p.ZAdd(ctx, delayedKey(queue), redis.Z{
				Score:  float64(now.Add(opts.Delay).UnixMilli()),
				Member: id,
			})
		} else {
			p.LPush(ctx, readyKey(queue), id)
		}
		return nil
	})
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, queue string, visibility time.Duration) (*repository.ClaimedJob, error) {
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	now := time.Now().UTC()

	// Reap first so due delayed jobs and expired leases are claimable in the
	// same call.
	err := promoteScript.Run(ctx, q.client,
		[]string{delayedKey(queue), processingKey(queue), readyKey(queue)},
		now.UnixMilli(), promoteBatch).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
	}

	id, err := claimScript.Run(ctx, q.client,
		[]string{readyKey(queue), processingKey(queue)},
		now.Add(visibility).UnixMilli()).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
	}

	payload, err := q.client.HGet(ctx, jobKey(queue, id), "payload").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Payload gone; drop the orphaned lease rather than redeliver an
			// empty job.
			_ = q.client.ZRem(ctx, processingKey(queue), id).Err()
			logger.GetLogger().WithFields(log.Fields{"queue": queue, "job": id}).
				Warn("Claimed job had no payload; lease dropped")
			return nil, nil
		}
		return nil, model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
	}

	return &repository.ClaimedJob{Handle: id, Payload: payload}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, queue string, handle string) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, processingKey(queue), handle)
		p.Del(ctx, jobKey(queue, handle))
		return nil
	})
	if err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, queue string, handle string, delay time.Duration) error {
	delayed := "0"
	if delay > 0 {
		delayed = "1"
	}
	released, err := nackScript.Run(ctx, q.client,
		[]string{processingKey(queue), delayedKey(queue), readyKey(queue)},
		handle, time.Now().UTC().Add(delay).UnixMilli(), delayed).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.WrapError(model.KindStorageUnavailable, err, "job broker unavailable")
	}
	if released == 0 {
		// Lease already expired and the reaper requeued it; nothing to do.
		logger.GetLogger().WithFields(log.Fields{"queue": queue, "job": handle}).
			Debug("Nack on expired lease ignored")
	}
	return nil
}
