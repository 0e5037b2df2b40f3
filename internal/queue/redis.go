package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on top of a Redis list pair: jobs wait in
// streamKey and are moved into a per-reservation processing key on
// Reserve, following the reliable-queue pattern (BRPopLPush + a
// companion processing record keyed by reservation handle) rather than
// Redis Streams, so a single go-redis/v9 client covers both enqueue and
// reserve/ack without consumer-group bookkeeping.
type RedisQueue struct {
	client        *redis.Client
	streamKey     string
	processingKey string
	delayedKey    string // sorted set: score = ready-at unix nanos
	deadLetterKey string
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client, streamKey, deadLetterKey string) *RedisQueue {
	return &RedisQueue{
		client:        client,
		streamKey:     streamKey,
		processingKey: streamKey + ":processing",
		delayedKey:    streamKey + ":delayed",
		deadLetterKey: deadLetterKey,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := q.client.LPush(ctx, q.streamKey, data).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

// Reserve promotes any delayed messages whose ready-at has passed, then
// blocks on the main queue.
func (q *RedisQueue) Reserve(ctx context.Context) (Message, string, error) {
	if err := q.promoteDelayed(ctx); err != nil {
		return Message{}, "", err
	}

	data, err := q.client.BRPopLPush(ctx, q.streamKey, q.processingKey, 5*time.Second).Result()
	if err == redis.Nil {
		return Message{}, "", ErrEmpty
	}
	if err != nil {
		return Message{}, "", fmt.Errorf("queue: brpoplpush: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return Message{}, "", fmt.Errorf("queue: unmarshal message: %w", err)
	}

	handle := uuid.NewString()
	if err := q.client.HSet(ctx, q.processingKey+":"+handle, "payload", data).Err(); err != nil {
		return Message{}, "", fmt.Errorf("queue: record reservation: %w", err)
	}
	return msg, handle, nil
}

func (q *RedisQueue) Ack(ctx context.Context, handle string) error {
	payload, err := q.client.HGet(ctx, q.processingKey+":"+handle, "payload").Result()
	if err == redis.Nil {
		return nil // already acked or expired
	}
	if err != nil {
		return fmt.Errorf("queue: ack lookup: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, payload)
	pipe.Del(ctx, q.processingKey+":"+handle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, handle string, msg Message, delay time.Duration, deadLetter bool, reason string) error {
	payload, err := q.client.HGet(ctx, q.processingKey+":"+handle, "payload").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("queue: nack lookup: %w", err)
	}

	pipe := q.client.TxPipeline()
	if payload != "" {
		pipe.LRem(ctx, q.processingKey, 1, payload)
	}
	pipe.Del(ctx, q.processingKey+":"+handle)

	if deadLetter {
		entry := DeadLetterEntry{Message: msg, Reason: reason, At: time.Now().UTC()}
		data, merr := json.Marshal(entry)
		if merr != nil {
			return fmt.Errorf("queue: marshal dead-letter entry: %w", merr)
		}
		pipe.LPush(ctx, q.deadLetterKey, data)
	} else {
		data, merr := json.Marshal(msg)
		if merr != nil {
			return fmt.Errorf("queue: marshal retry message: %w", merr)
		}
		readyAt := float64(time.Now().Add(delay).UnixNano())
		pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: readyAt, Member: data})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.streamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: llen: %w", err)
	}
	return n, nil
}

// promoteDelayed moves every delayed message whose ready-at has passed
// back onto the main queue, implementing the exponential-backoff NACK
// schedule of spec.md §4.6 without a separate timer goroutine: each
// Reserve call pays the (cheap) cost of checking for due messages.
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	now := float64(time.Now().UnixNano())
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%f", now)}).Result()
	if err != nil {
		return fmt.Errorf("queue: scan delayed: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := q.client.TxPipeline()
	for _, payload := range due {
		pipe.LPush(ctx, q.streamKey, payload)
		pipe.ZRem(ctx, q.delayedKey, payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}
