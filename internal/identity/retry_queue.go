package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// PendingSync is an upsert waiting to be retried.
type PendingSync struct {
	Identity Identity `json:"identity"`
	Attempts int      `json:"attempts"`
	// RequestID names the request that triggered the sync, for log correlation.
	RequestID string `json:"requestId,omitempty"`

	replay bool
}

// RetryQueue parks failed upserts until the dispatcher retries them.
// Pop reports false when the queue is empty.
type RetryQueue interface {
	Push(ctx context.Context, item PendingSync) error
	Pop(ctx context.Context) (PendingSync, bool, error)
}

// MemoryRetryQueue is a process-local FIFO RetryQueue.
type MemoryRetryQueue struct {
	mu    sync.Mutex
	items []PendingSync
}

// NewMemoryRetryQueue returns an empty queue.
func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{}
}

// Push appends item to the tail of the queue.
func (q *MemoryRetryQueue) Push(_ context.Context, item PendingSync) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

// Pop removes the oldest item.
func (q *MemoryRetryQueue) Pop(_ context.Context) (PendingSync, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingSync{}, false, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true, nil
}

// Len reports the number of parked items.
func (q *MemoryRetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// RedisRetryQueue keeps parked upserts in a Redis list so they survive restarts.
type RedisRetryQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisRetryQueue constructs a queue stored under key.
func NewRedisRetryQueue(client redis.UniversalClient, key string) *RedisRetryQueue {
	return &RedisRetryQueue{client: client, key: key}
}

// Push encodes item as JSON and appends it to the Redis list.
func (q *RedisRetryQueue) Push(ctx context.Context, item PendingSync) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal pending sync: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push pending sync: %w", err)
	}
	return nil
}

// Pop removes the oldest item from the Redis list.
func (q *RedisRetryQueue) Pop(ctx context.Context) (PendingSync, bool, error) {
	payload, err := q.client.RPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingSync{}, false, nil
		}
		return PendingSync{}, false, fmt.Errorf("pop pending sync: %w", err)
	}

	var item PendingSync
	if err := json.Unmarshal(payload, &item); err != nil {
		return PendingSync{}, false, fmt.Errorf("decode pending sync: %w", err)
	}
	return item, true, nil
}
