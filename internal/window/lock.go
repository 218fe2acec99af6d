package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker serializes compaction attempts for a conversation. Acquire
// reports false when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context, convID string) (bool, error)
	Release(ctx context.Context, convID string)
}

// RedisLock is a per-conversation advisory lock built on SET NX with a
// TTL. The TTL bounds how long a crashed worker can block compaction;
// correctness does not depend on the lock because the storage layer
// enforces the one-compact-per-boundary constraint.
type RedisLock struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLock connects to Redis and verifies the connection.
func NewRedisLock(addr, password string, db int, ttl time.Duration) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLock{
		client: client,
		ttl:    ttl,
		tokens: make(map[string]string),
	}, nil
}

func lockKey(convID string) string {
	return "aria:compact-lock:" + convID
}

// Acquire attempts to take the lock for a conversation.
func (l *RedisLock) Acquire(ctx context.Context, convID string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(convID), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[convID] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// releaseScript deletes the lock only when the stored token matches, so
// a worker that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// Release drops the lock if this instance still holds it.
func (l *RedisLock) Release(ctx context.Context, convID string) {
	l.mu.Lock()
	token, ok := l.tokens[convID]
	delete(l.tokens, convID)
	l.mu.Unlock()
	if !ok {
		return
	}
	releaseScript.Run(ctx, l.client, []string{lockKey(convID)}, token)
}

// Close closes the Redis connection.
func (l *RedisLock) Close() error {
	return l.client.Close()
}

// NopLocker always grants the lock. Used when Redis is not configured;
// the storage constraint still prevents duplicate compacts.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, convID string) (bool, error) { return true, nil }
func (NopLocker) Release(ctx context.Context, convID string)               {}
