package cacher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockSuffix      = ":lock"
	defaultLockTTL  = 30 * time.Second
	minWaitInterval = 10 * time.Millisecond
	maxWaitInterval = 500 * time.Millisecond
)

const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

const extendLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`

// RedisCacher is a Cacher stored in Redis under a key namespace. Values are
// JSON encoded. A miss takes a per-key lock with SETNX so only one process
// fetches; the others poll until the value shows up.
type RedisCacher[T any] struct {
	client    redis.UniversalClient
	namespace string
	lockTTL   time.Duration
}

// NewRedisCacher creates a Redis-backed cache. All keys are stored as
// namespace + ":" + key, and Clear and ItemCount only touch that namespace.
//
// Parameters:
//   - client: The Redis client
//   - namespace: Key prefix, e.g. "lobby:cache:player"
//
// Returns:
//   - A new RedisCacher
func NewRedisCacher[T any](client redis.UniversalClient, namespace string) *RedisCacher[T] {
	return &RedisCacher[T]{
		client:    client,
		namespace: namespace,
		lockTTL:   defaultLockTTL,
	}
}

func (c *RedisCacher[T]) key(k string) string {
	return c.namespace + ":" + k
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var result T

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return result, false, nil
	}
	if err != nil {
		return result, false, fmt.Errorf("cacher: redis get: %w", err)
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return result, false, fmt.Errorf("cacher: decode cached value: %w", err)
	}

	return result, true, nil
}

// GetOrFetch implements Cacher.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	fullKey := c.key(key)

	if val, found, err := c.get(ctx, fullKey); err != nil || found {
		return val, err
	}

	lockKey := fullKey + lockSuffix
	token, err := lockToken()
	if err != nil {
		return zero, err
	}

	acquired, err := c.client.SetNX(ctx, lockKey, token, c.lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("cacher: acquire lock: %w", err)
	}

	if !acquired {
		return c.waitForCache(ctx, fullKey, lockKey, c.lockTTL)
	}

	defer c.client.Eval(context.Background(), releaseLockScript, []string{lockKey}, token)

	extendCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.extendLock(extendCtx, lockKey, token)

	result, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("cacher: encode value: %w", err)
	}

	if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("cacher: store value: %w", err)
	}

	return result, nil
}

// extendLock refreshes the lock every third of its TTL while a slow fetch
// runs. Only the owner's token can extend it.
func (c *RedisCacher[T]) extendLock(ctx context.Context, lockKey, token string) {
	ticker := time.NewTicker(c.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.client.Eval(ctx, extendLockScript, []string{lockKey}, token, c.lockTTL.Milliseconds())
		}
	}
}

// waitForCache polls with exponential backoff until the lock holder stores
// the value, drops the lock, or timeout passes.
func (c *RedisCacher[T]) waitForCache(ctx context.Context, key, lockKey string, timeout time.Duration) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)
	backoff := minWaitInterval

	for {
		if val, found, err := c.get(ctx, key); err != nil || found {
			return val, err
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("cacher: check lock: %w", err)
		}

		if exists == 0 {
			if val, found, err := c.get(ctx, key); err != nil || found {
				return val, err
			}

			return zero, ErrFetchAbandoned
		}

		if time.Now().After(deadline) {
			return zero, ErrWaitTimeout
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, maxWaitInterval)
	}
}

// Delete implements Cacher.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("cacher: delete key: %w", err)
	}

	return nil
}

// scan returns every key in the namespace, lock keys included.
func (c *RedisCacher[T]) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.namespace+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cacher: scan keys: %w", err)
	}

	return keys, nil
}

// Clear implements Cacher. Keys outside the namespace are left alone.
func (c *RedisCacher[T]) Clear(ctx context.Context) error {
	keys, err := c.scan(ctx)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cacher: clear: %w", err)
	}

	return nil
}

// ItemCount implements Cacher. Lock keys are not counted.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	keys, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, k := range keys {
		if !strings.HasSuffix(k, lockSuffix) {
			count++
		}
	}

	return count, nil
}

func lockToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("cacher: lock token: %w", err)
	}

	return hex.EncodeToString(b[:]), nil
}
