// Package cacher provides read-through caches with stampede protection. The
// server database keeps decoded player records in one so repeated logins do
// not hit Redis and decrypt the credential blob every time.
package cacher

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrWaitTimeout is returned when another fetcher holds the lock for too long.
	ErrWaitTimeout = errors.New("cacher: timeout waiting for cache")

	// ErrFetchAbandoned is returned when the lock holder released the lock
	// without populating the cache, usually because its fetch failed.
	ErrFetchAbandoned = errors.New("cacher: fetch abandoned by lock holder")
)

// FetchFunc loads a value from the source on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values with automatic fetching on misses. Implementations
// are safe for concurrent use and run at most one fetch per missing key.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn, caches
	// its result for ttl and returns it. Fetch errors are not cached.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key to retrieve or set
	//   - ttl: Time-to-live duration for the cached value
	//   - fetchFn: Function to fetch the value if not in cache
	//
	// Returns:
	//   - The cached or fetched value of type T
	//   - An error if retrieval or fetching fails
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) error

	// Clear removes every item owned by this cache.
	Clear(ctx context.Context) error

	// ItemCount returns the number of items owned by this cache.
	ItemCount(ctx context.Context) (int, error)
}
