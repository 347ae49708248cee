package cacher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type playerRecord struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

var (
	_ Cacher[playerRecord] = (*MemoryCacher[playerRecord])(nil)
	_ Cacher[playerRecord] = (*RedisCacher[playerRecord])(nil)
)

func TestMemoryCacher_GetOrFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("miss fetches and hit does not", func(t *testing.T) {
		c := NewMemoryCacher[playerRecord](cache.NoExpiration, time.Minute)
		fetches := 0
		fetch := func(context.Context) (playerRecord, error) {
			fetches++
			return playerRecord{ID: 1, Name: "alice"}, nil
		}

		got, err := c.GetOrFetch(ctx, "alice", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, playerRecord{ID: 1, Name: "alice"}, got)

		got, err = c.GetOrFetch(ctx, "alice", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), got.ID)
		assert.Equal(t, 1, fetches)
	})

	t.Run("fetch errors are not cached", func(t *testing.T) {
		c := NewMemoryCacher[playerRecord](cache.NoExpiration, time.Minute)

		_, err := c.GetOrFetch(ctx, "bob", time.Minute, func(context.Context) (playerRecord, error) {
			return playerRecord{}, assert.AnError
		})
		assert.ErrorIs(t, err, assert.AnError)

		got, err := c.GetOrFetch(ctx, "bob", time.Minute, func(context.Context) (playerRecord, error) {
			return playerRecord{ID: 2, Name: "bob"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Name)
	})

	t.Run("cancelled context fails before fetching", func(t *testing.T) {
		c := NewMemoryCacher[playerRecord](cache.NoExpiration, time.Minute)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		called := false
		_, err := c.GetOrFetch(cancelled, "carol", time.Minute, func(context.Context) (playerRecord, error) {
			called = true
			return playerRecord{}, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})

	t.Run("entries expire after their ttl", func(t *testing.T) {
		c := NewMemoryCacher[playerRecord](cache.NoExpiration, time.Minute)
		fetches := 0
		fetch := func(context.Context) (playerRecord, error) {
			fetches++
			return playerRecord{ID: 3}, nil
		}

		_, err := c.GetOrFetch(ctx, "dave", 20*time.Millisecond, fetch)
		require.NoError(t, err)
		time.Sleep(40 * time.Millisecond)
		_, err = c.GetOrFetch(ctx, "dave", 20*time.Millisecond, fetch)
		require.NoError(t, err)

		assert.Equal(t, 2, fetches)
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		c := NewMemoryCacher[playerRecord](cache.NoExpiration, time.Minute)
		var fetches atomic.Int32
		fetch := func(context.Context) (playerRecord, error) {
			fetches.Add(1)
			time.Sleep(20 * time.Millisecond)
			return playerRecord{ID: 4, Name: "erin"}, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := c.GetOrFetch(ctx, "erin", time.Minute, fetch)
				assert.NoError(t, err)
				assert.Equal(t, "erin", got.Name)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), fetches.Load())
	})
}

func TestMemoryCacher_DeleteClearCount(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCacher[playerRecord](cache.NoExpiration, time.Minute)
	for _, name := range []string{"a", "b", "c"} {
		_, err := c.GetOrFetch(ctx, name, time.Minute, func(context.Context) (playerRecord, error) {
			return playerRecord{Name: name}, nil
		})
		require.NoError(t, err)
	}

	n, err := c.ItemCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "missing"))
	n, _ = c.ItemCount(ctx)
	assert.Equal(t, 2, n)

	require.NoError(t, c.Clear(ctx))
	n, _ = c.ItemCount(ctx)
	assert.Equal(t, 0, n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.Delete(cancelled, "b"), context.Canceled)
	assert.ErrorIs(t, c.Clear(cancelled), context.Canceled)
	_, err = c.ItemCount(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
