package ledger

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchJSONCachesLoaderResult(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return dec("123.45"), nil
	}

	key, err := cache.BuildKey(ctx, "ledger", "total", "1")
	require.NoError(t, err)

	var total decimal.Decimal
	require.NoError(t, cache.FetchJSON(ctx, key, &total, loader))
	require.True(t, total.Equal(dec("123.45")))
	require.Equal(t, 1, loads)

	require.NoError(t, cache.FetchJSON(ctx, key, &total, loader))
	require.True(t, total.Equal(dec("123.45")))
	require.Equal(t, 1, loads, "second fetch must hit the cache")
}

func TestCacheBumpInvalidates(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, "ledger", "total", "1")
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))

	after, err := cache.BuildKey(ctx, "ledger", "total", "1")
	require.NoError(t, err)
	require.NotEqual(t, before, after, "bumped version must change every key")
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	var total decimal.Decimal
	err := cache.FetchJSON(ctx, "any", &total, func(ctx context.Context) (any, error) {
		return dec("7"), nil
	})
	require.NoError(t, err)
	require.True(t, total.Equal(dec("7")))
}
