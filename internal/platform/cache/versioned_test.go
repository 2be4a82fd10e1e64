package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Versioned {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "test", time.Minute)
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	var calls int32
	loader := func(context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		return map[string]int32{"n": n}, nil
	}

	key, err := c.BuildKey(ctx, 7, "accounts")
	require.NoError(t, err)
	require.Equal(t, "test:7:accounts:v1", key)

	var got map[string]int32
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, int32(1), got["n"])
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.NoError(t, c.Bump(ctx, 7))
	key, err = c.BuildKey(ctx, 7, "accounts")
	require.NoError(t, err)
	require.Equal(t, "test:7:accounts:v2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, int32(2), got["n"])
}

func TestBumpIsScopedPerCompany(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	require.NoError(t, c.Bump(ctx, 1))
	v1, err := c.Version(ctx, 1)
	require.NoError(t, err)
	v2, err := c.Version(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), v1)
	require.Equal(t, int64(1), v2)
}

func TestNilClientPassesThrough(t *testing.T) {
	c := NewVersioned(nil, "test", time.Minute)
	var got []string
	err := c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
	require.NoError(t, c.Bump(context.Background(), 1))
}
