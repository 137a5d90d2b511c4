package rediscas

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/storage/testkit"
)

// newTestClient connects to WALLSIGN_TEST_REDIS_URL (default
// redis://localhost:6379/15) and skips when no server answers.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("WALLSIGN_TEST_REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not available at %s: %v", url, err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedis_Conformance(t *testing.T) {
	rdb := newTestClient(t)
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		prefix := "wallsign:test:" + t.Name() + ":"
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := rdb.Keys(ctx, prefix+"*").Result()
			if len(keys) > 0 {
				rdb.Del(ctx, keys...)
			}
		})
		return New(rdb, prefix)
	})
}

func TestRedis_RejectsOverwrite(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()
	prefix := "wallsign:test:overwrite:"
	cas := New(rdb, prefix)
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	})

	id, err := cas.Put(ctx, []byte("original"))
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, cas.key(id), "corrupted", 0).Err())

	_, err = cas.Get(ctx, id)
	require.ErrorIs(t, err, storage.ErrCIDMismatch)

	_, err = cas.Put(ctx, []byte("original"))
	require.ErrorIs(t, err, storage.ErrImmutable)
}

func TestOpen_BadURL(t *testing.T) {
	_, _, err := Open("not a url")
	require.Error(t, err)
}
