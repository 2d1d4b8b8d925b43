package ml

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestFileStorage_WriteRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "model.json")
	storage := NewFileStorage(path)

	_, err := storage.Read(ctx)
	assert.ErrorIs(t, err, ErrModelNotFound)

	require.NoError(t, storage.Write(ctx, []byte(`{"version":"a"}`)))
	require.NoError(t, storage.Write(ctx, []byte(`{"version":"b"}`)))

	data, err := storage.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"version":"b"}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStorage_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	storage := NewFileStorage(filepath.Join(t.TempDir(), "model.json"))
	assert.ErrorIs(t, storage.Write(ctx, []byte("x")), context.Canceled)
}

func TestRedisModelCache_WriteRead(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	cache := NewRedisModelCache(client, "item_similarity_model_cache", 24*time.Hour)

	_, err := cache.Read(ctx)
	assert.ErrorIs(t, err, ErrModelNotFound)

	require.NoError(t, cache.Write(ctx, []byte("payload")))
	assert.Equal(t, 24*time.Hour, mr.TTL("item_similarity_model_cache"))

	data, err := cache.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	mr.FastForward(25 * time.Hour)
	_, err = cache.Read(ctx)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestRedisModelCache_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	cache := NewRedisModelCache(client, "key", time.Hour)
	mr.Close()

	err := cache.Write(context.Background(), []byte("payload"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrModelNotFound)
}
