package ml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrModelNotFound is returned by a storage target that holds no model yet.
var ErrModelNotFound = errors.New("model not found")

// ModelStorage is a byte-level persistence target for encoded models.
type ModelStorage interface {
	Name() string
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
}

// FileStorage keeps the durable copy of the model at a fixed path. Writes go
// through a temporary file in the same directory and a rename, so a reader
// never sees a truncated model.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Name() string {
	return "file"
}

func (f *FileStorage) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary model file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace model file: %w", err)
	}
	return nil
}

func (f *FileStorage) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return data, nil
}

// RedisModelCache is the secondary, expiring copy of the model used for warm
// restarts. It is rebuildable and never authoritative.
type RedisModelCache struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

func NewRedisModelCache(client redis.Cmdable, key string, ttl time.Duration) *RedisModelCache {
	return &RedisModelCache{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

func (c *RedisModelCache) Name() string {
	return "redis"
}

func (c *RedisModelCache) Write(ctx context.Context, data []byte) error {
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache model in Redis: %w", err)
	}
	return nil
}

func (c *RedisModelCache) Read(ctx context.Context) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err == redis.Nil {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached model from Redis: %w", err)
	}
	return data, nil
}
