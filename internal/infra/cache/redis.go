package cache

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/John-Robertt/copykill/internal/domain"
)

// RedisKeyPrefix 是缓存 key 前缀；完整 key 为 <prefix><clean root>。
const RedisKeyPrefix = "copykill2:cache:"

// RedisStore 把同样的二进制帧存到 Redis（多台机器挂载同一 NAS 时共享快照）。
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore 创建 RedisStore；TTL<=0 表示不过期。
func NewRedisStore(opts Options) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl: opts.TTL,
	}
}

// Key 返回 root 对应的 Redis key。
func (s *RedisStore) Key(root string) string {
	return RedisKeyPrefix + filepath.Clean(root)
}

func (s *RedisStore) Load(ctx context.Context, root string) (domain.SizeBuckets, error) {
	b, err := s.client.Get(ctx, s.Key(root)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	return Decode(root, b)
}

func (s *RedisStore) Save(ctx context.Context, root string, buckets domain.SizeBuckets) error {
	b, err := Encode(root, buckets, time.Now())
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.Key(root), b, s.ttl).Err()
}

// Invalidate 删除 root 对应的条目。
func (s *RedisStore) Invalidate(ctx context.Context, root string) error {
	return s.client.Del(ctx, s.Key(root)).Err()
}

// Close 释放连接池。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
