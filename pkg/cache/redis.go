package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	Prefix   string
}

// RedisStore shares values between router processes.
type RedisStore struct {
	conn   redis.UniversalClient
	prefix string
}

var _ Store = &RedisStore{}

func NewRedisStore(cfg RedisConfig) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	}), cfg.Prefix)
}

func NewRedisStoreFromClient(conn redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultGroup
	}
	return &RedisStore{conn: conn, prefix: prefix}
}

func (r *RedisStore) key(k string) string {
	return r.prefix + ":" + k
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.conn.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.conn.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.conn.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) Persistent() bool {
	return true
}

func (r *RedisStore) Close() error {
	return r.conn.Close()
}
