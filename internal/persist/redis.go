package persist

import (
	"context"
	"errors"

	"dealroom/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/codes"
)

// RedisStorage stores items as plain Redis strings under a namespace prefix.
type RedisStorage struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStorage namespaces keys with prefix, e.g. "dealroom:user-1:".
func NewRedisStorage(rdb *redis.Client, prefix string) *RedisStorage {
	return &RedisStorage{rdb: rdb, prefix: prefix}
}

func (s *RedisStorage) GetItem(ctx context.Context, key string) (string, error) {
	ctx, span := observability.TraceRedisOperation(ctx, "get", key)
	defer span.End()

	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

func (s *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	ctx, span := observability.TraceRedisOperation(ctx, "set", key)
	defer span.End()

	err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	ctx, span := observability.TraceRedisOperation(ctx, "del", key)
	defer span.End()

	err := s.rdb.Del(ctx, s.prefix+key).Err()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
