package session

import (
	"context"
	"sync"
	"time"

	"dealroom/internal/cache"
	"dealroom/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Revocations remembers the ids of tokens signed out before they expire.
type Revocations interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocations keeps revoked ids in process. Entries are dropped lazily
// once their token would have expired anyway.
type MemoryRevocations struct {
	mu  sync.Mutex
	ids map[string]time.Time
	now func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{ids: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRevocations) Revoke(_ context.Context, jti string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, exp := range r.ids {
		if !exp.After(now) {
			delete(r.ids, id)
		}
	}
	if until.After(now) {
		r.ids[jti] = until
	}
	return nil
}

func (r *MemoryRevocations) Revoked(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.ids[jti]
	return ok && exp.After(r.now()), nil
}

// RedisRevocations shares revoked ids between instances. Keys expire with
// the token.
type RedisRevocations struct {
	rdb *redis.Client
}

func NewRedisRevocations(rdb *redis.Client) *RedisRevocations {
	return &RedisRevocations{rdb: rdb}
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, cache.RevokedTokenKey(jti), 1, ttl).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("revoke").Inc()
		return err
	}
	return nil
}

func (r *RedisRevocations) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, cache.RevokedTokenKey(jti)).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("revoked").Inc()
		return false, err
	}
	return n > 0, nil
}
