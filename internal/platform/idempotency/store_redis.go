package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingMarker is stored while a reservation is held but not yet completed.
const pendingMarker = "__pending__"

// RedisStore keeps idempotency records in Redis. SET NX on the record key
// acts as the cross-instance mutex; the value is either the pending marker
// or the JSON-encoded completed record. Record expiry rides on Redis TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(endpoint, key string) string {
	return "idempotency:" + endpoint + ":" + key
}

func (s *RedisStore) Reserve(ctx context.Context, endpoint, key string) (*Record, error) {
	k := redisKey(endpoint, key)
	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Released or expired between SETNX and GET; claim it now.
		return s.Reserve(ctx, endpoint, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency record: %w", err)
	}
	if val == pendingMarker {
		return nil, ErrInFlight
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Complete(ctx context.Context, endpoint, key string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(endpoint, key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, endpoint, key string) {
	_ = s.client.Del(ctx, redisKey(endpoint, key)).Err()
}
