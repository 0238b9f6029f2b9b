package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attesto/internal/challenge"
)

// RedisStore persists nonces in Redis with native TTL expiry. GETDEL makes
// redemption atomic across processes: at most one consumer observes a nonce.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(circuitType challenge.CircuitType, nonce string) string {
	return "challenge:" + string(circuitType) + ":" + nonce
}

func (s *RedisStore) Put(ctx context.Context, circuitType challenge.CircuitType, nonce string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}
	if err := s.client.Set(ctx, redisKey(circuitType, nonce), "1", ttl).Err(); err != nil {
		return fmt.Errorf("store challenge nonce: %w", err)
	}
	return nil
}

func (s *RedisStore) Redeem(ctx context.Context, circuitType challenge.CircuitType, nonce string) (bool, error) {
	val, err := s.client.GetDel(ctx, redisKey(circuitType, nonce)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("redeem challenge nonce: %w", err)
	}
	return val != "", nil
}
