package flagstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// flagKeyPrefix namespaces visitor flag hashes in Redis
const flagKeyPrefix = "visitor:flags:"

// RedisStore persists flags in a Redis hash per visitor. No TTL is set:
// consent flags have no expiry and are only cleared by explicit revocation.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed flag store
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Get returns the value for key and whether it was present
func (s *RedisStore) Get(ctx context.Context, visitorID, key string) (string, bool, error) {
	v, err := s.client.HGet(ctx, flagKeyPrefix+visitorID, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("flag get failed",
			zap.String("visitor_id", visitorID),
			zap.String("key", key),
			zap.Error(err))
		return "", false, fmt.Errorf("flag get failed: %w", err)
	}
	return v, true, nil
}

// Set writes key to value
func (s *RedisStore) Set(ctx context.Context, visitorID, key, value string) error {
	if err := s.client.HSet(ctx, flagKeyPrefix+visitorID, key, value).Err(); err != nil {
		s.logger.Error("flag set failed",
			zap.String("visitor_id", visitorID),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("flag set failed: %w", err)
	}
	return nil
}

// Remove deletes key
func (s *RedisStore) Remove(ctx context.Context, visitorID, key string) error {
	if err := s.client.HDel(ctx, flagKeyPrefix+visitorID, key).Err(); err != nil {
		s.logger.Error("flag remove failed",
			zap.String("visitor_id", visitorID),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("flag remove failed: %w", err)
	}
	return nil
}
