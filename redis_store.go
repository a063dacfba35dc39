package passport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements the Storage interface using Redis. All keys are
// stored under a namespace so several attempts (or users) can share a server.
type RedisStorage struct {
	client    *redis.Client
	namespace string
}

// NewRedisStorage creates a new RedisStorage from a redis URL
func NewRedisStorage(ctx context.Context, redisURL, namespace string) (*RedisStorage, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)

	// Test connection
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return NewRedisStorageFromClient(client, namespace), nil
}

// NewRedisStorageFromClient wraps an existing client
func NewRedisStorageFromClient(client *redis.Client, namespace string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		namespace: namespace,
	}
}

func (s *RedisStorage) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

// Set stores a key with a value and expiration time
func (s *RedisStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, ErrStoreOperationFailed)
	}
	return nil
}

// Get retrieves a value by key
func (s *RedisStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("get %s: %w", key, ErrStoreOperationFailed)
	}
	return value, nil
}

// Delete removes keys
func (s *RedisStorage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = s.key(k)
	}
	if err := s.client.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("delete: %w", ErrStoreOperationFailed)
	}
	return nil
}

// GetClient returns the Redis client
// This is used by the main application to share the client with the watermill relay
func (s *RedisStorage) GetClient() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
