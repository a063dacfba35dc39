package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

const (
	prefixInvalidated = "passport:invalidated:"
	prefixVerifier    = "passport:verifier:"
	prefixSession     = "passport:session:"
)

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

var _ ports.Store = (*RedisStore)(nil)

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if err := s.client.Set(ctx, prefixInvalidated+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, prefixInvalidated+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	return val > 0, nil
}

// SaveVerifier stores v under state with a ttl
func (s *RedisStore) SaveVerifier(ctx context.Context, state string, v ports.OAuthVerifier, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verifier: %w", err)
	}
	if err := s.client.Set(ctx, prefixVerifier+state, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save verifier: %w", err)
	}
	return nil
}

// ConsumeVerifier atomically reads and deletes the verifier of state
func (s *RedisStore) ConsumeVerifier(ctx context.Context, state string) (ports.OAuthVerifier, error) {
	var v ports.OAuthVerifier
	data, err := s.client.GetDel(ctx, prefixVerifier+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return v, fmt.Errorf("oauth state %q: %w", state, passport.ErrKeyNotFound)
	}
	if err != nil {
		return v, fmt.Errorf("failed to consume verifier: %w", err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal verifier: %w", err)
	}
	return v, nil
}

func (s *RedisStore) SaveCurrentSession(ctx context.Context, uid string, cs core.CurrentSession) error {
	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, prefixSession+uid, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) CurrentSession(ctx context.Context, uid string) (core.CurrentSession, error) {
	var cs core.CurrentSession
	data, err := s.client.Get(ctx, prefixSession+uid).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, fmt.Errorf("current session of %s: %w", uid, passport.ErrKeyNotFound)
	}
	if err != nil {
		return cs, fmt.Errorf("failed to read session: %w", err)
	}
	if err := json.Unmarshal(data, &cs); err != nil {
		return cs, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return cs, nil
}
