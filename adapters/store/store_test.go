package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

func stores(t *testing.T) map[string]ports.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]ports.Store{
		"memory": store.NewMemoryStore(),
		"redis":  store.NewRedisStore(client),
	}
}

func TestStore_InvalidateToken(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := s.IsTokenInvalidated(ctx, "tok-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.InvalidateToken(ctx, "tok-1", time.Hour))
			ok, err = s.IsTokenInvalidated(ctx, "tok-1")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStore_ConsumeVerifierOnce(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			v := ports.OAuthVerifier{Provider: "github", CodeVerifier: "cv", RedirectURI: "https://app.example/cb"}

			require.NoError(t, s.SaveVerifier(ctx, "state-1", v, time.Minute))

			got, err := s.ConsumeVerifier(ctx, "state-1")
			require.NoError(t, err)
			assert.Equal(t, v, got)

			_, err = s.ConsumeVerifier(ctx, "state-1")
			assert.ErrorIs(t, err, passport.ErrKeyNotFound)
		})
	}
}

func TestStore_CurrentSession(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.CurrentSession(ctx, "0xabc")
			assert.ErrorIs(t, err, passport.ErrKeyNotFound)

			cs := core.CurrentSession{
				UID:           "0xabc",
				Provider:      "metamask",
				ConnectorType: core.ConnectorInjected,
				Session:       json.RawMessage(`{"path":"ethereum"}`),
			}
			require.NoError(t, s.SaveCurrentSession(ctx, "0xabc", cs))

			got, err := s.CurrentSession(ctx, "0xabc")
			require.NoError(t, err)
			assert.Equal(t, cs, got)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.InvalidateToken(ctx, "tok", time.Millisecond))
	require.NoError(t, s.SaveVerifier(ctx, "st", ports.OAuthVerifier{Provider: "google"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	ok, err := s.IsTokenInvalidated(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.ConsumeVerifier(ctx, "st")
	assert.ErrorIs(t, err, passport.ErrKeyNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	require.NoError(t, s.SaveVerifier(ctx, "st", ports.OAuthVerifier{Provider: "google"}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := s.ConsumeVerifier(ctx, "st")
	assert.ErrorIs(t, err, passport.ErrKeyNotFound)
}
