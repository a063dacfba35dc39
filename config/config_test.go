package config_test

import (
	"crypto/ecdsa"
	"crypto/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 6*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 120*time.Hour, cfg.RefreshTTL)
	assert.True(t, cfg.RequireSignature)
	assert.False(t, cfg.Google.Enabled())
}

func TestLoadFrom(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"PROJECTS":             "key-1:proj-1,key-2:proj-2",
		"GITHUB_CLIENT_ID":     "gh-id",
		"GITHUB_CLIENT_SECRET": "gh-secret",
		"ACCESS_TTL":           "1m",
		"REQUIRE_SIGNATURE":    "false",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "json",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"key-1": "proj-1", "key-2": "proj-2"}, cfg.Projects)
	assert.Equal(t, config.OAuthClient{ClientID: "gh-id", ClientSecret: "gh-secret"}, cfg.GitHub)
	assert.True(t, cfg.GitHub.Enabled())
	assert.Equal(t, time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.RequireSignature)

	l, err := cfg.Logger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)
}

func TestLoadRejects(t *testing.T) {
	_, err := config.LoadFrom(map[string]string{"ACCESS_TTL": "10h", "REFRESH_TTL": "1h"})
	assert.Error(t, err)

	_, err = config.LoadFrom(map[string]string{"ACCESS_TTL": "soon"})
	assert.Error(t, err)

	cfg, err := config.LoadFrom(map[string]string{"LOG_FORMAT": "xml"})
	require.NoError(t, err)
	_, err = cfg.Logger()
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"JWT_SIGNING_KEY": "c9afa9d845ba75166b5c215767b1d6934e50c3db36e89b127b8a622b120f6721",
	})
	require.NoError(t, err)

	key, err := cfg.Key()
	require.NoError(t, err)
	again, err := cfg.Key()
	require.NoError(t, err)
	assert.True(t, key.Equal(again))

	digest := make([]byte, 32)
	_, _ = rand.Read(digest)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(&key.PublicKey, digest, sig))

	cfg.SigningKey = "zz"
	_, err = cfg.Key()
	assert.Error(t, err)
}
