// Package config reads the process configuration from the environment.
package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// OAuthClient holds the credentials of one OAuth vendor. A vendor without
// client id is disabled.
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// Enabled reports whether the vendor is configured.
func (c OAuthClient) Enabled() bool { return c.ClientID != "" }

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":9000"`
	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	// SigningKey is the hex encoded P-256 scalar signing issued tokens. A
	// random key is generated when empty, invalidating tokens on restart.
	SigningKey string `env:"JWT_SIGNING_KEY"`
	// Projects maps api keys to project identifiers: key1:proj1,key2:proj2.
	Projects         map[string]string `env:"PROJECTS"`
	RequireSignature bool              `env:"REQUIRE_SIGNATURE" envDefault:"true"`
	ChallengeTTL     time.Duration     `env:"CHALLENGE_TTL" envDefault:"5m"`
	AccessTTL        time.Duration     `env:"ACCESS_TTL" envDefault:"5m"`
	RefreshTTL       time.Duration     `env:"REFRESH_TTL" envDefault:"120h"`

	// RelayProtocol is announced in pairing URIs of relay sessions.
	RelayProtocol  string        `env:"RELAY_PROTOCOL" envDefault:"irn"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"6s"`

	Google  OAuthClient `envPrefix:"GOOGLE_"`
	GitHub  OAuthClient `envPrefix:"GITHUB_"`
	Discord OAuthClient `envPrefix:"DISCORD_"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= cfg.AccessTTL {
		return Config{}, fmt.Errorf("parse config: refresh ttl %s must exceed access ttl %s", cfg.RefreshTTL, cfg.AccessTTL)
	}
	return cfg, nil
}

// Logger builds the process logger.
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(level)
	switch c.LogFormat {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log format %q: want text or json", c.LogFormat)
	}
	return l, nil
}

// Key returns the token signing key.
func (c Config) Key() (*ecdsa.PrivateKey, error) {
	if c.SigningKey == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	raw, err := hex.DecodeString(c.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), raw)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return key, nil
}
