package main

import (
	"context"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/oauth"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/config"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
	"github.com/layer-3/passport/transport/http"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}

	privateKey, err := cfg.Key()
	if err != nil {
		logger.Fatalf("Failed to load signing key: %v", err)
	}
	if cfg.SigningKey == "" {
		logger.Warn("JWT_SIGNING_KEY is not set, tokens will not survive a restart")
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	wmLogger := watermill.NewStdLogger(false, false)
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		wmLogger,
	)
	if err != nil {
		logger.Fatalf("Failed to create Redis publisher: %v", err)
	}
	defer publisher.Close()

	// Relay subscribers fan out: every instance sees every pairing topic.
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{
			Client: redisClient,
		},
		wmLogger,
	)
	if err != nil {
		logger.Fatalf("Failed to create Redis subscriber: %v", err)
	}
	defer subscriber.Close()

	registry := identity.DefaultRegistry(identity.Defaults{
		Env:            channel.NewEnvironment(),
		Relay:          channel.RelayTransport{Publisher: publisher, Subscriber: subscriber},
		RelayConfig:    channel.RelayConfig{Relay: cfg.RelayProtocol},
		ChannelOptions: []channel.Option{channel.WithTimeout(cfg.RequestTimeout), channel.WithLogger(logger)},
	})

	var vendors []ports.OAuthVendor
	if cfg.Google.Enabled() {
		google, err := oauth.Google(ctx, cfg.Google.ClientID, cfg.Google.ClientSecret)
		if err != nil {
			logger.Fatalf("Failed to discover Google OIDC provider: %v", err)
		}
		vendors = append(vendors, google)
	}
	if cfg.GitHub.Enabled() {
		vendors = append(vendors, oauth.GitHub(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret))
	}
	if cfg.Discord.Enabled() {
		vendors = append(vendors, oauth.Discord(cfg.Discord.ClientID, cfg.Discord.ClientSecret))
	}

	svcOpts := []service.Option{
		service.WithProjects(cfg.Projects),
		service.WithVendors(vendors...),
		service.WithTTLs(cfg.ChallengeTTL, cfg.AccessTTL, cfg.RefreshTTL),
		service.WithLogger(logger),
	}
	if cfg.RequireSignature {
		svcOpts = append(svcOpts, service.WithRequireSignature())
	}
	authService := service.NewAuthService(
		tokenizer.NewJWTTokenizer(privateKey),
		store.NewRedisStore(redisClient),
		events.NewWatermillPublisher(publisher),
		svcOpts...,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	router := http.SetupRouter(authService, registry, reg, logger)

	logger.WithField("addr", cfg.ListenAddr).Info("passport listening")
	if err := router.Run(cfg.ListenAddr); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
