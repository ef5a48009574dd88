package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wosherco/socketless/internal/config"
	"github.com/wosherco/socketless/internal/gateway"
	"github.com/wosherco/socketless/internal/logging"
	"github.com/wosherco/socketless/internal/metrics"
	"github.com/wosherco/socketless/internal/pubsub"
	"github.com/wosherco/socketless/internal/store"
	"github.com/wosherco/socketless/internal/token"
	"github.com/wosherco/socketless/internal/usage"
	"github.com/wosherco/socketless/internal/webhook"
)

// Tokens are short-lived; the issuer surface hands them out per connection.
const tokenTTL = 12 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("configuration error")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Info().Str("node", cfg.NodeName).Msg("starting gateway")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	db, err := store.New(cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store connect failed")
	}
	defer db.Close()

	reg := metrics.NewRegistry()
	cache := webhook.NewCache(db, cfg.WebhookCacheTTL)
	defer cache.Stop()

	broker := pubsub.NewRedisBroker(rdb, log)

	srv := gateway.New(cfg, gateway.Deps{
		Store:      db,
		Broker:     broker,
		Gate:       usage.NewGate(usage.NewRedisCounters(rdb), log),
		Projects:   cache,
		Dispatcher: webhook.NewDispatcher(cfg.WebhookTimeout, log),
		Codec:      token.NewCodec(cfg.JWTSecret, tokenTTL),
		Metrics:    reg,
		Checks: map[string]gateway.HealthChecker{
			"postgres": db,
			"redis":    broker,
		},
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}
}
