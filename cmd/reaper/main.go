package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/wosherco/socketless/internal/config"
	"github.com/wosherco/socketless/internal/logging"
	"github.com/wosherco/socketless/internal/metrics"
	"github.com/wosherco/socketless/internal/pubsub"
	"github.com/wosherco/socketless/internal/reaper"
	"github.com/wosherco/socketless/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(logging.Config{})
		fallback.Fatal().Err(err).Msg("configuration error")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Info().Msg("starting reaper")

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

	// Metrics endpoint only; the reaper takes no other traffic.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		if err := http.ListenAndServe(cfg.Addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	r := reaper.New(db, pubsub.NewRedisBroker(rdb, log), cfg.ReapInterval, cfg.ReapDeadline, reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("reaper exited with error")
	}
	log.Info().Msg("reaper stopped")
}
