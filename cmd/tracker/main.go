package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/feastly/feastly/internal/config"
	kafkax "github.com/feastly/feastly/internal/kafka"
	"github.com/feastly/feastly/internal/orders"
	"github.com/feastly/feastly/internal/redisx"
	"github.com/feastly/feastly/internal/tracker"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &tracker.Service{
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-tracker",
	}

	group := getenv("TRACKER_GROUP", "tracker-svc")
	workers := mustAtoi(os.Getenv("TRACKER_WORKERS"), 4)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicStatusChanged, workers)

	log.Info().
		Str("group", group).
		Str("topic", orders.TopicStatusChanged).
		Int("workers", workers).
		Msg("tracker consumer started")

	if err := cons.Start(ctx, svc.HandleStatusChanged); err != nil {
		log.Error().Err(err).Msg("consumer exited")
	}
	log.Info().Msg("shutting down")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
