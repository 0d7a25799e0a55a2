package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/feastly/feastly/internal/config"
	"github.com/feastly/feastly/internal/httpx"
	kafkax "github.com/feastly/feastly/internal/kafka"
	"github.com/feastly/feastly/internal/orders"
	"github.com/feastly/feastly/internal/postgres"
	"github.com/feastly/feastly/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.Migrate(cfg.MigrationsURL, cfg.PostgresDSN); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024)
	pPlaced.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStatusChanged, 1024)
	pStatus.Start(ctx)

	repo := &orders.Repo{DB: db}
	svc := &orders.Service{
		Store:          repo,
		Builder:        &orders.Builder{Catalog: repo, TaxRateBP: cfg.TaxRateBP},
		ProducerPlaced: pPlaced,
		ProducerStatus: pStatus,
		ServiceName:    cfg.ServiceName,
		MaxAttempts:    cfg.PlaceOrderAttempts,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Orders: svc, Repo: repo, Cache: redisx.Cache{R: rdb}}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
	}

	log.Info().Msg("shutting down")
	stop()
	pPlaced.WaitClosed()
	pStatus.WaitClosed()
}
