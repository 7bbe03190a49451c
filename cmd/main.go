package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/suwandre/p2parb/api"
	"github.com/suwandre/p2parb/api/handlers"
	"github.com/suwandre/p2parb/config"
	"github.com/suwandre/p2parb/internal/aggregator"
	"github.com/suwandre/p2parb/internal/arbitrage"
	"github.com/suwandre/p2parb/internal/exchange"
	"github.com/suwandre/p2parb/internal/recorder"
	"github.com/suwandre/p2parb/internal/scheduler"
)

func main() {
	// ── 1. Logger setup
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// ── 2. Root context setup
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── 3. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}
	log.Info().Msg("config loaded")

	// ── 4. Exchange adapters (every known venue; unlisted ones stay registered but disabled)
	known := exchange.KnownNames()
	adapters := make([]exchange.Exchange, 0, len(known))
	for _, name := range known {
		adapter, err := exchange.Build(name, cfg.AdapterConfig(name))
		if err != nil {
			log.Fatal().Err(err).Str("exchange", name).Msg("failed to build adapter")
		}
		adapters = append(adapters, adapter)
	}
	registry, err := exchange.NewRegistry(adapters...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register adapters")
	}
	log.Info().
		Strs("active", registry.Names()).
		Strs("registered", registry.Registered()).
		Msg("exchange adapters initialized")

	// ── 5. Aggregator + Calculator
	agg := aggregator.NewAggregator(registry, cfg.CacheTTL, aggregator.WithTimeout(cfg.AggregateTimeout))
	calc := arbitrage.NewCalculator(agg, arbitrage.Config{
		Tiers:        cfg.Tiers,
		MinProfitPct: cfg.MinProfitPct,
		Rates:        arbitrage.DirectRates(cfg.DirectRates),
	})

	// ── 6. Snapshot store + Recorder
	var store recorder.Store
	if cfg.RedisAddr != "" {
		rs := recorder.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
		}
		defer rs.Close()
		store = rs
		log.Info().Str("addr", cfg.RedisAddr).Msg("snapshots stored in redis")
	} else {
		store = recorder.NewMemoryStore(nil)
		log.Warn().Msg("REDIS_ADDR not set, snapshots kept in memory")
	}
	rec := recorder.NewRecorder(store, agg, cfg.Snapshot, cfg.SnapshotCooldown, nil)

	// ── 7. Scheduler
	sched := scheduler.NewScheduler(calc, rec, cfg.Routes, cfg.RefreshInterval)
	sched.Start(ctx)
	defer sched.Stop()

	// ── 8. Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "P2P Arbitrage",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.AggregateTimeout + 5*time.Second,
	})

	// ── 9. Routes
	api.SetupRoutes(app, api.Handlers{
		Orders:        handlers.NewOrdersHandler(agg, registry),
		Opportunities: handlers.NewOpportunitiesHandler(calc, sched, cfg.RefreshInterval),
		Snapshots:     handlers.NewSnapshotsHandler(rec),
	})

	// ── 10. Graceful shutdown listener
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		if err := app.Shutdown(); err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	// ── 11. Start server (blocking)
	log.Info().Str("port", cfg.AppPort).Msg("starting server")
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}
