package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/kanbansync/internal/api/ws"
	"github.com/gosuda/kanbansync/internal/config"
	"github.com/gosuda/kanbansync/internal/domain"
	"github.com/gosuda/kanbansync/internal/dwell"
	"github.com/gosuda/kanbansync/internal/hub"
	"github.com/gosuda/kanbansync/internal/move"
	"github.com/gosuda/kanbansync/internal/relay"
	"github.com/gosuda/kanbansync/internal/server"
	"github.com/gosuda/kanbansync/internal/store/memory"
	"github.com/gosuda/kanbansync/internal/store/postgres"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// Shared by the redis bus and the redis deduper when both are selected.
	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		c, err := relay.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		rdb = c
		return rdb, nil
	}

	h := hub.New(hub.Options{
		OutboxSize:   cfg.Hub.OutboxSize,
		WriteTimeout: cfg.Hub.WriteTimeout,
	})
	defer h.Close()

	bus, err := openBus(cfg, h, redisClient)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("bus close")
		}
	}()

	var dedupe move.Deduper
	switch cfg.Move.Dedupe {
	case config.DedupeRedis:
		c, err := redisClient()
		if err != nil {
			return err
		}
		dedupe = move.NewRedisDeduper(c, cfg.Move.DedupeTTL)
		if cfg.Bus.Backend != config.BusRedis {
			defer c.Close()
		}
	default:
		dedupe = move.NewMemoryDeduper(cfg.Move.DedupeTTL)
	}

	engine := dwell.NewEngine(store, h, bus, dwell.Options{
		BandK:         cfg.Dwell.BandK,
		MinPopulation: cfg.Dwell.MinPopulation,
		GracePeriod:   cfg.Dwell.GracePeriod,
	}, cfg.Dwell.Interval)

	coord := move.NewCoordinator(store, bus, engine, dedupe)

	boards := ws.NewHandler(h, coord, store.Boards(), ws.Options{
		PingInterval:      cfg.WS.PingInterval,
		PongTimeout:       cfg.WS.PongTimeout,
		MaxMissedPongs:    cfg.WS.MaxMissedPongs,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		Burst:             cfg.WS.Burst,
		ReadLimit:         cfg.WS.ReadLimit,
		OriginPatterns:    cfg.WS.OriginPatterns,
	})

	var busPinger server.Pinger
	if cfg.Bus.Backend != config.BusLocal {
		busPinger = bus
	}
	srv := server.New(ctx, cfg, server.Deps{
		Store:      store,
		Bus:        busPinger,
		Mutator:    coord,
		Classifier: engine,
		Boards:     boards.ServeBoard,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		// Board sockets are hijacked, so the server will not close them.
		h.Close()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (domain.Store, error) {
	if cfg.Store.Backend == config.StoreMemory {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}

	db := cfg.Database
	if db.MaxConns > math.MaxInt32 || db.MinConns > math.MaxInt32 {
		return nil, fmt.Errorf("database pool size out of int32 range")
	}
	store, err := postgres.New(ctx, db.DSN(), postgres.PoolConfig{
		MaxConns:          int32(db.MaxConns), //nolint:gosec // bounds checked above
		MinConns:          int32(db.MinConns), //nolint:gosec // bounds checked above
		MaxConnLifetime:   db.MaxConnLifetime,
		MaxConnIdleTime:   db.MaxConnIdleTime,
		HealthCheckPeriod: db.HealthCheckPeriod,
	})
	if err != nil {
		return nil, err
	}
	if db.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func openBus(cfg *config.Config, h *hub.Hub, redisClient func() (*redis.Client, error)) (relay.Bus, error) {
	switch cfg.Bus.Backend {
	case config.BusRedis:
		c, err := redisClient()
		if err != nil {
			return nil, err
		}
		return relay.NewRedis(c, h), nil
	case config.BusNATS:
		nc, err := relay.ConnectNATS(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return relay.NewNATS(nc, h), nil
	default:
		return relay.NewLocal(h), nil
	}
}
