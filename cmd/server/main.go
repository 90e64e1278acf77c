package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/vanshika/upiscope/internal/config"
	"github.com/vanshika/upiscope/internal/graph"
	"github.com/vanshika/upiscope/internal/logging"
	"github.com/vanshika/upiscope/internal/metrics"
	"github.com/vanshika/upiscope/internal/repository"
	"github.com/vanshika/upiscope/internal/scoring"
	"github.com/vanshika/upiscope/internal/server"
	"github.com/vanshika/upiscope/internal/service"
	"github.com/vanshika/upiscope/internal/store"
	"github.com/vanshika/upiscope/internal/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	scorer, err := scoring.New(cfg.ScoringConfig())
	if err != nil {
		return fmt.Errorf("invalid scoring policy: %w", err)
	}

	var (
		reader  store.Reader
		history store.HistorySource
		checks  server.CompositeHealth
		redisDB *store.Redis
	)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		redisDB = store.NewRedis(client, store.RedisOptions{KeyPrefix: cfg.Redis.KeyPrefix, TTL: cfg.Redis.TTL})
		checks = append(checks, server.Check{Name: "redis", Health: server.PingHealth{Target: redisDB}})
	}

	// The graph is the system of record when configured; otherwise records
	// arriving over NSQ are kept in memory and mirrored to Redis.
	if cfg.Graph.URI != "" {
		graphClient, err := buildGraphClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create graph client: %w", err)
		}
		defer func() {
			if err := graphClient.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		}()
		repo := repository.New(graphClient)
		reader, history = repo, repo
		checks = append(checks, server.Check{Name: "graph", Health: server.GraphHealthService{Client: graphClient}})
	} else {
		mem := store.NewMemory()
		reader, history = mem, mem
		if cfg.NSQ.Address != "" {
			sink := store.Fanout{mem}
			if redisDB != nil {
				sink = append(sink, redisDB)
			}
			consumer, err := stream.NewConsumer(cfg.NSQ.Address, cfg.NSQ.Topic, cfg.NSQ.Channel,
				stream.NewHandler(sink, logging.Component(logger, "consumer")))
			if err != nil {
				return fmt.Errorf("subscribe to nsq: %w", err)
			}
			defer consumer.Stop()
			logger.Info("consuming transactions", "addr", cfg.NSQ.Address, "topic", cfg.NSQ.Topic, "channel", cfg.NSQ.Channel)
		} else {
			logger.Warn("no graph or nsq configured, serving an empty in-memory store")
		}
	}

	if redisDB != nil {
		history = redisDB
	}

	svc := service.NewTransactionService(reader, history, scorer)
	deps := server.RouterDependencies{
		Health:           checks,
		API:              server.NewAPIHandlers(logger, svc),
		AllowedOrigins:   cfg.HTTP.AllowedOrigins(),
		AllowCredentials: true,
	}
	if cfg.HTTP.MetricsEnabled {
		m := metrics.New()
		deps.Requests = m
		deps.MetricsHandler = m.Handler()
	}

	srv := server.New(logger, cfg.HTTP, server.NewRouter(logger, deps))
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func buildGraphClient(ctx context.Context, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, graph.ErrMissingURI
	}

	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	return graph.NewNeo4jClient(ctx, opts)
}
