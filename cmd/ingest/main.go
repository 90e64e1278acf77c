package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanshika/upiscope/internal/config"
	"github.com/vanshika/upiscope/internal/dataset"
	"github.com/vanshika/upiscope/internal/domain"
	"github.com/vanshika/upiscope/internal/graph"
	"github.com/vanshika/upiscope/internal/logging"
	"github.com/vanshika/upiscope/internal/metrics"
	"github.com/vanshika/upiscope/internal/repository"
	"github.com/vanshika/upiscope/internal/service"
	"github.com/vanshika/upiscope/internal/store"
	"github.com/vanshika/upiscope/internal/stream"
)

var errNoSinks = errors.New("no sinks configured: set GRAPH_URI, REDIS_ADDR, NSQ_ADDRESS or -csv")

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		workers     = flag.Int("workers", cfg.Generation.Workers, "Number of concurrent workers for ingestion")
		csvPath     = flag.String("csv", "", "Also append every record to this CSV file")
		metricsAddr = flag.String("metrics-addr", "", "Serve /metrics on this address while ingesting")
	)
	flag.Parse()

	logger := logging.Component(logging.New(cfg.Logging), "ingest")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	profiles, err := cfg.ResolveProfiles()
	if err != nil {
		return fmt.Errorf("resolve profiles: %w", err)
	}

	m := metrics.New()
	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr, m.Handler())
	}

	sinks, cleanup, err := buildSinks(ctx, logger, cfg, profiles)
	defer cleanup()
	if err != nil {
		return fmt.Errorf("build sinks: %w", err)
	}

	var csvSink *store.CSVSink
	if *csvPath != "" {
		file, err := os.Create(*csvPath)
		if err != nil {
			return fmt.Errorf("create csv file: %w", err)
		}
		defer file.Close()
		csvSink = store.NewCSVSink(file)
		sinks = append(sinks, service.Sink{Name: "csv", Appender: csvSink})
	}
	if len(sinks) == 0 {
		return errNoSinks
	}

	builder, err := dataset.NewBuilder(dataset.Options{
		Generator: cfg.GeneratorConfig(),
		Flow:      cfg.FlowConfig(),
		Scoring:   cfg.ScoringConfig(),
		Seed:      cfg.Generation.Seed,
		Observer:  m,
	})
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	window := cfg.TimeRange()
	seq, err := builder.Build(profiles, window, cfg.Generation.CountPerProfile, cfg.Generation.AnomalyRate)
	if err != nil {
		return fmt.Errorf("invalid build arguments: %w", err)
	}

	start := time.Now()
	logger.Info("ingesting",
		"profiles", len(profiles),
		"per_profile", cfg.Generation.CountPerProfile,
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
		"seed", cfg.Generation.Seed,
		"workers", *workers,
		"sinks", len(sinks))
	ingestor := service.NewIngestor(sinks, *workers, m, logger)
	stats, err := ingestor.Ingest(ctx, seq)
	if csvSink != nil {
		if ferr := csvSink.Flush(); ferr != nil {
			err = errors.Join(err, fmt.Errorf("flush csv: %w", ferr))
		}
	}
	if err != nil {
		logger.Error("ingestion failed", "error", err, "stored", stats.Stored, "failed", stats.Failed)
		return err
	}

	logger.Info("ingestion complete", "duration", time.Since(start).String(), "transactions", stats.Stored)
	return nil
}

// buildSinks connects every configured collaborator. cleanup is always safe
// to call, even when err is non-nil.
func buildSinks(ctx context.Context, logger *slog.Logger, cfg config.Config, profiles []domain.Profile) ([]service.Sink, func(), error) {
	var (
		sinks   []service.Sink
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Graph.URI != "" {
		client, err := buildGraphClient(ctx, logger, cfg)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, func() {
			if err := client.Close(context.Background()); err != nil {
				logger.Warn("closing graph client failed", "error", err)
			}
		})
		if err := graph.EnsureSchema(ctx, client); err != nil {
			return nil, cleanup, err
		}
		repo := repository.New(client)
		for _, p := range profiles {
			if err := repo.UpsertProfile(ctx, p); err != nil {
				return nil, cleanup, err
			}
		}
		sinks = append(sinks, service.Sink{Name: "graph", Appender: repo})
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func() { _ = client.Close() })
		rs := store.NewRedis(client, store.RedisOptions{KeyPrefix: cfg.Redis.KeyPrefix, TTL: cfg.Redis.TTL})
		if err := rs.Ping(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
		sinks = append(sinks, service.Sink{Name: "redis", Appender: rs})
	}

	if cfg.NSQ.Address != "" {
		pub, err := stream.NewPublisher(cfg.NSQ.Address, cfg.NSQ.Topic)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, pub.Stop)
		logger.Info("connected to nsqd", "addr", cfg.NSQ.Address, "topic", cfg.NSQ.Topic)
		sinks = append(sinks, service.Sink{Name: "nsq", Appender: pub})
	}

	return sinks, cleanup, nil
}

func buildGraphClient(ctx context.Context, logger *slog.Logger, cfg config.Config) (graph.Client, error) {
	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	client, err := graph.NewNeo4jClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	logger.Info("connected to graph", "uri", cfg.Graph.URI, "database", cfg.Graph.Database)
	return client, nil
}

func serveMetrics(logger *slog.Logger, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server stopped", "error", err)
	}
}
