// Command memoriad bootstraps the hierarchical memory service: loads
// configuration, wires the relational store, vector store, and
// embedder into a Repository, Retrieval Engine, and Tier Manager, and
// starts their background workers until a shutdown signal arrives.
//
// The externally-visible tool-protocol server that maps these
// operations onto a host integration is out of scope; this binary only
// constructs and runs the core.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/repository"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/retrieval"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/service"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/tiering"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional; defaults plus MEMORIA_ env vars otherwise)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	devMode := flag.Bool("dev", false, "use in-memory R/V stores and a fake embedder instead of Postgres/Qdrant/OpenAI")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if *printConfig {
		dump, err := cfg.Dump()
		if err != nil {
			logger.Fatal("failed to render configuration", zap.Error(err))
		}
		fmt.Println(string(dump))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	r, v, emb, redisClient, closeBackends, err := buildBackends(ctx, cfg, logger, *devMode)
	if err != nil {
		logger.Fatal("failed to build backends", zap.Error(err))
	}
	defer func() {
		if err := closeBackends(); err != nil {
			logger.Error("error closing backends", zap.Error(err))
		}
	}()

	if dims := emb.Dimensions(); dims != cfg.EmbeddingDim {
		logger.Fatal("embedder dimension does not match embedding_dim",
			zap.Int("embedder", dims),
			zap.Int("configured", cfg.EmbeddingDim))
	}

	if err := v.EnsureCollections(ctx, emb.Dimensions()); err != nil {
		logger.Fatal("failed to ensure vector collections", zap.Error(err))
	}

	repo := repository.New(r, v, emb, redisClient, logger, m, cfg)
	engine := retrieval.New(repo, emb, cfg, logger)
	sweeper := tiering.New(r, v, repo, cfg, logger, m)
	svc := service.New(repo, engine, sweeper, emb, cfg, logger, m)

	svc.Start(ctx)
	startMetricsServer(m, logger)

	logger.Info("memoriad started",
		zap.Bool("dev_mode", *devMode),
		zap.Duration("tier_sweep_interval", cfg.TierSweepInterval),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down memoriad")
	cancel()
	time.Sleep(500 * time.Millisecond) // let background workers observe cancellation
}

// buildBackends wires either production backends (Postgres, Qdrant,
// OpenAI, optionally Redis) or in-memory/fake ones for local
// development, returning a close func that tears down whichever was
// built.
func buildBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger, dev bool) (relational.Store, vectorstore.Store, embedding.Embedder, *redis.Client, func() error, error) {
	if dev {
		logger.Warn("running in dev mode: in-memory stores and fake embedder, nothing is durable")
		return relational.NewMemStore(), vectorstore.NewMemStore(), embedding.NewFake(cfg.EmbeddingDim), nil, func() error { return nil }, nil
	}

	pg, err := relational.NewPostgres(ctx, relational.PostgresConfig(cfg.Postgres), logger)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("postgres: %w", err)
	}

	qdrant, err := vectorstore.NewQdrant(vectorstore.QdrantConfig(cfg.Qdrant), logger)
	if err != nil {
		pg.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("qdrant: %w", err)
	}

	emb := embedding.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel, cfg.EmbeddingDim)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis touch-queue backend unreachable, falling back to in-process queue", zap.Error(err))
			redisClient = nil
		}
	}

	closeFn := func() error {
		var errs error
		pg.Close()
		if err := qdrant.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
		return errs
	}

	return pg, qdrant, emb, redisClient, closeFn, nil
}

func startMetricsServer(m *metrics.Collector, logger *zap.Logger) {
	const addr = ":9090"
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()
}
