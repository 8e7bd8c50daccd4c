package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"newsrag-gateway/internal/cache"
	"newsrag-gateway/internal/config"
	"newsrag-gateway/internal/embed"
	"newsrag-gateway/internal/handlers"
	"newsrag-gateway/internal/httpserver"
	"newsrag-gateway/internal/ingest"
	"newsrag-gateway/internal/llm"
	"newsrag-gateway/internal/metrics"
	"newsrag-gateway/internal/pipeline"
	"newsrag-gateway/internal/quota"
	"newsrag-gateway/internal/vecindex"
	"newsrag-gateway/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := config.Load()

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("ledger_path", cfg.Ledger.Path),
		zap.Int64("quota_limit", cfg.Ledger.Limit),
		zap.Duration("quota_window", cfg.Ledger.Window),
		zap.Bool("ingest_enabled", cfg.Ingest.Enabled),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.Cache.RedisAddr),
		)
	}

	// ----- Caches -----
	// Answer cache and source cache share a backend but live in
	// disjoint key namespaces.
	cacheCfg := cache.Config{
		Backend: cfg.Cache.Backend,
		Prefix:  cfg.Cache.Prefix,
	}
	answerCache := cache.NewLoggingStore(cache.New(cacheCfg, redisClient), "answer")
	sourceCache := cache.NewLoggingStore(cache.New(cacheCfg, redisClient), "source")

	// ----- Quota ledger -----
	ledger, err := quota.Open(quota.Config{
		Path:   cfg.Ledger.Path,
		Limit:  cfg.Ledger.Limit,
		Window: cfg.Ledger.Window,
	}, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	// ----- Upstream collaborators -----
	embedder, err := embed.NewClient(embed.Config{
		BaseURL: cfg.Embed.BaseURL,
		APIKey:  cfg.Embed.APIKey,
		Model:   cfg.Embed.Model,
	}, logger)
	if err != nil {
		return err
	}

	index, err := vecindex.NewClient(vecindex.Config{
		BaseURL: cfg.Index.BaseURL,
		APIKey:  cfg.Index.APIKey,
	}, logger)
	if err != nil {
		return err
	}

	completer, err := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := completer.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Pipeline -----
	pipe := pipeline.New(pipeline.Deps{
		Ledger:    ledger,
		Answers:   answerCache,
		Embedder:  embedder,
		Index:     index,
		Completer: completer,
	})

	// ----- Background ingestion -----
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()

	scraper := ingest.NewScraper(cfg.Ingest.FrontierURL, sourceCache, nil, logger)
	ingestor := ingest.NewIngestor(scraper, embedder, index, logger)

	if cfg.Ingest.Enabled {
		go ingestor.Run(ingestCtx, cfg.Ingest.Interval)
	}

	// ----- Handlers -----
	searchHandler := handlers.NewSearchHandler(pipe)
	ingestHandler := handlers.NewIngestHandler(ingestor)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, searchHandler, ingestHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	stopIngest()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
