package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/knoguchi/rag/internal/audit"
	"github.com/knoguchi/rag/internal/auth"
	"github.com/knoguchi/rag/internal/config"
	"github.com/knoguchi/rag/internal/embedder"
	"github.com/knoguchi/rag/internal/llm"
	"github.com/knoguchi/rag/internal/memory"
	"github.com/knoguchi/rag/internal/metrics"
	"github.com/knoguchi/rag/internal/orchestrator"
	"github.com/knoguchi/rag/internal/reranker"
	"github.com/knoguchi/rag/internal/repository"
	"github.com/knoguchi/rag/internal/repository/postgres"
	"github.com/knoguchi/rag/internal/server"
	"github.com/knoguchi/rag/internal/synthesis"
	"github.com/knoguchi/rag/internal/tenantconfig"
	"github.com/knoguchi/rag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting guarded retrieval service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	tenantRepo := postgres.NewTenantRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	var rerankerScorer reranker.Scorer
	if cfg.RerankerURL != "" {
		rerankerScorer = reranker.NewHTTPScorer(cfg.RerankerURL, "")
		slog.Info("reranker scoring service configured", "url", cfg.RerankerURL)
	} else {
		rerankerScorer = reranker.NewLLMScorer(llmClient)
		slog.Info("no RERANKER_URL configured, reranking falls back to the LLM-as-judge scorer")
	}

	tenantConfigStore, err := tenantconfig.New(tenantRepo, cfg.TenantConfigTTL, cfg.TenantConfigCapacity)
	if err != nil {
		return fmt.Errorf("failed to build tenant config store: %w", err)
	}

	orch := orchestrator.New(vectorStore, embed, rerankerScorer, tenantConfigStore, slog.Default())

	mem := memory.NewStore(cfg.MemoryMaxMessages, cfg.MemoryTTL)
	synth := synthesis.New(llmClient, mem)

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry,
		Issuer: "rag-service",
	})

	auditSink := audit.NewSlogSink(slog.Default())

	var metricsCollectors *metrics.Collectors
	if cfg.MetricsEnabled {
		metricsCollectors = metrics.New(prometheus.DefaultRegisterer)
	}

	srv := server.New(server.Config{
		Port:           cfg.HTTPPort,
		AdminAPIKey:    cfg.AdminAPIKey,
		AllowedOrigins: []string{"*"}, // configure per deployment
		Collection:     cfg.VectorCollection,
		Logger:         slog.Default(),
	}, orch, synth, jwtManager, tenantConfigStore, auditSink, metricsCollectors)

	rolling, err := newRollingCounter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up rolling counter: %w", err)
	}
	srv = srv.WithRollingCounter(rolling)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// newRollingCounter builds a Redis-backed per-tenant rolling counter when
// cfg.RedisAddr is set, falling back to an in-process counter otherwise.
func newRollingCounter(ctx context.Context, cfg *config.Config) (metrics.RollingCounter, error) {
	if cfg.RedisAddr == "" {
		slog.Info("rolling counter: no REDIS_ADDR configured, using in-process counter")
		return metrics.NewInProcessRollingCounter(cfg.RollingWindow), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("rolling counter: connected to Redis", "addr", cfg.RedisAddr)
	return metrics.NewRedisRollingCounter(client, cfg.RollingWindow), nil
}

// Ensure interfaces are satisfied at compile time.
var (
	_ repository.TenantRepository = (*postgres.TenantRepo)(nil)
	_ vectorstore.VectorStore     = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder           = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                     = (*llm.OllamaClient)(nil)
	_ reranker.Scorer             = (*reranker.HTTPScorer)(nil)
	_ reranker.Scorer             = (*reranker.LLMScorer)(nil)
)
