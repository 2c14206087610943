package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nexora/rag/internal/auth"
	"github.com/nexora/rag/internal/config"
	"github.com/nexora/rag/internal/crawler"
	"github.com/nexora/rag/internal/embedder"
	"github.com/nexora/rag/internal/ingestion"
	"github.com/nexora/rag/internal/llm"
	"github.com/nexora/rag/internal/memory"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/repository/postgres"
	"github.com/nexora/rag/internal/reranker"
	"github.com/nexora/rag/internal/server"
	"github.com/nexora/rag/internal/service"
	"github.com/nexora/rag/internal/vectorstore"
)

func main() {
	// Set up structured logging
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

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting RAG service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}
	slog.Info("connected to PostgreSQL")

	// Initialize repositories
	tenantRepo := postgres.NewTenantRepo(db)
	chunkRepo := postgres.NewChunkRepo(db)
	jobRepo := postgres.NewCrawlJobRepo(db)
	chatRepo := postgres.NewChatRepo(db)

	// Initialize embedder behind the shared cache
	baseEmbedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	cache := embedder.NewCache(baseEmbedder, cfg.EmbeddingCacheCap)
	slog.Info("initialized embedder",
		"provider", cfg.EmbeddingProvider,
		"model", cache.ModelName(),
		"dimension", cache.Dimension(),
	)

	// Vector search: Qdrant when configured, linear scan otherwise. A
	// Qdrant connection failure degrades to the scan instead of aborting
	// startup.
	var primary vectorstore.Index
	if cfg.QdrantGRPCURL != "" {
		qdrant, err := vectorstore.NewQdrantIndex(cfg.QdrantGRPCURL, cfg.QdrantCollection)
		if err != nil {
			slog.Warn("qdrant unavailable, using linear scan", "error", err)
		} else {
			defer qdrant.Close()
			primary = qdrant
			slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)
		}
	}
	fallback := vectorstore.NewFallback(chunkRepo)
	index := vectorstore.NewTieredIndex(primary, fallback, logger())
	if err := index.EnsureCollection(ctx, cache.Dimension()); err != nil {
		return fmt.Errorf("failed to prepare vector collection: %w", err)
	}

	// Initialize LLM client
	llmClient, err := buildLLM(cfg)
	if err != nil {
		return err
	}
	slog.Info("initialized LLM", "provider", cfg.LLMProvider, "model", llmClient.ModelName())

	// Session memory: in-process store plus durable recorder
	mem := memory.NewStore(cfg.MemoryMaxTurns, cfg.MemoryTTL)
	defer mem.Close()
	recorder := memory.NewRecorder(chatRepo, cfg.MemoryTTL, logger())
	defer recorder.Close()

	// Ingestion pipeline shared by the crawler and file uploads
	chunker := ingestion.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	pipeline := ingestion.NewPipeline(chunker, cache, chunkRepo, index, logger())
	files := ingestion.NewFileIngestor(pipeline)

	orchestrator := crawler.New(pipeline, jobRepo, crawler.Config{
		UserAgent:    cfg.CrawlerUserAgent,
		Delay:        cfg.CrawlerDelay,
		Concurrency:  cfg.CrawlerConcurrency,
		FetchTimeout: cfg.CrawlerFetchTimeout,
		MaxPages:     cfg.CrawlerMaxPages,
		ObeyRobots:   cfg.CrawlerObeyRobots,
	}, logger())
	defer orchestrator.Close()

	// Auth
	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.Expiry = cfg.JWTExpiry
	jwtManager := auth.NewJWTManager(jwtCfg)
	keys := auth.NewKeyResolver(tenantRepo, cfg.LegacyKeysActive)

	// Services
	var ragOpts []service.RAGOption
	if cfg.RerankerEnabled {
		ragOpts = append(ragOpts, service.WithReranker(
			reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.RerankerModel))))
		slog.Info("reranking enabled", "model", cfg.RerankerModel)
	}
	ragSvc := service.NewRAGService(cache, index, chunkRepo, chatRepo, llmClient,
		mem, recorder, cfg.DefaultTopK, cfg.DefaultMinScore, logger(), ragOpts...)
	documentSvc := service.NewDocumentService(chunkRepo, index, logger())
	tenantSvc := service.NewTenantService(tenantRepo, chunkRepo, index, jwtManager, logger())
	statusSvc := service.NewStatusService(db, index, cache, cache, llmClient, chunkRepo)

	// HTTP server
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         logger(),
		AllowedOrigins: []string{"*"}, // Configure in production
	}, server.Services{
		RAG:       ragSvc,
		Documents: documentSvc,
		Tenants:   tenantSvc,
		Status:    statusSvc,
		Crawler:   orchestrator,
		Files:     files,
		Jobs:      jobRepo,
		JWT:       jwtManager,
		Keys:      keys,
		DB:        db,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func logger() *slog.Logger {
	return slog.Default()
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch strings.ToLower(cfg.EmbeddingProvider) {
	case "openai":
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.EmbeddingModel,
		})
	default:
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.EmbeddingModel,
		}), nil
	}
}

func buildLLM(cfg *config.Config) (llm.LLM, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "openai":
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey,
			llm.WithOpenAIBaseURL(cfg.OpenAIBaseURL),
			llm.WithOpenAIModel(cfg.LLMModel),
		)
	default:
		return llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(cfg.LLMModel),
		), nil
	}
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.TenantRepository   = (*postgres.TenantRepo)(nil)
	_ repository.ChunkRepository    = (*postgres.ChunkRepo)(nil)
	_ repository.CrawlJobRepository = (*postgres.CrawlJobRepo)(nil)
	_ repository.ChatRepository     = (*postgres.ChatRepo)(nil)
	_ vectorstore.Index             = (*vectorstore.QdrantIndex)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                       = (*llm.OllamaClient)(nil)
)
