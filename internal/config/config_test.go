package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("unexpected default port %d", cfg.HTTPPort)
	}
	if cfg.EmbeddingProvider != "ollama" || cfg.LLMProvider != "ollama" {
		t.Errorf("unexpected default providers: %s, %s", cfg.EmbeddingProvider, cfg.LLMProvider)
	}
	if cfg.ChunkSize != 500 || cfg.ChunkOverlap != 50 {
		t.Errorf("unexpected chunking defaults: %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.DefaultTopK != 5 {
		t.Errorf("unexpected default top k %d", cfg.DefaultTopK)
	}
	if !cfg.LegacyKeysActive {
		t.Error("legacy keys should default to active")
	}
	if cfg.RerankerEnabled {
		t.Error("reranking should default to off")
	}
	if cfg.MemoryTTL != 24*time.Hour {
		t.Errorf("unexpected memory ttl %v", cfg.MemoryTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("QDRANT_GRPC_URL", "qdrant.internal:6334")
	t.Setenv("RERANKER_ENABLED", "true")
	t.Setenv("RERANKER_MODEL", "scorer")
	t.Setenv("JWT_EXPIRY", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Errorf("port override not applied: %d", cfg.HTTPPort)
	}
	if cfg.QdrantGRPCURL != "qdrant.internal:6334" {
		t.Errorf("qdrant override not applied: %q", cfg.QdrantGRPCURL)
	}
	if !cfg.RerankerEnabled || cfg.RerankerModel != "scorer" {
		t.Errorf("reranker overrides not applied: %+v", cfg)
	}
	if cfg.JWTExpiry != time.Hour {
		t.Errorf("expiry override not applied: %v", cfg.JWTExpiry)
	}
}

func TestLoad_OpenAIRequiresKey(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Error("expected error for openai provider without api key")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if _, err := Load(); err != nil {
		t.Errorf("load with key: %v", err)
	}
}

func TestLoad_RejectsBadChunking(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	if _, err := Load(); err == nil {
		t.Error("expected error when overlap >= size")
	}

	t.Setenv("CHUNK_SIZE", "0")
	t.Setenv("CHUNK_OVERLAP", "0")
	if _, err := Load(); err == nil {
		t.Error("expected error for zero chunk size")
	}
}
