package service

import (
	"context"
	"time"

	"github.com/nexora/rag/internal/embedder"
	"github.com/nexora/rag/internal/llm"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/vectorstore"
)

// Pinger checks reachability of the backing database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the service health report behind /api/status.
type Status struct {
	Status         string              `json:"status"`
	Database       string              `json:"database"`
	TotalChunks    int                 `json:"total_chunks"`
	UniqueSources  int                 `json:"unique_sources"`
	VectorBackend  string              `json:"vector_backend"`
	EmbeddingModel string              `json:"embedding_model"`
	EmbeddingDim   int                 `json:"embedding_dimension"`
	LLMModel       string              `json:"llm_model"`
	Cache          embedder.CacheStats `json:"embedding_cache"`
	Uptime         string              `json:"uptime"`
}

// StatusService reports component health.
type StatusService struct {
	db      Pinger
	index   *vectorstore.TieredIndex
	embed   embedder.Embedder
	cache   *embedder.Cache
	llm     llm.LLM
	chunks  repository.ChunkRepository
	started time.Time
}

// NewStatusService creates a StatusService. cache may equal embed when
// the embedder is wrapped; it is kept separately for its counters.
func NewStatusService(db Pinger, index *vectorstore.TieredIndex, embed embedder.Embedder, cache *embedder.Cache, llmClient llm.LLM, chunks repository.ChunkRepository) *StatusService {
	return &StatusService{
		db:      db,
		index:   index,
		embed:   embed,
		cache:   cache,
		llm:     llmClient,
		chunks:  chunks,
		started: time.Now(),
	}
}

// Report assembles the current health snapshot for one tenant. A failed
// database ping degrades the overall status but never errors: the report
// itself is the diagnostic.
func (s *StatusService) Report(ctx context.Context, tenantID string) Status {
	st := Status{
		Status:         "ok",
		Database:       "ok",
		VectorBackend:  "linear_scan",
		EmbeddingModel: s.embed.ModelName(),
		EmbeddingDim:   s.embed.Dimension(),
		LLMModel:       s.llm.ModelName(),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
	}
	if s.index != nil && s.index.Accelerated() {
		st.VectorBackend = "qdrant"
	}
	if s.cache != nil {
		st.Cache = s.cache.Stats()
	}
	if stats, err := s.chunks.Stats(ctx, tenantID); err == nil {
		st.TotalChunks = stats.TotalChunks
		st.UniqueSources = stats.UniqueSources
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.Ping(pingCtx); err != nil {
		st.Database = "unreachable"
		st.Status = "degraded"
	}
	return st
}
