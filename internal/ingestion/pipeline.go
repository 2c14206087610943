package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexora/rag/internal/embedder"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/vectorstore"
)

// IngestRequest describes one source to run through the pipeline.
type IngestRequest struct {
	TenantID   string
	SourceRef  string
	SourceKind repository.SourceKind
	Title      string
	Text       string
	Extra      map[string]string

	// SkipIfExists enforces at-most-once ingestion per (tenant, source).
	SkipIfExists bool
}

// IngestResult reports what the pipeline did for one source.
type IngestResult struct {
	SourceRef       string
	Title           string
	Skipped         bool
	ChunksAttempted int
	ChunksCreated   int
	TotalCharacters int
	Duration        time.Duration
}

// Pipeline runs the shared ingestion path: chunk, embed (cache-aware),
// store with the tenant id, and mirror into the vector index. A chunk
// that fails to embed or store is logged and skipped; ingestion
// continues with the next one.
type Pipeline struct {
	chunker *Chunker
	embed   embedder.Embedder
	chunks  repository.ChunkRepository
	index   vectorstore.Index
	logger  *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(chunker *Chunker, embed embedder.Embedder, chunks repository.ChunkRepository, index vectorstore.Index, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker: chunker,
		embed:   embed,
		chunks:  chunks,
		index:   index,
		logger:  logger.With("component", "ingestion"),
	}
}

// Ingest processes one source. The store write happens before the index
// upsert, so a chunk is never searchable without being hydratable.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()

	if req.TenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	if req.SourceRef == "" {
		return nil, fmt.Errorf("source ref cannot be empty")
	}

	result := &IngestResult{SourceRef: req.SourceRef, Title: req.Title}

	if req.SkipIfExists {
		exists, err := p.chunks.SourceExists(ctx, req.TenantID, req.SourceRef)
		if err != nil {
			return nil, fmt.Errorf("checking source existence: %w", err)
		}
		if exists {
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	bodies := p.chunker.Chunk(req.Text)
	result.ChunksAttempted = len(bodies)
	if len(bodies) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	vectors := p.embedAll(ctx, bodies)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	now := time.Now().UTC()
	var points []vectorstore.Point
	for i, body := range bodies {
		if vectors[i] == nil {
			continue
		}
		chunk := &repository.Chunk{
			ID:          uuid.New().String(),
			TenantID:    req.TenantID,
			SourceRef:   req.SourceRef,
			SourceKind:  req.SourceKind,
			Title:       req.Title,
			Body:        body,
			ChunkIndex:  i,
			TotalChunks: len(bodies),
			Embedding:   vectors[i],
			Extra:       req.Extra,
			CreatedAt:   now,
		}
		if err := p.chunks.Put(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("failed to store chunk, skipping",
				"tenant_id", req.TenantID, "source_ref", req.SourceRef, "chunk_index", i, "error", err)
			continue
		}
		result.ChunksCreated++
		result.TotalCharacters += len(body)
		points = append(points, vectorstore.Point{
			ChunkID:  chunk.ID,
			TenantID: chunk.TenantID,
			Vector:   chunk.Embedding,
			Payload: vectorstore.Payload{
				SourceRef:  chunk.SourceRef,
				SourceKind: string(chunk.SourceKind),
				Title:      chunk.Title,
				ChunkIndex: chunk.ChunkIndex,
			},
		})
	}

	if err := p.index.Upsert(ctx, points); err != nil {
		return nil, fmt.Errorf("upserting vectors: %w", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// embedAll embeds the chunk bodies, preferring one batch call. When the
// batch fails it degrades to per-chunk embedding so a single bad chunk
// cannot sink the whole source; failed entries stay nil.
func (p *Pipeline) embedAll(ctx context.Context, bodies []string) [][]float32 {
	vectors, err := p.embed.EmbedBatch(ctx, bodies)
	if err == nil && len(vectors) == len(bodies) {
		return vectors
	}
	if ctx.Err() != nil {
		return make([][]float32, len(bodies))
	}
	p.logger.Warn("batch embedding failed, retrying per chunk", "chunks", len(bodies), "error", err)

	vectors = make([][]float32, len(bodies))
	for i, body := range bodies {
		if ctx.Err() != nil {
			return vectors
		}
		vec, err := p.embed.Embed(ctx, body)
		if err != nil {
			p.logger.Warn("failed to embed chunk, skipping", "chunk_index", i, "error", err)
			continue
		}
		vectors[i] = vec
	}
	return vectors
}

// hashContent generates a SHA-256 hash of the content, used as the
// source ref for uploaded files.
func hashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
