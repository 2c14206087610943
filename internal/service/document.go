package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/vectorstore"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	previewLen      = 200
)

// ChunkView is the API projection of a stored chunk. Body is truncated
// to a preview; full bodies only travel through the query path.
type ChunkView struct {
	ID          string    `json:"id"`
	SourceRef   string    `json:"source_ref"`
	SourceKind  string    `json:"source_type"`
	Title       string    `json:"title"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	Preview     string    `json:"preview"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChunkPage is one page of a tenant's chunk listing.
type ChunkPage struct {
	Chunks []ChunkView `json:"chunks"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// DocumentService manages a tenant's stored content: listing, deletion,
// and aggregate statistics. Deletions are mirrored to the vector index;
// the store is authoritative, so index failures are logged and the
// operation still succeeds.
type DocumentService struct {
	chunks repository.ChunkRepository
	index  vectorstore.Index
	logger *slog.Logger
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(chunks repository.ChunkRepository, index vectorstore.Index, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		chunks: chunks,
		index:  index,
		logger: logger.With("component", "documents"),
	}
}

// List returns one page of the tenant's chunks, optionally filtered by
// source kind or source ref.
func (s *DocumentService) List(ctx context.Context, tenantID string, filter repository.ChunkFilter, limit, offset int) (*ChunkPage, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	chunks, total, err := s.chunks.List(ctx, tenantID, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}

	views := make([]ChunkView, len(chunks))
	for i, c := range chunks {
		views[i] = toChunkView(c)
	}
	return &ChunkPage{Chunks: views, Total: total, Limit: limit, Offset: offset}, nil
}

// DeleteChunk removes a single chunk from the store and mirrors the
// removal to the index.
func (s *DocumentService) DeleteChunk(ctx context.Context, tenantID, chunkID string) error {
	if tenantID == "" {
		return repository.ErrMissingTenant
	}
	deleted, err := s.chunks.DeleteByID(ctx, tenantID, chunkID)
	if err != nil {
		return fmt.Errorf("deleting chunk: %w", err)
	}
	if !deleted {
		return repository.ErrNotFound
	}
	if err := s.index.Delete(ctx, tenantID, []string{chunkID}); err != nil {
		s.logger.Warn("index delete failed", "tenant_id", tenantID, "chunk_id", chunkID, "error", err)
	}
	return nil
}

// DeleteSource removes every chunk of one source and mirrors the
// removal to the index. Returns how many chunks were removed.
func (s *DocumentService) DeleteSource(ctx context.Context, tenantID, sourceRef string) (int64, error) {
	if tenantID == "" {
		return 0, repository.ErrMissingTenant
	}
	n, err := s.chunks.DeleteBySource(ctx, tenantID, sourceRef)
	if err != nil {
		return 0, fmt.Errorf("deleting source: %w", err)
	}
	if n == 0 {
		return 0, repository.ErrNotFound
	}
	if err := s.index.DeleteBySource(ctx, tenantID, sourceRef); err != nil {
		s.logger.Warn("index source delete failed", "tenant_id", tenantID, "source_ref", sourceRef, "error", err)
	}
	return n, nil
}

// Stats returns the tenant's content statistics.
func (s *DocumentService) Stats(ctx context.Context, tenantID string) (*repository.Stats, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	stats, err := s.chunks.Stats(ctx, tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &repository.Stats{}, nil
		}
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return stats, nil
}

func toChunkView(c *repository.Chunk) ChunkView {
	preview := c.Body
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	return ChunkView{
		ID:          c.ID,
		SourceRef:   c.SourceRef,
		SourceKind:  string(c.SourceKind),
		Title:       c.Title,
		ChunkIndex:  c.ChunkIndex,
		TotalChunks: c.TotalChunks,
		Preview:     preview,
		CreatedAt:   c.CreatedAt,
	}
}
