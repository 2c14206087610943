package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nexora/rag/internal/repository"
)

// pagingChunkRepo drives the document service tests with configurable
// listing and delete outcomes.
type pagingChunkRepo struct {
	stubChunkRepo
	listed     []*repository.Chunk
	total      int
	lastLimit  int
	lastOffset int
	lastFilter repository.ChunkFilter
	deletedOK  bool
	deletedN   int64
	statsErr   error
}

func (r *pagingChunkRepo) List(_ context.Context, _ string, filter repository.ChunkFilter, limit, offset int) ([]*repository.Chunk, int, error) {
	r.lastFilter = filter
	r.lastLimit = limit
	r.lastOffset = offset
	return r.listed, r.total, nil
}

func (r *pagingChunkRepo) DeleteByID(context.Context, string, string) (bool, error) {
	return r.deletedOK, nil
}

func (r *pagingChunkRepo) DeleteBySource(context.Context, string, string) (int64, error) {
	return r.deletedN, nil
}

func (r *pagingChunkRepo) Stats(context.Context, string) (*repository.Stats, error) {
	if r.statsErr != nil {
		return nil, r.statsErr
	}
	return &repository.Stats{TotalChunks: 7}, nil
}

func TestDocumentService_ListClampsPaging(t *testing.T) {
	repo := &pagingChunkRepo{total: 0}
	svc := NewDocumentService(repo, &stubIndex{}, nil)
	ctx := context.Background()

	if _, err := svc.List(ctx, "t1", repository.ChunkFilter{}, 0, -5); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.lastLimit != defaultPageSize || repo.lastOffset != 0 {
		t.Errorf("expected defaults applied, got limit=%d offset=%d", repo.lastLimit, repo.lastOffset)
	}

	if _, err := svc.List(ctx, "t1", repository.ChunkFilter{}, 5000, 10); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.lastLimit != maxPageSize {
		t.Errorf("expected limit capped at %d, got %d", maxPageSize, repo.lastLimit)
	}

	if _, err := svc.List(ctx, "", repository.ChunkFilter{}, 10, 0); !errors.Is(err, repository.ErrMissingTenant) {
		t.Errorf("expected ErrMissingTenant, got %v", err)
	}
}

func TestDocumentService_ListProjectsPreviews(t *testing.T) {
	longBody := strings.Repeat("x", previewLen+100)
	repo := &pagingChunkRepo{
		listed: []*repository.Chunk{
			{ID: "c1", SourceRef: "https://a.example", SourceKind: repository.SourceWeb, Title: "A", Body: longBody, ChunkIndex: 1, TotalChunks: 4},
		},
		total: 1,
	}
	svc := NewDocumentService(repo, &stubIndex{}, nil)

	page, err := svc.List(context.Background(), "t1", repository.ChunkFilter{SourceKind: repository.SourceWeb}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || len(page.Chunks) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	view := page.Chunks[0]
	if len(view.Preview) != previewLen {
		t.Errorf("preview not truncated: %d chars", len(view.Preview))
	}
	if view.SourceKind != "web" || view.TotalChunks != 4 {
		t.Errorf("unexpected view: %+v", view)
	}
	if repo.lastFilter.SourceKind != repository.SourceWeb {
		t.Error("filter not passed through")
	}
}

func TestDocumentService_DeleteChunk(t *testing.T) {
	index := &stubIndex{}
	repo := &pagingChunkRepo{deletedOK: true}
	svc := NewDocumentService(repo, index, nil)

	if err := svc.DeleteChunk(context.Background(), "t1", "c1"); err != nil {
		t.Fatalf("delete chunk: %v", err)
	}
	if len(index.deleted) != 1 || index.deleted[0] != "c1" {
		t.Errorf("delete not mirrored to index: %+v", index.deleted)
	}

	repo.deletedOK = false
	if err := svc.DeleteChunk(context.Background(), "t1", "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := svc.DeleteChunk(context.Background(), "", "c1"); !errors.Is(err, repository.ErrMissingTenant) {
		t.Errorf("expected ErrMissingTenant, got %v", err)
	}
}

func TestDocumentService_DeleteSource(t *testing.T) {
	index := &stubIndex{}
	repo := &pagingChunkRepo{deletedN: 12}
	svc := NewDocumentService(repo, index, nil)

	n, err := svc.DeleteSource(context.Background(), "t1", "https://a.example")
	if err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if n != 12 {
		t.Errorf("expected 12 deleted, got %d", n)
	}
	if len(index.deletedSrc) != 1 || index.deletedSrc[0] != "https://a.example" {
		t.Errorf("source delete not mirrored: %+v", index.deletedSrc)
	}

	repo.deletedN = 0
	if _, err := svc.DeleteSource(context.Background(), "t1", "gone"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty source, got %v", err)
	}
}

func TestDocumentService_Stats(t *testing.T) {
	repo := &pagingChunkRepo{}
	svc := NewDocumentService(repo, &stubIndex{}, nil)

	stats, err := svc.Stats(context.Background(), "t1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChunks != 7 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	repo.statsErr = repository.ErrNotFound
	stats, err = svc.Stats(context.Background(), "t1")
	if err != nil {
		t.Fatalf("stats for empty tenant: %v", err)
	}
	if stats.TotalChunks != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}
