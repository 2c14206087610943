package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/vectorstore"
)

// fakeEmbedder fails batch calls and/or individual texts on demand.
type fakeEmbedder struct {
	batchErr error
	failText string
	calls    int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if text == e.failText {
		return nil, errors.New("embed failed")
	}
	return []float32{float32(len(text))}, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.batchErr != nil {
		return nil, e.batchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int    { return 1 }
func (e *fakeEmbedder) ModelName() string { return "fake" }

// fakeChunkRepo records puts and can refuse specific chunk bodies.
type fakeChunkRepo struct {
	exists  bool
	failPut string
	stored  []*repository.Chunk
}

func (r *fakeChunkRepo) Put(_ context.Context, chunk *repository.Chunk) error {
	if chunk.Body == r.failPut && r.failPut != "" {
		return errors.New("store refused")
	}
	r.stored = append(r.stored, chunk)
	return nil
}

func (r *fakeChunkRepo) SourceExists(context.Context, string, string) (bool, error) {
	return r.exists, nil
}

func (r *fakeChunkRepo) List(context.Context, string, repository.ChunkFilter, int, int) ([]*repository.Chunk, int, error) {
	return nil, 0, nil
}

func (r *fakeChunkRepo) GetMany(context.Context, string, []string) ([]*repository.Chunk, error) {
	return nil, nil
}

func (r *fakeChunkRepo) DeleteBySource(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (r *fakeChunkRepo) DeleteByID(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *fakeChunkRepo) Stats(context.Context, string) (*repository.Stats, error) {
	return &repository.Stats{}, nil
}

func (r *fakeChunkRepo) VectorsForTenant(context.Context, string) ([]repository.StoredVector, error) {
	return nil, nil
}

// fakeIndex records upserted points.
type fakeIndex struct {
	points  []vectorstore.Point
	upserts int
}

func (i *fakeIndex) EnsureCollection(context.Context, int) error { return nil }

func (i *fakeIndex) Upsert(_ context.Context, points []vectorstore.Point) error {
	i.upserts++
	i.points = append(i.points, points...)
	return nil
}

func (i *fakeIndex) Delete(context.Context, string, []string) error         { return nil }
func (i *fakeIndex) DeleteBySource(context.Context, string, string) error   { return nil }
func (i *fakeIndex) Search(context.Context, string, []float32, int, float32) ([]vectorstore.Hit, error) {
	return nil, nil
}

const twoParagraphs = "alpha alpha alpha.\n\nbeta beta beta."

func newTestPipeline(embed *fakeEmbedder, repo *fakeChunkRepo, index *fakeIndex) *Pipeline {
	return NewPipeline(NewChunker(20, 0), embed, repo, index, nil)
}

func TestPipeline_IngestStoresAndMirrors(t *testing.T) {
	embed := &fakeEmbedder{}
	repo := &fakeChunkRepo{}
	index := &fakeIndex{}
	p := newTestPipeline(embed, repo, index)

	result, err := p.Ingest(context.Background(), IngestRequest{
		TenantID:   "t1",
		SourceRef:  "https://example.com/page",
		SourceKind: repository.SourceWeb,
		Title:      "Example",
		Text:       twoParagraphs,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.ChunksCreated != 2 || result.ChunksAttempted != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(repo.stored) != 2 {
		t.Fatalf("expected 2 stored chunks, got %d", len(repo.stored))
	}
	for i, c := range repo.stored {
		if c.TenantID != "t1" || c.SourceRef != "https://example.com/page" {
			t.Errorf("chunk %d has wrong ownership: %+v", i, c)
		}
		if c.ChunkIndex != i || c.TotalChunks != 2 {
			t.Errorf("chunk %d has wrong position: index=%d total=%d", i, c.ChunkIndex, c.TotalChunks)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d missing embedding", i)
		}
		if c.ID == "" {
			t.Errorf("chunk %d missing id", i)
		}
	}

	if len(index.points) != 2 {
		t.Fatalf("expected 2 mirrored points, got %d", len(index.points))
	}
	for i, pt := range index.points {
		if pt.ChunkID != repo.stored[i].ID {
			t.Errorf("point %d does not match stored chunk", i)
		}
		if pt.TenantID != "t1" || pt.Payload.SourceRef != "https://example.com/page" {
			t.Errorf("point %d payload wrong: %+v", i, pt)
		}
	}
}

func TestPipeline_SkipIfExists(t *testing.T) {
	embed := &fakeEmbedder{}
	repo := &fakeChunkRepo{exists: true}
	index := &fakeIndex{}
	p := newTestPipeline(embed, repo, index)

	result, err := p.Ingest(context.Background(), IngestRequest{
		TenantID:     "t1",
		SourceRef:    "https://example.com/page",
		Text:         twoParagraphs,
		SkipIfExists: true,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Skipped {
		t.Error("expected result marked skipped")
	}
	if embed.calls != 0 || len(repo.stored) != 0 || index.upserts != 0 {
		t.Error("skipped source should not be embedded or stored")
	}
}

func TestPipeline_RequiresTenantAndSource(t *testing.T) {
	p := newTestPipeline(&fakeEmbedder{}, &fakeChunkRepo{}, &fakeIndex{})

	_, err := p.Ingest(context.Background(), IngestRequest{SourceRef: "x", Text: "hello"})
	if !errors.Is(err, repository.ErrMissingTenant) {
		t.Errorf("expected ErrMissingTenant, got %v", err)
	}

	_, err = p.Ingest(context.Background(), IngestRequest{TenantID: "t1", Text: "hello"})
	if err == nil {
		t.Error("expected error for empty source ref")
	}
}

func TestPipeline_EmptyTextYieldsNoChunks(t *testing.T) {
	index := &fakeIndex{}
	p := newTestPipeline(&fakeEmbedder{}, &fakeChunkRepo{}, index)

	result, err := p.Ingest(context.Background(), IngestRequest{
		TenantID:  "t1",
		SourceRef: "https://example.com/empty",
		Text:      "   \n\n  ",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.ChunksAttempted != 0 || result.ChunksCreated != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if index.upserts != 0 {
		t.Error("nothing should be upserted for empty text")
	}
}

func TestPipeline_FailedEmbedSkipsChunkOnly(t *testing.T) {
	embed := &fakeEmbedder{batchErr: errors.New("batch down"), failText: "alpha alpha alpha."}
	repo := &fakeChunkRepo{}
	index := &fakeIndex{}
	p := newTestPipeline(embed, repo, index)

	result, err := p.Ingest(context.Background(), IngestRequest{
		TenantID:  "t1",
		SourceRef: "https://example.com/page",
		Text:      twoParagraphs,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.ChunksAttempted != 2 || result.ChunksCreated != 1 {
		t.Errorf("expected 1 of 2 chunks created, got %+v", result)
	}
	if len(repo.stored) != 1 || repo.stored[0].Body != "beta beta beta." {
		t.Errorf("wrong chunk stored: %+v", repo.stored)
	}
	if len(index.points) != 1 {
		t.Errorf("failed chunk must not be mirrored, got %d points", len(index.points))
	}
}

func TestPipeline_FailedStoreNotMirrored(t *testing.T) {
	embed := &fakeEmbedder{}
	repo := &fakeChunkRepo{failPut: "alpha alpha alpha."}
	index := &fakeIndex{}
	p := newTestPipeline(embed, repo, index)

	result, err := p.Ingest(context.Background(), IngestRequest{
		TenantID:  "t1",
		SourceRef: "https://example.com/page",
		Text:      twoParagraphs,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.ChunksCreated != 1 {
		t.Errorf("expected 1 chunk created, got %d", result.ChunksCreated)
	}
	for _, pt := range index.points {
		if pt.ChunkID == "" {
			t.Error("mirrored point without stored chunk id")
		}
	}
	if len(index.points) != 1 {
		t.Errorf("unstored chunk must not be searchable, got %d points", len(index.points))
	}
}

func TestHashContent(t *testing.T) {
	a := hashContent([]byte("same"))
	b := hashContent([]byte("same"))
	c := hashContent([]byte("different"))

	if a != b {
		t.Error("identical content should hash identically")
	}
	if a == c {
		t.Error("different content should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
