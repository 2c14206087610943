package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nexora/rag/internal/repository"
)

// ChunkSource is the slice of the chunk store the fallback scan needs.
type ChunkSource interface {
	VectorsForTenant(ctx context.Context, tenantID string) ([]repository.StoredVector, error)
	GetMany(ctx context.Context, tenantID string, ids []string) ([]*repository.Chunk, error)
}

// Fallback implements Index with a linear cosine scan over the vectors
// stored inline with the chunks. It is exact but slow; TieredIndex uses
// it when the accelerated index errors or is not configured. Writes are
// no-ops because the chunk store already holds the vectors.
type Fallback struct {
	source ChunkSource
}

// NewFallback creates a linear-scan index over the given chunk source.
func NewFallback(source ChunkSource) *Fallback {
	return &Fallback{source: source}
}

// EnsureCollection is a no-op; the chunk store is the storage.
func (f *Fallback) EnsureCollection(ctx context.Context, dimension int) error {
	return nil
}

// Upsert is a no-op; vectors are persisted by the chunk store.
func (f *Fallback) Upsert(ctx context.Context, points []Point) error {
	return nil
}

// Delete is a no-op; deletes happen in the chunk store.
func (f *Fallback) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	return nil
}

// DeleteBySource is a no-op; deletes happen in the chunk store.
func (f *Fallback) DeleteBySource(ctx context.Context, tenantID, sourceRef string) error {
	return nil
}

// Search loads all of the tenant's vectors, scores them in-process,
// and returns the top k above minScore.
func (f *Fallback) Search(ctx context.Context, tenantID string, vector []float32, k int, minScore float32) ([]Hit, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}

	stored, err := f.source.VectorsForTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading tenant vectors: %w", err)
	}

	scored := make([]Hit, 0, len(stored))
	for _, sv := range stored {
		score := CosineSimilarity(vector, sv.Vector)
		if score < minScore {
			continue
		}
		scored = append(scored, Hit{ChunkID: sv.ChunkID, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	if len(scored) == 0 {
		return nil, nil
	}

	// Hydrate payloads for the survivors only.
	ids := make([]string, len(scored))
	for i, h := range scored {
		ids[i] = h.ChunkID
	}
	chunks, err := f.source.GetMany(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrating hits: %w", err)
	}
	byID := make(map[string]*repository.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	hits := scored[:0]
	for _, h := range scored {
		c, ok := byID[h.ChunkID]
		if !ok {
			// Chunk deleted between scan and hydration; drop the hit.
			continue
		}
		h.Payload = Payload{
			SourceRef:  c.SourceRef,
			SourceKind: string(c.SourceKind),
			Title:      c.Title,
			ChunkIndex: c.ChunkIndex,
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ Index = (*Fallback)(nil)
