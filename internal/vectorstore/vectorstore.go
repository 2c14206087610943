// Package vectorstore provides tenant-filtered vector similarity search.
//
// Search runs on two tiers: an accelerated Qdrant index queried with a
// server-side tenant filter, and a linear in-process cosine scan over the
// vectors stored inline with the chunks. TieredIndex tries the accelerated
// path first and degrades to the scan on any error, so queries keep
// answering when the index is down or was never configured.
package vectorstore

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the accelerated index refused or errored.
// It triggers the linear fallback rather than surfacing to the caller.
var ErrUnavailable = errors.New("vector index unavailable")

// Payload is the projection of chunk metadata stored with each point so
// hits can be presented without a second store lookup.
type Payload struct {
	SourceRef  string
	SourceKind string
	Title      string
	ChunkIndex int
}

// Point is a chunk vector with its tenant and payload.
type Point struct {
	ChunkID  string
	TenantID string
	Vector   []float32
	Payload  Payload
}

// Hit is a search result, ordered by descending cosine similarity.
// Both backends normalize to this shape.
type Hit struct {
	ChunkID string
	Score   float32
	Payload Payload
}

// Index defines tenant-filtered vector search. The tenant filter is part
// of every query; implementations never post-filter.
type Index interface {
	// EnsureCollection prepares storage for vectors of the given
	// dimension. The dimension comes from the active embedding provider.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or replaces points.
	Upsert(ctx context.Context, points []Point) error

	// Delete removes points by chunk id for one tenant.
	Delete(ctx context.Context, tenantID string, chunkIDs []string) error

	// DeleteBySource removes all points of one tenant's source.
	DeleteBySource(ctx context.Context, tenantID, sourceRef string) error

	// Search returns the top k points for the tenant with
	// score >= minScore, ordered by descending similarity.
	Search(ctx context.Context, tenantID string, vector []float32, k int, minScore float32) ([]Hit, error)
}
