package vectorstore

import (
	"context"
	"log/slog"
)

// TieredIndex tries the accelerated index first and degrades to the
// linear fallback on any error, including "not configured". Results of
// the two paths are observationally identical except for approximate vs.
// exact ranking near the score threshold.
type TieredIndex struct {
	primary  Index // nil when no accelerated index is configured
	fallback Index
	logger   *slog.Logger
}

// NewTieredIndex combines an optional accelerated index with a required
// fallback. primary may be nil.
func NewTieredIndex(primary, fallback Index, logger *slog.Logger) *TieredIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredIndex{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "vectorstore"),
	}
}

// EnsureCollection prepares the accelerated index. Failure is logged,
// not fatal: the fallback needs no preparation.
func (t *TieredIndex) EnsureCollection(ctx context.Context, dimension int) error {
	if t.primary == nil {
		return nil
	}
	if err := t.primary.EnsureCollection(ctx, dimension); err != nil {
		t.logger.Warn("accelerated index unavailable, queries will use linear scan", "error", err)
	}
	return nil
}

// Upsert mirrors points into the accelerated index. The chunk store
// already holds the vectors, so an index failure is logged and ingestion
// continues on the fallback path.
func (t *TieredIndex) Upsert(ctx context.Context, points []Point) error {
	if t.primary == nil {
		return nil
	}
	if err := t.primary.Upsert(ctx, points); err != nil {
		t.logger.Warn("index upsert failed", "points", len(points), "error", err)
	}
	return nil
}

// Delete removes points from the accelerated index.
func (t *TieredIndex) Delete(ctx context.Context, tenantID string, chunkIDs []string) error {
	if t.primary == nil {
		return nil
	}
	if err := t.primary.Delete(ctx, tenantID, chunkIDs); err != nil {
		t.logger.Warn("index delete failed", "tenant_id", tenantID, "error", err)
	}
	return nil
}

// DeleteBySource removes a source's points from the accelerated index.
func (t *TieredIndex) DeleteBySource(ctx context.Context, tenantID, sourceRef string) error {
	if t.primary == nil {
		return nil
	}
	if err := t.primary.DeleteBySource(ctx, tenantID, sourceRef); err != nil {
		t.logger.Warn("index delete by source failed", "tenant_id", tenantID, "source_ref", sourceRef, "error", err)
	}
	return nil
}

// Accelerated reports whether an accelerated index is configured.
func (t *TieredIndex) Accelerated() bool {
	return t.primary != nil
}

// Search tries the accelerated path; on any error it logs the cause and
// runs the linear scan.
func (t *TieredIndex) Search(ctx context.Context, tenantID string, vector []float32, k int, minScore float32) ([]Hit, error) {
	if t.primary != nil {
		hits, err := t.primary.Search(ctx, tenantID, vector, k, minScore)
		if err == nil {
			return hits, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("accelerated search failed, falling back to linear scan", "tenant_id", tenantID, "error", err)
	}
	return t.fallback.Search(ctx, tenantID, vector, k, minScore)
}

var _ Index = (*TieredIndex)(nil)
