package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nexora/rag/internal/repository"
)

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

const chunkColumns = `id, tenant_id, source_ref, source_kind, title, body, chunk_index, total_chunks, embedding, extra, created_at`

// Put inserts or replaces a chunk.
func (r *ChunkRepo) Put(ctx context.Context, chunk *repository.Chunk) error {
	if chunk.TenantID == "" {
		return repository.ErrMissingTenant
	}
	extraJSON, err := json.Marshal(chunk.Extra)
	if err != nil {
		return fmt.Errorf("failed to marshal extra: %w", err)
	}

	query := `
		INSERT INTO chunks (` + chunkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			source_ref = EXCLUDED.source_ref,
			source_kind = EXCLUDED.source_kind,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			embedding = EXCLUDED.embedding,
			extra = EXCLUDED.extra
	`
	_, err = r.db.Pool.Exec(ctx, query,
		chunk.ID, chunk.TenantID, chunk.SourceRef, string(chunk.SourceKind),
		chunk.Title, chunk.Body, chunk.ChunkIndex, chunk.TotalChunks,
		chunk.Embedding, extraJSON, chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to put chunk: %w", err)
	}
	return nil
}

// SourceExists reports whether the tenant already has chunks for the source.
func (r *ChunkRepo) SourceExists(ctx context.Context, tenantID, sourceRef string) (bool, error) {
	if tenantID == "" {
		return false, repository.ErrMissingTenant
	}
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chunks WHERE tenant_id = $1 AND source_ref = $2)`,
		tenantID, sourceRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check source: %w", err)
	}
	return exists, nil
}

// List returns one page of the tenant's chunks, newest source first,
// ordered by chunk index within a source.
func (r *ChunkRepo) List(ctx context.Context, tenantID string, filter repository.ChunkFilter, limit, offset int) ([]*repository.Chunk, int, error) {
	if tenantID == "" {
		return nil, 0, repository.ErrMissingTenant
	}

	where := `WHERE tenant_id = $1`
	args := []any{tenantID}
	if filter.SourceKind != "" {
		args = append(args, string(filter.SourceKind))
		where += fmt.Sprintf(` AND source_kind = $%d`, len(args))
	}
	if filter.SourceRef != "" {
		args = append(args, filter.SourceRef)
		where += fmt.Sprintf(` AND source_ref = $%d`, len(args))
	}

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	query := `SELECT ` + chunkColumns + ` FROM chunks ` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, source_ref, chunk_index LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows)
	if err != nil {
		return nil, 0, err
	}
	return chunks, total, nil
}

// GetMany returns the chunks for the given ids. Missing ids are dropped.
func (r *ChunkRepo) GetMany(ctx context.Context, tenantID string, ids []string) ([]*repository.Chunk, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// DeleteBySource removes all of one source's chunks and returns the count.
func (r *ChunkRepo) DeleteBySource(ctx context.Context, tenantID, sourceRef string) (int64, error) {
	if tenantID == "" {
		return 0, repository.ErrMissingTenant
	}
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND source_ref = $2`, tenantID, sourceRef)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByID removes one chunk, reporting whether it existed.
func (r *ChunkRepo) DeleteByID(ctx context.Context, tenantID, id string) (bool, error) {
	if tenantID == "" {
		return false, repository.ErrMissingTenant
	}
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chunk: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Stats aggregates the tenant's stored content.
func (r *ChunkRepo) Stats(ctx context.Context, tenantID string) (*repository.Stats, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}

	stats := &repository.Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT source_ref), COALESCE(AVG(LENGTH(body)), 0)
		FROM chunks WHERE tenant_id = $1
	`, tenantID).Scan(&stats.TotalChunks, &stats.UniqueSources, &stats.AvgBodyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT source_ref, source_kind, COUNT(*)
		FROM chunks WHERE tenant_id = $1
		GROUP BY source_ref, source_kind
		ORDER BY COUNT(*) DESC, source_ref
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s repository.SourceStat
		var kind string
		if err := rows.Scan(&s.SourceRef, &kind, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan source stat: %w", err)
		}
		s.Kind = repository.SourceKind(kind)
		stats.Sources = append(stats.Sources, s)
	}
	return stats, rows.Err()
}

// VectorsForTenant streams all stored embeddings for the linear scan.
func (r *ChunkRepo) VectorsForTenant(ctx context.Context, tenantID string) ([]repository.StoredVector, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, embedding FROM chunks WHERE tenant_id = $1 AND embedding IS NOT NULL`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors: %w", err)
	}
	defer rows.Close()

	var vectors []repository.StoredVector
	for rows.Next() {
		var v repository.StoredVector
		if err := rows.Scan(&v.ChunkID, &v.Vector); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

func scanChunks(rows pgx.Rows) ([]*repository.Chunk, error) {
	var chunks []*repository.Chunk
	for rows.Next() {
		var c repository.Chunk
		var kind string
		var extraJSON []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SourceRef, &kind, &c.Title, &c.Body,
			&c.ChunkIndex, &c.TotalChunks, &c.Embedding, &extraJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.SourceKind = repository.SourceKind(kind)
		c.Extra = make(map[string]string)
		if len(extraJSON) > 0 {
			if err := json.Unmarshal(extraJSON, &c.Extra); err != nil {
				return nil, fmt.Errorf("failed to unmarshal extra: %w", err)
			}
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return chunks, nil
}

// Ensure ChunkRepo implements the interface
var _ repository.ChunkRepository = (*ChunkRepo)(nil)
