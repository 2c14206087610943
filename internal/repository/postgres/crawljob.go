package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nexora/rag/internal/repository"
)

// CrawlJobRepo implements repository.CrawlJobRepository
type CrawlJobRepo struct {
	db *DB
}

// NewCrawlJobRepo creates a new crawl job repository
func NewCrawlJobRepo(db *DB) *CrawlJobRepo {
	return &CrawlJobRepo{db: db}
}

const crawlJobColumns = `id, tenant_id, seed_url, options, status, pages_crawled, chunks_created, error_message, created_at, started_at, completed_at`

// Create records a new crawl job.
func (r *CrawlJobRepo) Create(ctx context.Context, job *repository.CrawlJob) error {
	if job.TenantID == "" {
		return repository.ErrMissingTenant
	}
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		INSERT INTO crawl_jobs (` + crawlJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		job.ID, job.TenantID, job.SeedURL, optionsJSON, string(job.Status),
		job.PagesCrawled, job.ChunksCreated, job.ErrorMessage,
		job.CreatedAt, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create crawl job: %w", err)
	}
	return nil
}

// GetByID retrieves one of the tenant's crawl jobs.
func (r *CrawlJobRepo) GetByID(ctx context.Context, tenantID, id string) (*repository.CrawlJob, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	query := `SELECT ` + crawlJobColumns + ` FROM crawl_jobs WHERE tenant_id = $1 AND id = $2`

	var job repository.CrawlJob
	var status string
	var optionsJSON []byte
	err := r.db.Pool.QueryRow(ctx, query, tenantID, id).Scan(
		&job.ID, &job.TenantID, &job.SeedURL, &optionsJSON, &status,
		&job.PagesCrawled, &job.ChunksCreated, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get crawl job: %w", err)
	}
	job.Status = repository.JobStatus(status)
	if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return &job, nil
}

// List retrieves the tenant's crawl jobs, newest first, with an
// optional status filter.
func (r *CrawlJobRepo) List(ctx context.Context, tenantID string, status repository.JobStatus, limit, offset int) ([]*repository.CrawlJob, int, error) {
	if tenantID == "" {
		return nil, 0, repository.ErrMissingTenant
	}

	countQuery := `SELECT COUNT(*) FROM crawl_jobs WHERE tenant_id = $1`
	listQuery := `SELECT ` + crawlJobColumns + ` FROM crawl_jobs WHERE tenant_id = $1`
	args := []any{tenantID}

	if status != "" {
		countQuery += ` AND status = $2`
		listQuery += ` AND status = $2`
		args = append(args, string(status))
	}

	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)

	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count crawl jobs: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.Pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list crawl jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*repository.CrawlJob
	for rows.Next() {
		var job repository.CrawlJob
		var st string
		var optionsJSON []byte
		if err := rows.Scan(&job.ID, &job.TenantID, &job.SeedURL, &optionsJSON, &st,
			&job.PagesCrawled, &job.ChunksCreated, &job.ErrorMessage,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan crawl job: %w", err)
		}
		job.Status = repository.JobStatus(st)
		if err := json.Unmarshal(optionsJSON, &job.Options); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal options: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, total, rows.Err()
}

// Update persists job progress and state transitions. Terminal rows are
// never overwritten.
func (r *CrawlJobRepo) Update(ctx context.Context, job *repository.CrawlJob) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		UPDATE crawl_jobs
		SET status = $2, options = $3, pages_crawled = $4, chunks_created = $5,
		    error_message = $6, started_at = $7, completed_at = $8
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`
	result, err := r.db.Pool.Exec(ctx, query,
		job.ID, string(job.Status), optionsJSON, job.PagesCrawled, job.ChunksCreated,
		job.ErrorMessage, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update crawl job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure CrawlJobRepo implements the interface
var _ repository.CrawlJobRepository = (*CrawlJobRepo)(nil)
