// Package crawler turns seed URLs into ingested chunks. Each crawl job
// runs on its own background worker with bounded concurrent fetches,
// per-request delay, and robots.txt politeness; progress is durable via
// the crawl job repository.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nexora/rag/internal/ingestion"
	"github.com/nexora/rag/internal/repository"
)

// maxLinksPerPage bounds how many same-domain links one page may add to
// the frontier.
const maxLinksPerPage = 10

// MaxDepthLimit caps the crawl depth accepted from clients.
const MaxDepthLimit = 5

// Config holds orchestrator-wide crawl settings.
type Config struct {
	UserAgent    string
	Delay        time.Duration
	Concurrency  int
	FetchTimeout time.Duration
	MaxPages     int
	ObeyRobots   bool
}

// Orchestrator starts and supervises crawl jobs. Start is non-blocking:
// the crawl runs to completion on a background goroutine and its
// lifecycle is observed through the job record.
type Orchestrator struct {
	pipeline *ingestion.Pipeline
	jobs     repository.CrawlJobRepository
	cfg      Config
	logger   *slog.Logger

	httpFetcher    Fetcher
	browserFetcher Fetcher
	robots         *robotsCache

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a crawl orchestrator.
func New(pipeline *ingestion.Pipeline, jobs repository.CrawlJobRepository, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		pipeline:       pipeline,
		jobs:           jobs,
		cfg:            cfg,
		logger:         logger.With("component", "crawler"),
		httpFetcher:    NewHTTPFetcher(cfg.FetchTimeout, cfg.UserAgent),
		browserFetcher: NewBrowserFetcher(cfg.FetchTimeout, cfg.UserAgent),
		robots:         newRobotsCache(cfg.UserAgent),
		cancels:        make(map[string]context.CancelFunc),
	}
}

// Start validates the seed URL, records a queued job, and launches the
// crawl worker. It returns immediately with the job.
func (o *Orchestrator) Start(ctx context.Context, tenantID, seedURL string, opts repository.CrawlOptions) (*repository.CrawlJob, error) {
	if tenantID == "" {
		return nil, repository.ErrMissingTenant
	}
	seed, err := url.Parse(seedURL)
	if err != nil || (seed.Scheme != "http" && seed.Scheme != "https") || seed.Host == "" {
		return nil, fmt.Errorf("invalid seed url: %q", seedURL)
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.MaxDepth > MaxDepthLimit {
		opts.MaxDepth = MaxDepthLimit
	}
	if opts.MaxPages <= 0 || opts.MaxPages > o.cfg.MaxPages {
		opts.MaxPages = o.cfg.MaxPages
	}

	job := &repository.CrawlJob{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		SeedURL:   seed.String(),
		Options:   opts,
		Status:    repository.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating crawl job: %w", err)
	}

	// The worker mutates job as it runs; callers get a snapshot of the
	// queued state.
	snapshot := *job

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, job.ID)
			o.mu.Unlock()
		}()
		o.run(runCtx, job)
	}()

	return &snapshot, nil
}

// Cancel aborts a running job. The worker observes the cancellation at
// its next suspension point and records the terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, jobID string) error {
	job, err := o.jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, job.Status)
	}

	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	// Worker already gone (process restart); finalize directly.
	now := time.Now().UTC()
	job.Status = repository.JobCancelled
	job.CompletedAt = &now
	return o.jobs.Update(ctx, job)
}

// Close waits for running crawls to finish.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

type frontierEntry struct {
	url   string
	depth int
}

func (o *Orchestrator) run(ctx context.Context, job *repository.CrawlJob) {
	logger := o.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "seed", job.SeedURL)
	logger.Info("crawl started")

	now := time.Now().UTC()
	job.Status = repository.JobRunning
	job.StartedAt = &now
	o.updateJob(job)

	fetcher := o.httpFetcher
	if job.Options.UseBrowser {
		fetcher = o.browserFetcher
	}

	var (
		jobMu     sync.Mutex
		visited   = map[string]bool{job.SeedURL: true}
		frontier  = []frontierEntry{{url: job.SeedURL, depth: 0}}
		scheduled = 1
		seedErr   error
	)

	for len(frontier) > 0 && ctx.Err() == nil {
		var nextLevel []frontierEntry

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.Concurrency)

		for _, entry := range frontier {
			entry := entry
			g.Go(func() error {
				links, err := o.crawlPage(gctx, job, &jobMu, fetcher, entry, logger)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("page failed", "url", entry.url, "depth", entry.depth, "error", err)
					if entry.depth == 0 {
						seedErr = err
					}
					return nil
				}
				if job.Options.FollowLinks && entry.depth < job.Options.MaxDepth {
					jobMu.Lock()
					for _, link := range links {
						if visited[link] {
							continue
						}
						if scheduled >= job.Options.MaxPages {
							break
						}
						visited[link] = true
						scheduled++
						nextLevel = append(nextLevel, frontierEntry{url: link, depth: entry.depth + 1})
					}
					jobMu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			break
		}
		frontier = nextLevel
	}

	now = time.Now().UTC()
	job.CompletedAt = &now
	switch {
	case ctx.Err() != nil:
		job.Status = repository.JobCancelled
		logger.Info("crawl cancelled", "pages_crawled", job.PagesCrawled)
	case job.PagesCrawled == 0 && seedErr != nil:
		job.Status = repository.JobFailed
		job.ErrorMessage = seedErr.Error()
		logger.Warn("crawl failed", "error", seedErr)
	default:
		job.Status = repository.JobCompleted
		logger.Info("crawl completed", "pages_crawled", job.PagesCrawled, "chunks_created", job.ChunksCreated)
	}
	o.updateJob(job)
}

// crawlPage fetches, extracts, and ingests one page, returning the
// same-domain links to enqueue. Pages already ingested for this tenant
// are skipped without counting.
func (o *Orchestrator) crawlPage(ctx context.Context, job *repository.CrawlJob, jobMu *sync.Mutex, fetcher Fetcher, entry frontierEntry, logger *slog.Logger) ([]string, error) {
	select {
	case <-time.After(o.cfg.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	pageURL, err := url.Parse(entry.url)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if o.cfg.ObeyRobots && !o.robots.Allowed(ctx, pageURL) {
		logger.Info("page disallowed by robots.txt", "url", entry.url)
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	rawHTML, err := fetcher.Fetch(fetchCtx, entry.url)
	cancel()
	if err != nil {
		return nil, err
	}

	page := ExtractPage(rawHTML, pageURL)
	links := page.Links
	if len(links) > maxLinksPerPage {
		links = links[:maxLinksPerPage]
	}

	if len(page.Text) < minPageText {
		logger.Warn("page has insufficient text, skipping", "url", entry.url, "chars", len(page.Text))
		return links, nil
	}

	res, err := o.pipeline.Ingest(ctx, ingestion.IngestRequest{
		TenantID:   job.TenantID,
		SourceRef:  entry.url,
		SourceKind: repository.SourceWeb,
		Title:      page.Title,
		Text:       page.Text,
		Extra: map[string]string{
			"url":   entry.url,
			"depth": strconv.Itoa(entry.depth),
		},
		SkipIfExists: true,
	})
	if err != nil {
		return links, err
	}
	if res.Skipped {
		logger.Info("page already ingested, skipping", "url", entry.url)
		return links, nil
	}

	jobMu.Lock()
	job.PagesCrawled++
	job.ChunksCreated += res.ChunksCreated
	o.updateJob(job)
	jobMu.Unlock()

	logger.Info("page ingested", "url", entry.url, "depth", entry.depth, "chunks", res.ChunksCreated)
	return links, nil
}

func (o *Orchestrator) updateJob(job *repository.CrawlJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.jobs.Update(ctx, job); err != nil {
		o.logger.Warn("failed to persist job update", "job_id", job.ID, "error", err)
	}
}
