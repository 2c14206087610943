package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nexora/rag/internal/repository"
)

const (
	recorderWorkers = 2
	recorderQueue   = 256
	appendTimeout   = 10 * time.Second
)

type appendJob struct {
	tenantID  string
	sessionID string
	messages  []repository.ChatMessage
}

// Recorder appends chat turns to durable storage from a small worker
// pool. The response path never waits on it; persistence failures are
// logged and dropped.
type Recorder struct {
	repo   repository.ChatRepository
	logger *slog.Logger
	jobs   chan appendJob
	wg     sync.WaitGroup

	closeOnce sync.Once
	sweepStop chan struct{}
}

// NewRecorder starts the worker pool and a periodic TTL sweep that
// deletes sessions idle longer than ttl.
func NewRecorder(repo repository.ChatRepository, ttl time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		repo:      repo,
		logger:    logger.With("component", "memory"),
		jobs:      make(chan appendJob, recorderQueue),
		sweepStop: make(chan struct{}),
	}
	for i := 0; i < recorderWorkers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	go r.sweepLoop(ttl)
	return r
}

// Record submits messages for durable append. It never blocks: when the
// queue is full the job is dropped with a warning.
func (r *Recorder) Record(tenantID, sessionID string, msgs []repository.ChatMessage) {
	if tenantID == "" || sessionID == "" || len(msgs) == 0 {
		return
	}
	select {
	case r.jobs <- appendJob{tenantID: tenantID, sessionID: sessionID, messages: msgs}:
	default:
		r.logger.Warn("chat history queue full, dropping append",
			"tenant_id", tenantID, "session_id", sessionID)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := r.repo.AppendMessages(ctx, job.tenantID, job.sessionID, job.messages)
		cancel()
		if err != nil {
			r.logger.Warn("failed to persist chat history",
				"tenant_id", job.tenantID, "session_id", job.sessionID, "error", err)
		}
	}
}

func (r *Recorder) sweepLoop(ttl time.Duration) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := r.repo.DeleteExpired(ctx, ttl)
			cancel()
			if err != nil {
				r.logger.Warn("chat session sweep failed", "error", err)
			} else if n > 0 {
				r.logger.Info("expired chat sessions removed", "count", n)
			}
		case <-r.sweepStop:
			return
		}
	}
}

// Close stops accepting jobs and waits for queued appends to finish.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.sweepStop)
		close(r.jobs)
	})
	r.wg.Wait()
}
