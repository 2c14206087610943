// Package repository defines domain models and data access interfaces for
// chunks, crawl jobs, chat sessions, and tenants.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrMissingTenant is returned when an operation is attempted without a
// tenant id. Every read and write is tenant-scoped.
var ErrMissingTenant = errors.New("tenant id is required")

// SourceKind identifies the kind of source a chunk came from
type SourceKind string

const (
	SourceWeb  SourceKind = "web"
	SourcePDF  SourceKind = "pdf"
	SourceDOCX SourceKind = "docx"
)

// Chunk is the unit of retrieval: a bounded substring of a source
// document, owned by exactly one tenant.
type Chunk struct {
	ID          string
	TenantID    string
	SourceRef   string
	SourceKind  SourceKind
	Title       string
	Body        string
	ChunkIndex  int
	TotalChunks int
	// Embedding is stored inline so the linear fallback can scan
	// tenant vectors without the accelerated index.
	Embedding []float32
	Extra     map[string]string
	CreatedAt time.Time
}

// StoredVector is a chunk id paired with its stored embedding, used by
// the linear fallback scan.
type StoredVector struct {
	ChunkID string
	Vector  []float32
}

// ChunkFilter narrows chunk listings.
type ChunkFilter struct {
	SourceKind SourceKind // empty matches all kinds
	SourceRef  string     // empty matches all sources
}

// SourceStat is a per-source chunk count.
type SourceStat struct {
	SourceRef string     `json:"source_ref"`
	Kind      SourceKind `json:"kind"`
	Count     int        `json:"count"`
}

// Stats summarizes a tenant's stored content.
type Stats struct {
	TotalChunks   int          `json:"total_chunks"`
	UniqueSources int          `json:"unique_sources"`
	AvgBodyLen    float64      `json:"avg_body_len"`
	Sources       []SourceStat `json:"sources"`
}

// JobStatus is the lifecycle state of a crawl job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal states are
// immutable.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CrawlOptions configures a crawl started from a seed URL.
type CrawlOptions struct {
	MaxDepth    int  `json:"max_depth"`
	FollowLinks bool `json:"follow_links"`
	UseBrowser  bool `json:"use_browser"`
	MaxPages    int  `json:"max_pages,omitempty"`
}

// CrawlJob is the observable record of an ingestion started from a seed URL.
type CrawlJob struct {
	ID            string
	TenantID      string
	SeedURL       string
	Options       CrawlOptions
	Status        JobStatus
	PagesCrawled  int
	ChunksCreated int
	ErrorMessage  string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// ChatSession groups a chat's turns under a client-chosen session id.
type ChatSession struct {
	SessionID  string
	TenantID   string
	Messages   []ChatMessage
	LastActive time.Time
}

// TenantStatus values for tenant records.
const (
	TenantActive    = "active"
	TenantSuspended = "suspended"
)

// Tenant is a tenant record with its persona and API key material.
// Keys are stored as SHA-256 digests; KeyPrefix keeps the first characters
// for display. Status may be empty on legacy records.
type Tenant struct {
	ID          string
	Name        string
	PersonaName string
	Personality string
	APIKeyHash  string
	KeyPrefix   string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChunkRepository defines tenant-scoped persistence for chunks.
// Implementations must refuse operations without a tenant id.
type ChunkRepository interface {
	Put(ctx context.Context, chunk *Chunk) error
	SourceExists(ctx context.Context, tenantID, sourceRef string) (bool, error)
	List(ctx context.Context, tenantID string, filter ChunkFilter, limit, offset int) ([]*Chunk, int, error)
	// GetMany returns the chunks for the given ids; missing ids are
	// silently dropped from the result.
	GetMany(ctx context.Context, tenantID string, ids []string) ([]*Chunk, error)
	DeleteBySource(ctx context.Context, tenantID, sourceRef string) (int64, error)
	DeleteByID(ctx context.Context, tenantID, id string) (bool, error)
	Stats(ctx context.Context, tenantID string) (*Stats, error)
	VectorsForTenant(ctx context.Context, tenantID string) ([]StoredVector, error)
}

// CrawlJobRepository defines operations for crawl job persistence
type CrawlJobRepository interface {
	Create(ctx context.Context, job *CrawlJob) error
	GetByID(ctx context.Context, tenantID, id string) (*CrawlJob, error)
	List(ctx context.Context, tenantID string, status JobStatus, limit, offset int) ([]*CrawlJob, int, error)
	Update(ctx context.Context, job *CrawlJob) error
}

// ChatRepository defines durable chat history persistence with TTL expiry.
type ChatRepository interface {
	AppendMessages(ctx context.Context, tenantID, sessionID string, msgs []ChatMessage) error
	GetSession(ctx context.Context, tenantID, sessionID string) (*ChatSession, error)
	ClearSession(ctx context.Context, tenantID, sessionID string) error
	// DeleteExpired removes sessions idle longer than ttl and returns
	// the number removed.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
}

// TenantRepository defines operations for tenant persistence
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*Tenant, error)
	List(ctx context.Context, limit, offset int) ([]*Tenant, int, error)
	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id string) error
}
