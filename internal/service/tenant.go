package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nexora/rag/internal/auth"
	"github.com/nexora/rag/internal/repository"
	"github.com/nexora/rag/internal/vectorstore"
)

// ErrNameRequired is returned when tenant creation lacks a name.
var ErrNameRequired = errors.New("tenant name is required")

// TenantView is the API projection of a tenant. The API key is shown
// only by its prefix; the full key appears once, at creation or
// rotation.
type TenantView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PersonaName string    `json:"persona_name"`
	Personality string    `json:"personality"`
	KeyPrefix   string    `json:"key_prefix"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateTenantRequest carries the fields for a new tenant.
type CreateTenantRequest struct {
	Name        string `json:"name"`
	PersonaName string `json:"persona_name"`
	Personality string `json:"personality"`
}

// CreateTenantResponse returns the tenant with its one-time credentials.
type CreateTenantResponse struct {
	Tenant TenantView `json:"tenant"`
	APIKey string     `json:"api_key"`
	Token  string     `json:"token"`
}

// TenantService manages tenant lifecycle: creation, persona updates,
// key rotation, suspension, and deletion.
type TenantService struct {
	tenants repository.TenantRepository
	chunks  repository.ChunkRepository
	index   vectorstore.Index
	jwt     *auth.JWTManager
	logger  *slog.Logger
}

// NewTenantService creates a TenantService.
func NewTenantService(
	tenants repository.TenantRepository,
	chunks repository.ChunkRepository,
	index vectorstore.Index,
	jwt *auth.JWTManager,
	logger *slog.Logger,
) *TenantService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		tenants: tenants,
		chunks:  chunks,
		index:   index,
		jwt:     jwt,
		logger:  logger.With("component", "tenants"),
	}
}

// Create registers a tenant, issues its API key, and returns a signed
// token for immediate dashboard use. The plaintext key is not stored
// and cannot be recovered later.
func (s *TenantService) Create(ctx context.Context, req CreateTenantRequest) (*CreateTenantResponse, error) {
	if req.Name == "" {
		return nil, ErrNameRequired
	}
	if req.PersonaName == "" {
		req.PersonaName = DefaultPersona.Name
	}
	if req.Personality == "" {
		req.Personality = DefaultPersona.Personality
	}

	key, digest, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tenant := &repository.Tenant{
		ID:          uuid.New().String(),
		Name:        req.Name,
		PersonaName: req.PersonaName,
		Personality: req.Personality,
		APIKeyHash:  digest,
		KeyPrefix:   prefix,
		Status:      repository.TenantActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, fmt.Errorf("creating tenant: %w", err)
	}

	token, err := s.jwt.GenerateToken(tenant.ID, tenant.Name)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("tenant created", "tenant_id", tenant.ID, "name", tenant.Name)
	return &CreateTenantResponse{
		Tenant: toTenantView(tenant),
		APIKey: key,
		Token:  token,
	}, nil
}

// Get returns one tenant.
func (s *TenantService) Get(ctx context.Context, id string) (*TenantView, error) {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := toTenantView(tenant)
	return &view, nil
}

// List returns one page of tenants.
func (s *TenantService) List(ctx context.Context, limit, offset int) ([]TenantView, int, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	tenants, total, err := s.tenants.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tenants: %w", err)
	}
	views := make([]TenantView, len(tenants))
	for i, t := range tenants {
		views[i] = toTenantView(t)
	}
	return views, total, nil
}

// UpdatePersona changes the tenant's name and persona fields. Empty
// fields are left unchanged.
func (s *TenantService) UpdatePersona(ctx context.Context, id, name, personaName, personality string) (*TenantView, error) {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if name != "" {
		tenant.Name = name
	}
	if personaName != "" {
		tenant.PersonaName = personaName
	}
	if personality != "" {
		tenant.Personality = personality
	}
	tenant.UpdatedAt = time.Now().UTC()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, fmt.Errorf("updating tenant: %w", err)
	}
	view := toTenantView(tenant)
	return &view, nil
}

// RotateKey replaces the tenant's API key. The old key stops working
// immediately; the new plaintext is returned once.
func (s *TenantService) RotateKey(ctx context.Context, id string) (string, error) {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	key, digest, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	tenant.APIKeyHash = digest
	tenant.KeyPrefix = prefix
	tenant.UpdatedAt = time.Now().UTC()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return "", fmt.Errorf("rotating api key: %w", err)
	}
	s.logger.Info("api key rotated", "tenant_id", id)
	return key, nil
}

// SetStatus activates or suspends a tenant. Suspended tenants keep
// their data but every key and token is refused.
func (s *TenantService) SetStatus(ctx context.Context, id, status string) (*TenantView, error) {
	if status != repository.TenantActive && status != repository.TenantSuspended {
		return nil, fmt.Errorf("invalid tenant status: %q", status)
	}
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tenant.Status = status
	tenant.UpdatedAt = time.Now().UTC()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, fmt.Errorf("updating tenant status: %w", err)
	}
	view := toTenantView(tenant)
	return &view, nil
}

// Delete removes a tenant and its content. Index cleanup runs per
// source; failures are logged because the store is authoritative and
// the fallback scan never sees orphaned points.
func (s *TenantService) Delete(ctx context.Context, id string) error {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return err
	}

	stats, err := s.chunks.Stats(ctx, tenant.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("inspecting tenant content: %w", err)
	}
	if stats != nil {
		for _, src := range stats.Sources {
			if err := s.index.DeleteBySource(ctx, tenant.ID, src.SourceRef); err != nil {
				s.logger.Warn("index cleanup failed", "tenant_id", tenant.ID, "source_ref", src.SourceRef, "error", err)
			}
			if _, err := s.chunks.DeleteBySource(ctx, tenant.ID, src.SourceRef); err != nil {
				return fmt.Errorf("deleting tenant content: %w", err)
			}
		}
	}

	if err := s.tenants.Delete(ctx, tenant.ID); err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	s.logger.Info("tenant deleted", "tenant_id", id)
	return nil
}

func toTenantView(t *repository.Tenant) TenantView {
	status := t.Status
	if status == "" {
		status = "legacy"
	}
	return TenantView{
		ID:          t.ID,
		Name:        t.Name,
		PersonaName: t.PersonaName,
		Personality: t.Personality,
		KeyPrefix:   t.KeyPrefix,
		Status:      status,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}
