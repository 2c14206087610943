// Package auth provides tenant authentication: signed bearer tokens for
// the dashboard and API keys for the public widget.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nexora/rag/internal/repository"
)

var (
	// ErrInvalidKey is returned when an API key matches no tenant.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrTenantSuspended is returned when the key's tenant is suspended.
	ErrTenantSuspended = errors.New("tenant is suspended")
)

// keyPrefix marks keys issued by this service.
const keyPrefix = "nx_"

// GenerateAPIKey returns a new key, its SHA-256 digest for storage, and
// the display prefix.
func GenerateAPIKey() (key, digest, prefix string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generating api key: %w", err)
	}
	key = keyPrefix + hex.EncodeToString(raw)
	return key, HashAPIKey(key), key[:len(keyPrefix)+8], nil
}

// HashAPIKey returns the hex SHA-256 digest of a key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyResolver resolves API keys to tenants.
type KeyResolver struct {
	tenants repository.TenantRepository
	// legacyActive controls whether tenant records that predate the
	// status field are treated as active.
	legacyActive bool
}

// NewKeyResolver creates a resolver. legacyActive pins the handling of
// status-less legacy records.
func NewKeyResolver(tenants repository.TenantRepository, legacyActive bool) *KeyResolver {
	return &KeyResolver{tenants: tenants, legacyActive: legacyActive}
}

// Resolve maps an API key to its tenant. Unknown keys yield
// ErrInvalidKey; suspended or rejected-legacy tenants yield
// ErrTenantSuspended.
func (r *KeyResolver) Resolve(ctx context.Context, apiKey string) (*repository.Tenant, error) {
	if apiKey == "" {
		return nil, ErrInvalidKey
	}
	tenant, err := r.tenants.GetByAPIKeyHash(ctx, HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	return r.checkStatus(tenant)
}

// Tenant loads a tenant by id and applies the same status policy as key
// resolution, so suspension cuts off bearer tokens too.
func (r *KeyResolver) Tenant(ctx context.Context, tenantID string) (*repository.Tenant, error) {
	tenant, err := r.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return r.checkStatus(tenant)
}

func (r *KeyResolver) checkStatus(tenant *repository.Tenant) (*repository.Tenant, error) {
	switch tenant.Status {
	case repository.TenantActive:
		return tenant, nil
	case "":
		if r.legacyActive {
			return tenant, nil
		}
		return nil, ErrTenantSuspended
	default:
		return nil, ErrTenantSuspended
	}
}
