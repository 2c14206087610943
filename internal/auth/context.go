package auth

import (
	"context"
	"errors"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const tenantContextKey contextKey = "tenant"

// ErrNoTenant is returned when a handler runs without tenant context.
var ErrNoTenant = errors.New("tenant context not found")

// TenantInfo is the resolved identity attached to authenticated requests.
// The core refuses any operation without one.
type TenantInfo struct {
	ID          string
	Name        string
	PersonaName string
	Personality string
}

// WithTenant attaches tenant info to the context.
func WithTenant(ctx context.Context, info *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantContextKey, info)
}

// TenantFromContext extracts tenant info from context.
func TenantFromContext(ctx context.Context) (*TenantInfo, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(*TenantInfo)
	return tenant, ok
}

// RequireTenant returns the tenant info or ErrNoTenant.
func RequireTenant(ctx context.Context) (*TenantInfo, error) {
	tenant, ok := TenantFromContext(ctx)
	if !ok || tenant.ID == "" {
		return nil, ErrNoTenant
	}
	return tenant, nil
}
