package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nexora/rag/internal/auth"
	"github.com/nexora/rag/internal/ingestion"
	"github.com/nexora/rag/internal/repository"
)

// errorResponse is the uniform error body: a stable machine code and a
// human-readable message.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, repository.ErrMissingTenant), errors.Is(err, auth.ErrNoTenant):
		writeError(w, http.StatusUnauthorized, "unauthorized", "tenant authentication required")
	case errors.Is(err, auth.ErrInvalidKey), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidClaims):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, auth.ErrTenantSuspended):
		writeError(w, http.StatusForbidden, "tenant_suspended", "tenant is suspended")
	case errors.Is(err, ingestion.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "unsupported_file_type", err.Error())
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// jwtAuth authenticates dashboard requests via Bearer token and loads
// the tenant so suspension takes effect immediately, not at token
// expiry.
func (h *handlers) jwtAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.svcs.JWT.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}

		tenant, err := h.svcs.Keys.Tenant(r.Context(), claims.TenantID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}

		ctx := auth.WithTenant(r.Context(), &auth.TenantInfo{
			ID:          tenant.ID,
			Name:        tenant.Name,
			PersonaName: tenant.PersonaName,
			Personality: tenant.Personality,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiKeyAuth authenticates widget requests via the X-API-Key header.
func (h *handlers) apiKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := h.svcs.Keys.Resolve(r.Context(), r.Header.Get("X-API-Key"))
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}

		ctx := auth.WithTenant(r.Context(), &auth.TenantInfo{
			ID:          tenant.ID,
			Name:        tenant.Name,
			PersonaName: tenant.PersonaName,
			Personality: tenant.Personality,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// anyAuth accepts either a bearer token or an API key.
func (h *handlers) anyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			h.jwtAuth(next).ServeHTTP(w, r)
			return
		}
		h.apiKeyAuth(next).ServeHTTP(w, r)
	})
}
