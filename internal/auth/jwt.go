package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned for tokens that fail parsing or signature checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("token has expired")
	// ErrInvalidClaims is returned when a token carries no usable tenant claims.
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims are the tenant claims carried in a bearer token.
type Claims struct {
	jwt.RegisteredClaims
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name,omitempty"`
}

// JWTConfig holds signing configuration for issued tokens.
type JWTConfig struct {
	Secret        string
	Expiry        time.Duration
	Issuer        string
	SigningMethod jwt.SigningMethod
}

// DefaultJWTConfig returns the standard configuration: HS256, 24h expiry.
func DefaultJWTConfig(secret string) *JWTConfig {
	return &JWTConfig{
		Secret:        secret,
		Expiry:        24 * time.Hour,
		Issuer:        "nexora-rag",
		SigningMethod: jwt.SigningMethodHS256,
	}
}

// JWTManager issues and validates tenant bearer tokens.
type JWTManager struct {
	config *JWTConfig
}

// NewJWTManager creates a manager from the given configuration.
func NewJWTManager(config *JWTConfig) *JWTManager {
	if config.SigningMethod == nil {
		config.SigningMethod = jwt.SigningMethodHS256
	}
	return &JWTManager{config: config}
}

// GenerateToken signs a fresh token for the tenant.
func (m *JWTManager) GenerateToken(tenantID, tenantName string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    m.config.Issuer,
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.Expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
		TenantID:   tenantID,
		TenantName: tenantName,
	}
	return jwt.NewWithClaims(m.config.SigningMethod, claims).SignedString([]byte(m.config.Secret))
}

func (m *JWTManager) keyFunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() != m.config.SigningMethod.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(m.config.Secret), nil
}

// ValidateToken checks the signature and standard claims and returns the
// tenant claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TenantID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// RefreshToken issues a new token from an existing one. An expired token is
// accepted as long as its signature still verifies.
func (m *JWTManager) RefreshToken(tokenString string) (string, error) {
	claims, err := m.ValidateToken(tokenString)
	if errors.Is(err, ErrExpiredToken) {
		claims, err = m.expiredClaims(tokenString)
	}
	if err != nil {
		return "", err
	}
	return m.GenerateToken(claims.TenantID, claims.TenantName)
}

func (m *JWTManager) expiredClaims(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil || token == nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.TenantID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}
