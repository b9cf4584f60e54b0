// Package auth validates the HS256 bearer tokens presented to the attendance API.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds signer verification parameters. An empty Issuer disables the iss check.
type Config struct {
	Secret string
	Issuer string
}

// Claims is the verified identity of a caller. Subject is the employee id.
type Claims struct {
	Subject   string
	TenantID  string
	Scopes    map[string]struct{}
	ExpiresAt time.Time
}

// ErrMissingToken is returned when the Authorization header is absent.
var ErrMissingToken = errors.New("missing bearer token")

// ErrInvalidToken wraps parsing/validation errors.
var ErrInvalidToken = errors.New("invalid bearer token")

// tokenClaims is the wire form of an attendance token.
type tokenClaims struct {
	TenantID string    `json:"tenant_id"`
	Scopes   scopeList `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// scopeList accepts both a JSON array and an OAuth style space separated string.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("scopes: expected array or string: %w", err)
	}
	*s = strings.Fields(joined)
	return nil
}

func (s scopeList) set() map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, scope := range s {
		if scope = strings.TrimSpace(scope); scope != "" {
			out[scope] = struct{}{}
		}
	}
	return out
}

// Parse verifies token against cfg and returns the caller's claims. Tokens must carry a subject,
// a tenant and an expiry.
func Parse(token string, cfg Config) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var wire tokenClaims
	if _, err := jwt.ParseWithClaims(token, &wire, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if wire.Subject == "" || wire.TenantID == "" {
		return nil, fmt.Errorf("%w: subject and tenant_id are required", ErrInvalidToken)
	}

	return &Claims{
		Subject:   wire.Subject,
		TenantID:  wire.TenantID,
		Scopes:    wire.Scopes.set(),
		ExpiresAt: wire.ExpiresAt.Time,
	}, nil
}

// Sign issues an HS256 token for the given identity. It backs local tooling and tests.
func Sign(cfg Config, subject, tenantID string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		TenantID: tenantID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// HasScope reports whether the claim set includes the provided scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Scopes[scope]
	return ok
}
