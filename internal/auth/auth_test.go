package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "attendance-test"}

func TestParseAcceptsSignedToken(t *testing.T) {
	token, err := Sign(testConfig, "emp-1", "tenant-a", []string{ScopeAttendanceWrite, ScopeAttendanceRead}, time.Hour)
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "emp-1", claims.Subject)
	require.Equal(t, "tenant-a", claims.TenantID)
	require.True(t, claims.HasScope(ScopeAttendanceWrite))
	require.False(t, claims.HasScope(ScopeAttendanceAdmin))
}

func TestParseRejectsBadTokens(t *testing.T) {
	wrongIssuer, err := Sign(Config{Secret: testConfig.Secret, Issuer: "someone-else"}, "emp-1", "tenant-a", nil, time.Hour)
	require.NoError(t, err)
	_, err = Parse(wrongIssuer, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := Sign(testConfig, "emp-1", "tenant-a", nil, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noTenant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "emp-1",
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	_, err = Parse(noTenant, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestParseAcceptsSpaceSeparatedScopes(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "emp-1",
		"tenant_id": "tenant-a",
		"iss":       testConfig.Issuer,
		"scopes":    "attendance:read  attendance:admin",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Len(t, claims.Scopes, 2)
	require.True(t, claims.HasScope(ScopeAttendanceAdmin))
}

func TestParseRejectsOtherSigningMethods(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":       "emp-1",
		"tenant_id": "tenant-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)

	_, err = Parse(token, Config{Secret: testConfig.Secret})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareStoresClaimsAndSkipsHealth(t *testing.T) {
	mw := NewMiddleware(testConfig)
	var seen *Claims
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/attendance", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "missing_token")

	token, err := Sign(testConfig, "emp-1", "tenant-a", []string{ScopeAttendanceRead}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/attendance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "emp-1", seen.Subject)
}
