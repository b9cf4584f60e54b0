package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPInvalidatorPostsEmployeeDay(t *testing.T) {
	var got invalidationRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	inv := NewHTTPInvalidator(srv.URL+"/", "secret", time.Second)
	require.NoError(t, inv.Invalidate(context.Background(), "tenant-a", "emp-1", "2026-03-02"))
	require.Equal(t, "Bearer secret", auth)
	require.Equal(t, invalidationRequest{TenantID: "tenant-a", EmployeeID: "emp-1", LocalDate: "2026-03-02"}, got)
}

func TestHTTPInvalidatorReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPInvalidator(srv.URL, "", time.Second).Invalidate(context.Background(), "t", "e", "2026-03-02")
	var invErr *InvalidationError
	require.True(t, errors.As(err, &invErr))
	require.Equal(t, http.StatusBadGateway, invErr.Status)
}

func TestNoopInvalidator(t *testing.T) {
	require.NoError(t, NoopInvalidator{}.Invalidate(context.Background(), "t", "e", "d"))
}
