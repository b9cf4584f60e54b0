// Package cache notifies the admin dashboard cache when an employee's day snapshot changes.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Invalidator drops cached dashboard entries for one employee day.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID, employeeID, localDate string) error
}

// NoopInvalidator is a no-op implementation.
type NoopInvalidator struct{}

// Invalidate performs no action.
func (NoopInvalidator) Invalidate(context.Context, string, string, string) error { return nil }

// HTTPInvalidator calls an upstream dashboard cache invalidation endpoint.
type HTTPInvalidator struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPInvalidator constructs an HTTPInvalidator.
func NewHTTPInvalidator(endpoint, token string, timeout time.Duration) *HTTPInvalidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPInvalidator{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

type invalidationRequest struct {
	TenantID   string `json:"tenant_id"`
	EmployeeID string `json:"employee_id"`
	LocalDate  string `json:"local_date"`
}

// Invalidate POSTs the employee day to the invalidation endpoint.
func (h *HTTPInvalidator) Invalidate(ctx context.Context, tenantID, employeeID, localDate string) error {
	body, err := json.Marshal(invalidationRequest{TenantID: tenantID, EmployeeID: employeeID, LocalDate: localDate})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &InvalidationError{Status: resp.StatusCode}
	}
	return nil
}

// InvalidationError represents a non-successful invalidation response.
type InvalidationError struct {
	Status int
}

func (e *InvalidationError) Error() string {
	return "cache invalidation failed with status " + http.StatusText(e.Status)
}
