package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const schemaRegistryContentType = "application/vnd.schemaregistry.v1+json"

// ErrSubjectNotFound is returned when the registry has no version for a subject.
var ErrSubjectNotFound = errors.New("schema registry: subject not found")

// RegistryError carries a non-success response from the schema registry.
type RegistryError struct {
	Subject string
	Status  int
	Body    string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry: subject %s: status %d: %s", e.Subject, e.Status, e.Body)
}

// SchemaRegistryClient registers the attendance JSON schemas with a Confluent-compatible registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client for the registry at baseURL.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the id of the latest version of subject, registering schema as a JSON
// schema when the subject does not exist yet.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	id, err := c.latestID(ctx, subject)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrSubjectNotFound) {
		return 0, err
	}
	return c.register(ctx, subject, schema)
}

func (c *SchemaRegistryClient) latestID(ctx context.Context, subject string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.subjectURL(subject, "versions/latest"), nil)
	if err != nil {
		return 0, err
	}
	return c.doForID(req, subject)
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject string, schema string) (int, error) {
	body, err := json.Marshal(struct {
		SchemaType string `json:"schemaType"`
		Schema     string `json:"schema"`
	}{SchemaType: "JSON", Schema: schema})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.subjectURL(subject, "versions"), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", schemaRegistryContentType)
	return c.doForID(req, subject)
}

func (c *SchemaRegistryClient) subjectURL(subject, suffix string) string {
	return c.baseURL + "/subjects/" + url.PathEscape(subject) + "/" + suffix
}

func (c *SchemaRegistryClient) doForID(req *http.Request, subject string) (int, error) {
	req.Header.Set("Accept", schemaRegistryContentType)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if req.Method == http.MethodGet && resp.StatusCode == http.StatusNotFound {
		return 0, ErrSubjectNotFound
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, &RegistryError{Subject: subject, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var payload struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("schema registry: decode response for %s: %w", subject, err)
	}
	return payload.ID, nil
}
