package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultLookupTimeout bounds a schema lookup when the caller sets none
const DefaultLookupTimeout = 10 * time.Second

// ErrNotFound is returned by a Source that has no record under the requested name
var ErrNotFound = errors.New("schema record not found")

// Record is the structured response of a schema lookup
type Record struct {
	Type   string  `json:"type" yaml:"type"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field is one member of a record. Structures carry their own children.
type Field struct {
	Name    string  `json:"name" yaml:"name"`
	Type    string  `json:"type" yaml:"type"`
	Channel *int    `json:"channel,omitempty" yaml:"channel,omitempty"`
	Fields  []Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Field returns the named member of the record, or nil
func (r *Record) Field(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// Source looks up schema records by name
type Source interface {
	Lookup(ctx context.Context, name string) (*Record, error)
}

// Load fetches a record from src and builds a schema from its field sub-structure.
// Every failure, including a timeout, wraps ErrNoSchema.
func Load(ctx context.Context, src Source, name, field string, timeout time.Duration) (*ChannelSchema, error) {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec, err := src.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timeout while reading %s: %w", ErrNoSchema, name, err)
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrNoSchema, name, err)
	}

	return Build(name, rec, field)
}

// FileSource serves records from a local YAML, JSON or JSONC file keyed by name
type FileSource struct {
	Path string
}

// Lookup reads the file and returns the record stored under name
func (f *FileSource) Lookup(ctx context.Context, name string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", f.Path, err)
	}

	records := make(map[string]*Record)
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", f.Path, err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &records); err != nil {
			return nil, fmt.Errorf("failed to parse schema file %s: %w", f.Path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q", filepath.Ext(f.Path))
	}

	rec, ok := records[name]
	if !ok || rec == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, f.Path)
	}
	return rec, nil
}

// HTTPSource fetches records from a description service at Endpoint/<name>
type HTTPSource struct {
	Endpoint   string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP schema source
func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &HTTPSource{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Lookup performs GET Endpoint/<name> and decodes the JSON record
func (h *HTTPSource) Lookup(ctx context.Context, name string) (*Record, error) {
	reqURL := h.Endpoint + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("schema service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode schema response: %w", err)
	}
	return &rec, nil
}
