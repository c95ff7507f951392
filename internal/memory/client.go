// Package memory provides the HTTP client for the external memory /
// document store. The store itself and its wire protocol are an
// external collaborator; this package only speaks the two operations
// the core's tools need (query and store), always scoped to an
// explicit user namespace.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/thalamus/internal/toolregistry"
)

// Client talks to the remote memory store over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a memory store client for the given endpoint.
// If endpoint is empty, use Noop instead; NewClient does not accept it.
func NewClient(endpoint string, opts ...ClientOption) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("memory: endpoint is required")
	}
	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: slog.Default().With("component", "memory.client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type queryRequest struct {
	Namespace string         `json:"namespace"`
	Query     string         `json:"query"`
	K         int            `json:"k"`
	Filters   map[string]any `json:"filters,omitempty"`
}

type queryResponse struct {
	Items []toolregistry.MemoryItem `json:"items"`
}

// Query searches the store for items relevant to query within the
// given namespace.
func (c *Client) Query(ctx context.Context, namespace, query string, k int, filters map[string]any) ([]toolregistry.MemoryItem, error) {
	var resp queryResponse
	err := c.post(ctx, "/v1/memory/query", queryRequest{
		Namespace: namespace,
		Query:     query,
		K:         k,
		Filters:   filters,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Items == nil {
		resp.Items = []toolregistry.MemoryItem{}
	}
	return resp.Items, nil
}

type storeRequest struct {
	Namespace string         `json:"namespace"`
	Text      string         `json:"text"`
	Tags      []string       `json:"tags,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type storeResponse struct {
	ID string `json:"id"`
}

// Store writes one item to the store within the given namespace and
// returns its assigned id.
func (c *Client) Store(ctx context.Context, namespace, text string, tags []string, meta map[string]any) (string, error) {
	var resp storeResponse
	err := c.post(ctx, "/v1/memory/store", storeRequest{
		Namespace: namespace,
		Text:      text,
		Tags:      tags,
		Meta:      meta,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("memory: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("memory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("memory: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("memory store request failed",
			"path", path, "status", resp.StatusCode)
		return fmt.Errorf("memory: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("memory: decode response: %w", err)
	}
	return nil
}

// Noop satisfies the memory tool interface when no memory endpoint is
// configured: queries return no items, stores return an empty id.
type Noop struct{}

// Query returns an empty item list.
func (Noop) Query(ctx context.Context, namespace, query string, k int, filters map[string]any) ([]toolregistry.MemoryItem, error) {
	return []toolregistry.MemoryItem{}, nil
}

// Store accepts and discards the item.
func (Noop) Store(ctx context.Context, namespace, text string, tags []string, meta map[string]any) (string, error) {
	return "", nil
}
