// Package toolclient is the orchestrator's REST client to the tool
// server's dispatcher endpoints: JSON in and out over a shared httpkit
// transport.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/httpkit"
	"github.com/rawpurplesmurf/mcp-server-home/internal/toolapi"
)

// Client calls the tool server's /v1/tools/* and /health endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client against baseURL (e.g. http://localhost:8080).
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// Health is the tool server's /health response shape.
type Health struct {
	Status        string `json:"status"`
	CacheBackend  string `json:"cache_backend"`
	HomeAssistant string `json:"home_assistant"`
}

// Health fetches the tool server's health status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.get(ctx, "/health", &h)
	return h, err
}

// ListTools fetches the published tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]toolapi.ToolDescriptor, error) {
	var tools []toolapi.ToolDescriptor
	err := c.get(ctx, "/v1/tools/list", &tools)
	return tools, err
}

// Call dispatches a single tool invocation against the tool server.
func (c *Client) Call(ctx context.Context, call toolapi.ToolCall) (toolapi.ToolResult, error) {
	var result toolapi.ToolResult
	if err := c.post(ctx, "/v1/tools/call", call, &result); err != nil {
		return toolapi.ToolResult{}, err
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	reqBody, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, reqBody, result)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody []byte, result any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tool server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read tool server response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("tool server returned %d: %s", resp.StatusCode, string(body))
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode tool server response: %w", err)
	}
	return nil
}
