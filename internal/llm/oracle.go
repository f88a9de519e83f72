package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rawpurplesmurf/mcp-server-home/internal/httpkit"
)

// LevelTrace mirrors config.LevelTrace for wire-level request/response
// logging, kept as a local constant so this package does not import
// internal/config.
const LevelTrace = slog.Level(-8)

// OracleClient is the single HTTP-backed LLM provider, speaking the
// Ollama /api/chat wire format. The response-header timeout is
// deliberately long: a cold local model can sit loading for minutes
// before the first byte arrives.
type OracleClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOracleClient builds a client against baseURL (LLM_URL).
func NewOracleClient(baseURL string, logger *slog.Logger) *OracleClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute

	return &OracleClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("provider", "oracle"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithTransport(t),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// wireRequest is the /api/chat request body. Stream is always false:
// nothing downstream consumes partial output — the USE_TOOL scan needs
// the complete reply text before it can do anything.
type wireRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// wireResponse is a deserialization target only.
type wireResponse struct {
	Model           string  `json:"model"`
	CreatedAt       string  `json:"created_at"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

func (w *wireResponse) toChatResponse() *ChatResponse {
	createdAt, _ := time.Parse(time.RFC3339Nano, w.CreatedAt)
	return &ChatResponse{
		Model:         w.Model,
		CreatedAt:     createdAt,
		Message:       w.Message,
		InputTokens:   w.PromptEvalCount,
		OutputTokens:  w.EvalCount,
		TotalDuration: time.Duration(w.TotalDuration),
	}
}

// Chat sends a chat completion request and returns the full reply.
func (c *OracleClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	body, err := json.Marshal(wireRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("oracle API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("oracle API error %d: %s", resp.StatusCode, errBody)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	chatResp := wire.toChatResponse()
	c.logger.Log(ctx, LevelTrace, "response content", "content", chatResp.Message.Content)
	return chatResp, nil
}

// Ping checks whether the oracle endpoint is reachable.
func (c *OracleClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle API error %d", resp.StatusCode)
	}
	return nil
}
