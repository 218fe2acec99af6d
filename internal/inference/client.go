// Package inference is the Ollama client used by every pipeline phase.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aria-assistant/aria/internal/models"
)

// Config holds the inference client configuration.
type Config struct {
	OllamaURL   string
	Model       string
	ContextSize int
	Temperature float64
	Timeout     time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OllamaURL:   "http://localhost:11434",
		Model:       "qwen2.5:7b",
		ContextSize: 32768,
		Temperature: 0.7,
		Timeout:     2 * time.Minute,
	}
}

// Client is the inference client for Ollama.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new inference client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Tool is a capability schema passed to the chat API, using Ollama's
// function-call wire shape.
type Tool struct {
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction describes one invocable function.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  ToolParameters `json:"parameters"`
}

// ToolParameters is a JSON-schema object describing arguments.
type ToolParameters struct {
	Type       string                  `json:"type"` // always "object"
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required,omitempty"`
}

// ToolProperty describes one argument.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// chatRequest is the request body for /api/chat.
type chatRequest struct {
	Model       string                 `json:"model"`
	Messages    []models.ChatMessage   `json:"messages"`
	Tools       []Tool                 `json:"tools,omitempty"`
	Stream      bool                   `json:"stream"`
	Temperature float64                `json:"temperature,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

// chatResponse is the non-streaming response body for /api/chat.
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string                 `json:"name"`
				Arguments map[string]interface{} `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done          bool  `json:"done"`
	EvalCount     int   `json:"eval_count,omitempty"`
	EvalDuration  int64 `json:"eval_duration,omitempty"`
	TotalDuration int64 `json:"total_duration,omitempty"`
}

// ChatResult holds the assistant message returned by one chat call.
// ToolCalls carries natively structured invocation requests; the
// content may still embed invocations textually, which is the response
// extractor's problem, not ours.
type ChatResult struct {
	Content   string
	ToolCalls []models.ToolInvocation
	Latency   time.Duration
}

// Result holds the outcome of a plain completion call.
type Result struct {
	Response     string
	TokensPerSec float64
	Latency      time.Duration
}

// Chat sends role-tagged messages (and optionally a capability catalog)
// to the model and returns the single assistant message.
func (c *Client) Chat(ctx context.Context, messages []models.ChatMessage, tools []Tool) (*ChatResult, error) {
	start := time.Now()

	req := chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		Tools:       tools,
		Stream:      false,
		Temperature: c.config.Temperature,
		Options: map[string]interface{}{
			"num_ctx": c.config.ContextSize,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.OllamaURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := &ChatResult{
		Content: chatResp.Message.Content,
		Latency: time.Since(start),
	}

	for i, call := range chatResp.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolInvocation{
			ID:        fmt.Sprintf("call-%d-%d", start.UnixNano(), i),
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	return result, nil
}

// generateRequest is the request body for /api/generate.
type generateRequest struct {
	Model       string                 `json:"model"`
	Prompt      string                 `json:"prompt"`
	Stream      bool                   `json:"stream"`
	Temperature float64                `json:"temperature,omitempty"`
	Options     map[string]interface{} `json:"options,omitempty"`
}

// generateResponse is the non-streaming response body for /api/generate.
type generateResponse struct {
	Model        string `json:"model"`
	Response     string `json:"response"`
	Done         bool   `json:"done"`
	EvalCount    int    `json:"eval_count,omitempty"`
	EvalDuration int64  `json:"eval_duration,omitempty"`
}

// GenerateSync performs a synchronous single-prompt completion.
func (c *Client) GenerateSync(ctx context.Context, prompt string) (*Result, error) {
	startTime := time.Now()

	req := generateRequest{
		Model:       c.config.Model,
		Prompt:      prompt,
		Stream:      false,
		Temperature: c.config.Temperature,
		Options: map[string]interface{}{
			"num_ctx": c.config.ContextSize,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.OllamaURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	latency := time.Since(startTime)
	tokensPerSec := 0.0
	if genResp.EvalDuration > 0 && genResp.EvalCount > 0 {
		tokensPerSec = float64(genResp.EvalCount) / (float64(genResp.EvalDuration) / 1e9)
	}

	return &Result{
		Response:     genResp.Response,
		TokensPerSec: tokensPerSec,
		Latency:      latency,
	}, nil
}

// ListModels lists models available on the Ollama server.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.config.OllamaURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}

	return names, nil
}
