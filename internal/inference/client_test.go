package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aria-assistant/aria/internal/models"
)

// TestClientInitialization tests client creation with default and custom config.
func TestClientInitialization(t *testing.T) {
	client := NewClient(nil)
	if client == nil {
		t.Fatal("Expected client to be created with default config")
	}

	if client.config.OllamaURL != "http://localhost:11434" {
		t.Errorf("Expected default URL, got %s", client.config.OllamaURL)
	}

	customConfig := &Config{
		OllamaURL:   "http://custom:11434",
		Model:       "qwen2.5:14b",
		ContextSize: 65536,
		Temperature: 0.5,
		Timeout:     time.Minute,
	}

	client = NewClient(customConfig)
	if client.config.Model != "qwen2.5:14b" {
		t.Errorf("Expected custom model, got %s", client.config.Model)
	}
}

// TestChatParsesToolCalls verifies native tool_calls become invocations.
func TestChatParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(req.Messages))
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "get_weather" {
			t.Errorf("expected get_weather tool, got %+v", req.Tools)
		}

		resp := map[string]interface{}{
			"model": "test",
			"done":  true,
			"message": map[string]interface{}{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]interface{}{
					{"function": map[string]interface{}{
						"name":      "get_weather",
						"arguments": map[string]interface{}{"location": "Lisbon"},
					}},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(&Config{OllamaURL: server.URL, Model: "test", Timeout: 5 * time.Second})

	result, err := client.Chat(context.Background(), []models.ChatMessage{
		{Role: models.RoleSystem, Content: "be helpful"},
		{Role: models.RoleUser, Content: "weather in lisbon?"},
	}, []Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:        "get_weather",
			Description: "weather lookup",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"location": {Type: "string", Description: "place"},
				},
			},
		},
	}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(result.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.ToolCalls))
	}
	if result.ToolCalls[0].Name != "get_weather" {
		t.Errorf("expected get_weather, got %s", result.ToolCalls[0].Name)
	}
	if result.ToolCalls[0].Arguments["location"] != "Lisbon" {
		t.Errorf("expected Lisbon argument, got %v", result.ToolCalls[0].Arguments)
	}
	if result.ToolCalls[0].ID == "" {
		t.Error("expected generated call ID")
	}
}

// TestGenerateSyncAgainstFake tests synchronous generation over a fake server.
func TestGenerateSyncAgainstFake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":         "test",
			"response":      "hello",
			"done":          true,
			"eval_count":    5,
			"eval_duration": int64(time.Second),
		})
	}))
	defer server.Close()

	client := NewClient(&Config{OllamaURL: server.URL, Model: "test", Timeout: 5 * time.Second})

	result, err := client.GenerateSync(context.Background(), "Say hello.")
	if err != nil {
		t.Fatalf("GenerateSync failed: %v", err)
	}

	if result.Response != "hello" {
		t.Errorf("expected hello, got %q", result.Response)
	}
	if result.TokensPerSec == 0 {
		t.Error("expected non-zero tokens/sec")
	}
}

// TestGenerateSync runs against a live Ollama (requires running server).
func TestGenerateSync(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewClient(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.GenerateSync(ctx, "Say 'hello' and nothing else.")
	if err != nil {
		t.Logf("Skipping test - Ollama not available: %v", err)
		t.Skip()
	}

	if result.Response == "" {
		t.Error("Expected non-empty response")
	}
}
