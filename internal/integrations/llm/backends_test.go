package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIBackendComplete(t *testing.T) {
	var got openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Fatalf("unexpected Authorization header: %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini-2024-07-18",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"caseIndex": 1}`}},
			},
			"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 8},
		})
	}))
	t.Cleanup(server.Close)

	backend := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1/"})
	temp := 0.1
	resp, err := backend.Complete(context.Background(), Request{
		SystemPrompt: "json only",
		Prompt:       "classify",
		Model:        ModelFast,
		MaxTokens:    300,
		Temperature:  &temp,
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Content != `{"caseIndex": 1}` {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.Model != "gpt-4o-mini-2024-07-18" {
		t.Fatalf("unexpected model: %q", resp.Model)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 8 {
		t.Fatalf("unexpected usage: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}

	if got.Model != defaultOpenAIFastModel {
		t.Fatalf("expected fast tier model %q, got %q", defaultOpenAIFastModel, got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "classify" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.Temperature == nil || *got.Temperature != 0.1 {
		t.Fatalf("expected temperature 0.1, got %v", got.Temperature)
	}
	if got.MaxTokens != 300 {
		t.Fatalf("expected max_tokens 300, got %d", got.MaxTokens)
	}
}

func TestOpenAIBackendStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retriable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error": {"message": "Rate limit reached"}}`, true},
		{"server error", http.StatusBadGateway, `bad gateway`, true},
		{"bad request", http.StatusBadRequest, `{"error": {"message": "Invalid 'messages'"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(server.Close)

			backend := NewOpenAIBackend(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL})
			_, err := backend.Complete(context.Background(), Request{Prompt: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			pe, ok := err.(*ProviderError)
			if !ok {
				t.Fatalf("expected *ProviderError, got %T", err)
			}
			if pe.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", pe.StatusCode, tt.status)
			}
			if pe.Provider != "openai" {
				t.Fatalf("provider = %q", pe.Provider)
			}
			if IsRetriable(err) != tt.retriable {
				t.Fatalf("IsRetriable = %v, want %v (err=%v)", IsRetriable(err), tt.retriable, err)
			}
		})
	}
}

func TestAnthropicBackendComplete(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "sk-ant-test" {
			t.Fatalf("unexpected api key header: %q", key)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_01",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-haiku-4-5",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]any{
				{"type": "text", "text": `{"caseIndex": 2, "confidence": 0.7}`},
			},
			"usage": map[string]any{"input_tokens": 200, "output_tokens": 15},
		})
	}))
	t.Cleanup(server.Close)

	backend := NewAnthropicBackend(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	temp := 0.1
	resp, err := backend.Complete(context.Background(), Request{
		SystemPrompt: "json only",
		Prompt:       "classify",
		Model:        ModelFast,
		Temperature:  &temp,
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if resp.Content != `{"caseIndex": 2, "confidence": 0.7}` {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
	if resp.InputTokens != 200 || resp.OutputTokens != 15 {
		t.Fatalf("unexpected usage: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
	if got["model"] != defaultAnthropicFastModel {
		t.Fatalf("expected fast tier model, got %v", got["model"])
	}
	if got["temperature"] != 0.1 {
		t.Fatalf("expected temperature 0.1, got %v", got["temperature"])
	}
	if got["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("expected default max_tokens, got %v", got["max_tokens"])
	}
}

func TestAnthropicBackendOverloadedIsRetriable(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	t.Cleanup(server.Close)

	backend := NewAnthropicBackend(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: server.URL})
	_, err := backend.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetriable(err) {
		t.Fatalf("expected overloaded error to be retriable: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected SDK retries to be disabled, got %d calls", calls)
	}
}

func TestModelSetResolve(t *testing.T) {
	m := ModelSet{Default: "big"}
	if got := m.Resolve(ModelFast); got != "big" {
		t.Fatalf("missing fast model should fall back to default, got %q", got)
	}
	m.Advanced = "huge"
	if got := m.Resolve(ModelAdvanced); got != "huge" {
		t.Fatalf("unexpected advanced model %q", got)
	}
}
