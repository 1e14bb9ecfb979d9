package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"carebot/pkg/config"
	providertypes "carebot/pkg/provider/types"
	"carebot/pkg/upstream"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("TEST_REASONING_KEY", "")

	cfg := config.UpstreamConfig{APIKeyEnv: "TEST_REASONING_KEY", Model: "gemini-1.5-flash"}
	_, err := New("reasoning", cfg)
	if !errors.Is(err, upstream.ErrNotConfigured) {
		t.Fatalf("New error = %v, want ErrNotConfigured", err)
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("TEST_REASONING_KEY", "sk-test")

	cfg := config.UpstreamConfig{APIKeyEnv: "TEST_REASONING_KEY", Model: "gemini-1.5-flash"}
	client, err := New("reasoning", cfg)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.model != "gemini-1.5-flash" {
		t.Fatalf("model = %q", client.model)
	}
}

func TestCompleteSendsSystemAndUserMessages(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "sonar",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  Stay hydrated.  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer server.Close()

	t.Setenv("TEST_SEARCH_KEY", "sk-test")
	client, err := New("search", config.UpstreamConfig{BaseURL: server.URL, APIKeyEnv: "TEST_SEARCH_KEY", Model: "perplexity/sonar"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	completion, err := client.Complete(context.Background(), providertypes.Request{System: "be factual", Prompt: "flu season news"})
	if err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	if completion.Text != "Stay hydrated." {
		t.Fatalf("text = %q", completion.Text)
	}
	if completion.Metadata.Usage == nil || completion.Metadata.Usage.TotalTokens != 16 {
		t.Fatalf("usage = %+v, want total 16", completion.Metadata.Usage)
	}
	if received.Model != "sonar" {
		t.Fatalf("model sent = %q, want sonar", received.Model)
	}
	if len(received.Messages) != 2 || received.Messages[0].Role != "system" || received.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v", received.Messages)
	}
}

func TestCompleteClassifiesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
	}))
	defer server.Close()

	t.Setenv("TEST_REASONING_KEY", "sk-test")
	client, err := New("reasoning", config.UpstreamConfig{BaseURL: server.URL, APIKeyEnv: "TEST_REASONING_KEY", Model: "gemini-1.5-flash"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = client.Complete(context.Background(), providertypes.Request{Prompt: "hello"})
	categorized := upstream.AsError(err)
	if categorized.Kind != providertypes.ErrorUpstreamUnavailable || categorized.Status != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want upstream_unavailable with 503", err)
	}
	if !categorized.Temporary() {
		t.Fatal("503 should be retryable")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gemini-1.5-flash", want: "gemini-1.5-flash"},
		{name: "provider prefix", input: "perplexity/sonar", want: "sonar"},
		{name: "vendor path", input: "models/gemini-1.5-flash", want: "models/gemini-1.5-flash"},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
