package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fabfab/docbot/config"
)

func TestNewClientDefaults(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOllama,
			Model:    "llama3.1:8b",
		},
		OllamaHost: "http://localhost:11434",
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("expected llm client, got error: %v", err)
	}

	if client == nil {
		t.Fatal("expected non-nil client")
	}
}

func TestNewClientOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOpenAI,
			Model:    "gpt-3.5-turbo",
		},
	}

	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
}

func TestNewClientUnknownProvider(t *testing.T) {
	cfg := config.Config{LLM: config.LLMConfig{Provider: "palm"}}
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOpenAIClientGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Paris."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{Model: "gpt-3.5-turbo", OpenAIAPIKey: "sk-test", OpenAIBaseURL: srv.URL})
	answer, err := client.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "capital of France?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Paris." {
		t.Fatalf("unexpected answer %q", answer)
	}
	if got.Model != "gpt-3.5-turbo" || len(got.Messages) != 2 || got.Messages[1].Role != RoleUser {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestOpenAIClientPropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(Options{Model: "gpt-3.5-turbo", OpenAIAPIKey: "sk-bad", OpenAIBaseURL: srv.URL})
	if _, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected error from unauthorized response")
	}
}

func TestOllamaClientGenerate(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hello there"},"done":true}`))
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{Model: "llama3.1:8b", OllamaHost: srv.URL + "/", Temperature: 0.2})
	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "hello there" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if got.Stream {
		t.Fatal("expected non-streaming request")
	}
	if got.Options.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", got.Options.Temperature)
	}
}

func TestOllamaClientErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewOllamaClient(Options{Model: "missing", OllamaHost: srv.URL})
	_, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected error with body, got %v", err)
	}
}

func TestGenerateRejectsEmptyMessages(t *testing.T) {
	client := NewOllamaClient(Options{Model: "m"})
	if _, err := client.Generate(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty message list")
	}
}
