package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaProvider_Generate(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hello"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3:latest")
	text, err := p.Generate(context.Background(), Request{
		SystemPrompt:    "sys",
		UserPrompt:      "hi",
		MaxOutputTokens: 50,
		Temperature:     0.2,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello" {
		t.Fatalf("unexpected reply %q", text)
	}
	if got.Model != "llama3:latest" || got.Stream || len(got.Messages) != 2 {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Messages[0].Role != "system" || got.Messages[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.Options == nil || got.Options.NumPredict != 50 {
		t.Fatalf("max output tokens not forwarded: %+v", got.Options)
	}
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "").Generate(context.Background(), Request{UserPrompt: "hi"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestChatCompletionsProvider_Generate(t *testing.T) {
	var got chatCompletionsReq
	var auth, title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"answer"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouterProvider(srv.URL+"/", "k", "openrouter/auto", "https://example.test", "relay")
	text, err := p.Generate(context.Background(), Request{UserPrompt: "q", Model: "meta/llama", MaxOutputTokens: 10})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "answer" {
		t.Fatalf("unexpected reply %q", text)
	}
	if auth != "Bearer k" || title != "relay" {
		t.Fatalf("headers not set: auth=%q title=%q", auth, title)
	}
	if got.Model != "meta/llama" || got.MaxTokens != 10 || len(got.Messages) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestChatCompletionsProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("http://127.0.0.1:1", "", "").Generate(context.Background(), Request{UserPrompt: "q"})
	if err == nil || !strings.Contains(err.Error(), "api key") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestChatCompletionsProvider_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(srv.URL, "k", "").Generate(context.Background(), Request{UserPrompt: "q"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestDigitalOceanProvider_Generate(t *testing.T) {
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"from agent"}}]}`))
	}))
	defer srv.Close()

	p := NewDigitalOceanProvider(srv.URL+"/", "do-token", "")
	text, err := p.Generate(context.Background(), Request{UserPrompt: "q"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "from agent" || auth != "Bearer do-token" {
		t.Fatalf("unexpected reply %q auth=%q", text, auth)
	}
	if path != "/api/v1/chat/completions" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestDigitalOceanProvider_RequiresAgentURL(t *testing.T) {
	_, err := NewDigitalOceanProvider("", "do-token", "").Generate(context.Background(), Request{UserPrompt: "q"})
	if err == nil || !strings.Contains(err.Error(), "base url") {
		t.Fatalf("expected base url error, got %v", err)
	}
}

func TestGeminiProvider_Generate(t *testing.T) {
	var got geminiReq
	var key, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hel"},{"text":"lo"}]}}]}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(srv.URL, "gk", "gemini-2.0-flash")
	text, err := p.Generate(context.Background(), Request{SystemPrompt: "sys", UserPrompt: "hi", Temperature: 0.7})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "hello" {
		t.Fatalf("unexpected reply %q", text)
	}
	if path != "/models/gemini-2.0-flash:generateContent" || key != "gk" {
		t.Fatalf("unexpected call: path=%s key=%s", path, key)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "sys" {
		t.Fatalf("system prompt not forwarded: %+v", got)
	}
}

func TestGeminiProvider_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiProvider(srv.URL, "gk", "").Generate(context.Background(), Request{UserPrompt: "hi"})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestDefaultRegistry_BuildsEveryKind(t *testing.T) {
	reg := NewDefaultRegistry(AdapterOptions{})
	for _, k := range kinds {
		p, err := reg.Build(ProviderConfig{Name: k})
		if err != nil || p == nil {
			t.Fatalf("build %s: %v", k, err)
		}
	}
	if _, err := reg.Build(ProviderConfig{Name: "huggingface"}); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}

func TestParseProviders(t *testing.T) {
	t.Setenv("TEST_RELAY_OPENAI_KEY", "sk-test")
	doc := []byte(`
providers:
  - name: OpenAI
    model: gpt-4o-mini
    token_limit: 16000
    priority: 1
    enabled: true
    api_key_env: TEST_RELAY_OPENAI_KEY
  - name: gemini
    model: gemini-2.0-flash
    token_limit: 32000
    priority: 0
    enabled: true
    max_output_tokens: 512
    temperature: 0.3
`)
	list, err := ParseProviders(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(list))
	}
	if list[0].Name != KindOpenAI || list[0].APIKey != "sk-test" || list[0].MaxOutputTokens != DefaultMaxOutputTokens {
		t.Fatalf("unexpected openai config: %+v", list[0])
	}
	if list[1].MaxOutputTokens != 512 || list[1].Temperature != 0.3 {
		t.Fatalf("unexpected gemini config: %+v", list[1])
	}
	if !list[0].View().APIKeyConfigured || list[1].View().APIKeyConfigured {
		t.Fatalf("unexpected api key views")
	}

	if _, err := ParseProviders([]byte("providers:\n  - name: bard\n    token_limit: 1\n")); err == nil {
		t.Fatalf("unknown provider kind should fail")
	}
	if _, err := ParseProviders([]byte("providers:\n  - name: ollama\n")); err == nil {
		t.Fatalf("missing token_limit should fail")
	}
}
