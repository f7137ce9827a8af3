package ai

import (
	"context"
	"fmt"
	"strings"
)

// Kind names a provider backend. The set is closed; adding a backend means
// adding a constant and a factory in NewDefaultRegistry.
type Kind string

const (
	KindOllama     Kind = "ollama"
	KindOpenAI     Kind = "openai"
	KindOpenRouter Kind = "openrouter"
	KindGemini     Kind = "gemini"
	// KindDigitalOcean is a DigitalOcean Gradient agent; its model is fixed
	// by the agent, so the config's Model is informational.
	KindDigitalOcean Kind = "digitalocean"
)

var kinds = []Kind{KindOllama, KindOpenAI, KindOpenRouter, KindGemini, KindDigitalOcean}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is everything an adapter needs for one completion.
type Request struct {
	SystemPrompt    string
	UserPrompt      string
	MaxOutputTokens int
	Temperature     float64
	Model           string
}

func (r Request) messages() []Message {
	out := make([]Message, 0, 2)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: "system", Content: r.SystemPrompt})
	}
	out = append(out, Message{Role: "user", Content: r.UserPrompt})
	return out
}

type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ProviderError is a single backend's failure. The router absorbs these and
// moves on to the next candidate.
type ProviderError struct {
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }
