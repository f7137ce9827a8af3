package tokens

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoTokenizer is returned when a provider has no counter bound.
var ErrNoTokenizer = errors.New("no tokenizer bound for provider")

// Counter maps text to a token count. Implementations must be pure and safe
// for concurrent use.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Registry binds counters to provider names. Counts from one provider's
// counter are only meaningful against that provider's token limit.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]Counter
}

func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]Counter)}
}

func (r *Registry) Bind(provider string, c Counter) {
	provider = normalize(provider)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[provider] = c
}

// For returns the counter bound to provider, or an error wrapping
// ErrNoTokenizer. It never falls back to an approximation.
func (r *Registry) For(provider string) (Counter, error) {
	name := normalize(provider)
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok || c == nil {
		return nil, fmt.Errorf("tokens: %q: %w", name, ErrNoTokenizer)
	}
	return c, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
