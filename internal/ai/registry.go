package ai

import (
	"fmt"
	"sync"
)

type ProviderFactory func(cfg ProviderConfig) (Provider, error)

// Registry maps each Kind to the adapter that serves it. It is filled at
// startup; there is no lookup by arbitrary name at request time.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]ProviderFactory)}
}

// AdapterOptions holds settings that apply to an adapter regardless of
// which config entry it is built for.
type AdapterOptions struct {
	OpenRouterSiteURL string
	OpenRouterAppName string
}

// NewDefaultRegistry binds every known Kind to its HTTP adapter.
func NewDefaultRegistry(opts AdapterOptions) *Registry {
	r := NewRegistry()
	r.Register(KindOllama, func(cfg ProviderConfig) (Provider, error) {
		return NewOllamaProvider(cfg.BaseURL, cfg.Model), nil
	})
	r.Register(KindOpenAI, func(cfg ProviderConfig) (Provider, error) {
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	})
	r.Register(KindOpenRouter, func(cfg ProviderConfig) (Provider, error) {
		return NewOpenRouterProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, opts.OpenRouterSiteURL, opts.OpenRouterAppName), nil
	})
	r.Register(KindGemini, func(cfg ProviderConfig) (Provider, error) {
		return NewGeminiProvider(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	})
	r.Register(KindDigitalOcean, func(cfg ProviderConfig) (Provider, error) {
		return NewDigitalOceanProvider(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	})
	return r
}

func (r *Registry) Register(kind Kind, f ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

func (r *Registry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

func (r *Registry) Build(cfg ProviderConfig) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Name)
	}
	return f(cfg)
}
