package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrNoProviders = errors.New("no enabled ai providers")

const DefaultCallTimeout = 30 * time.Second

// Attempt outcomes reported to an AttemptObserver.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

type AttemptObserver interface {
	ProviderAttempt(provider, outcome string, elapsed time.Duration)
}

// ExhaustedError is returned when every candidate failed. Failures are in
// the order they were tried.
type ExhaustedError struct {
	Failures []*ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return "all ai providers failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[len(e.Failures)-1]
}

// PrepareFunc builds the request for one candidate. It runs once per
// attempted provider so each gets a prompt fitted to its own budget. An
// error from it stops the whole call; it is never treated as a provider
// failure.
type PrepareFunc func(cfg ProviderConfig) (Request, error)

type Result struct {
	Text     string
	Provider Kind
	Model    string
}

type RouterOption func(*Router)

func WithCallTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithAttemptObserver(o AttemptObserver) RouterOption {
	return func(r *Router) { r.observer = o }
}

// Router tries enabled providers in priority order until one answers.
type Router struct {
	registry *Registry
	timeout  time.Duration
	observer AttemptObserver

	mu      sync.RWMutex
	configs []ProviderConfig
}

func NewRouter(registry *Registry, configs []ProviderConfig, opts ...RouterOption) (*Router, error) {
	r := &Router{registry: registry, timeout: DefaultCallTimeout}
	for _, o := range opts {
		o(r)
	}
	seen := make(map[Kind]bool, len(configs))
	for _, c := range configs {
		if err := r.check(c); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate provider %s", ErrInvalidConfig, c.Name)
		}
		seen[c.Name] = true
		r.configs = append(r.configs, c)
	}
	r.sortLocked()
	return r, nil
}

func (r *Router) check(c ProviderConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !r.registry.Has(c.Name) {
		return fmt.Errorf("%w: %s has no adapter", ErrUnknownKind, c.Name)
	}
	return nil
}

// sortLocked keeps ties in insertion order.
func (r *Router) sortLocked() {
	sort.SliceStable(r.configs, func(i, j int) bool {
		return r.configs[i].Priority < r.configs[j].Priority
	})
}

// List returns every config, enabled or not, in priority order.
func (r *Router) List() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderConfig, len(r.configs))
	copy(out, r.configs)
	return out
}

func (r *Router) Get(name Kind) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.configs {
		if c.Name == name {
			return c, true
		}
	}
	return ProviderConfig{}, false
}

// Active returns the enabled configs in the order Generate would try them:
// priority order, with preferred moved to the front when it is enabled.
func (r *Router) Active(preferred string) []ProviderConfig {
	r.mu.RLock()
	out := make([]ProviderConfig, 0, len(r.configs))
	for _, c := range r.configs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	pref := Kind(strings.ToLower(strings.TrimSpace(preferred)))
	if pref == "" {
		return out
	}
	for i, c := range out {
		if c.Name == pref {
			if i > 0 {
				copy(out[1:i+1], out[:i])
				out[0] = c
			}
			break
		}
	}
	return out
}

func (r *Router) Update(name Kind, u ProviderUpdate) (ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.configs {
		if c.Name != name {
			continue
		}
		next := u.apply(c)
		if err := r.check(next); err != nil {
			return ProviderConfig{}, err
		}
		r.configs[i] = next
		r.sortLocked()
		log.Printf("[Router] provider updated name=%s priority=%d enabled=%v model=%s", next.Name, next.Priority, next.Enabled, next.Model)
		return next, nil
	}
	return ProviderConfig{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Upsert replaces the config with the same name in place, or appends it.
func (r *Router) Upsert(cfg ProviderConfig) error {
	if err := r.check(cfg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	replaced := false
	for i, c := range r.configs {
		if c.Name == cfg.Name {
			r.configs[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		r.configs = append(r.configs, cfg)
	}
	r.sortLocked()
	return nil
}

func (r *Router) Remove(name Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.configs {
		if c.Name == name {
			r.configs = append(r.configs[:i], r.configs[i+1:]...)
			return true
		}
	}
	return false
}

// Generate walks the candidates and returns the first successful answer.
// Later candidates are never called once one succeeds. Cancelling ctx stops
// the walk and returns the context error; a per-call timeout only fails the
// provider that hit it.
func (r *Router) Generate(ctx context.Context, preferred string, prepare PrepareFunc) (Result, error) {
	candidates := r.Active(preferred)
	if len(candidates) == 0 {
		return Result{}, ErrNoProviders
	}

	var failures []*ProviderError
	for _, cfg := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		req, err := prepare(cfg)
		if err != nil {
			return Result{}, fmt.Errorf("prepare %s: %w", cfg.Name, err)
		}
		if req.Model == "" {
			req.Model = cfg.Model
		}

		p, err := r.registry.Build(cfg)
		if err != nil {
			return Result{}, err
		}

		start := time.Now()
		text, err := r.call(ctx, p, req)
		cost := time.Since(start)
		if err == nil {
			r.observe(cfg.Name, OutcomeSuccess, cost)
			if len(failures) > 0 {
				log.Printf("[Router] fallback succeeded provider=%s model=%s after=%d cost=%s", cfg.Name, req.Model, len(failures), cost)
			}
			return Result{Text: text, Provider: cfg.Name, Model: req.Model}, nil
		}

		if ctx.Err() != nil {
			log.Printf("[Router] request cancelled provider=%s cost=%s err=%v", cfg.Name, cost, ctx.Err())
			return Result{}, ctx.Err()
		}

		outcome := OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		r.observe(cfg.Name, outcome, cost)
		log.Printf("[Router] provider failed provider=%s model=%s outcome=%s cost=%s err=%v", cfg.Name, req.Model, outcome, cost, err)
		failures = append(failures, &ProviderError{Provider: string(cfg.Name), Cause: err})
	}

	exhausted := &ExhaustedError{Failures: failures}
	log.Printf("[Router] all providers failed tried=%d last=%v", len(failures), exhausted.Unwrap())
	return Result{}, exhausted
}

func (r *Router) call(ctx context.Context, p Provider, req Request) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Generate(cctx, req)
}

func (r *Router) observe(name Kind, outcome string, d time.Duration) {
	if r.observer != nil {
		r.observer.ProviderAttempt(string(name), outcome, d)
	}
}
