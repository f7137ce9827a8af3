package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingProvider struct {
	mu    sync.Mutex
	name  string
	reply string
	err   error
	delay time.Duration
	calls []Request
}

func (p *recordingProvider) Generate(ctx context.Context, req Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *recordingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (o *countingObserver) ProviderAttempt(provider, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]string{}
	}
	o.outcomes[provider] = outcome
}

func cfg(kind Kind, priority int, enabled bool) ProviderConfig {
	return ProviderConfig{
		Name:            kind,
		Model:           string(kind) + "-model",
		TokenLimit:      1000,
		Priority:        priority,
		Enabled:         enabled,
		MaxOutputTokens: 100,
		Temperature:     0.5,
	}
}

func fakeRegistry(providers map[Kind]*recordingProvider) *Registry {
	reg := NewRegistry()
	for k, p := range providers {
		p := p
		reg.Register(k, func(ProviderConfig) (Provider, error) { return p, nil })
	}
	return reg
}

func passthrough(cfg ProviderConfig) (Request, error) {
	return Request{UserPrompt: "hi", MaxOutputTokens: cfg.MaxOutputTokens, Temperature: cfg.Temperature}, nil
}

func TestGenerate_FallsBackAndShortCircuits(t *testing.T) {
	a := &recordingProvider{name: "a", err: errors.New("boom")}
	b := &recordingProvider{name: "b", reply: "from b"}
	c := &recordingProvider{name: "c", reply: "from c"}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: a, KindOpenAI: b, KindOllama: c})

	r, err := NewRouter(reg, []ProviderConfig{
		cfg(KindOllama, 2, true),
		cfg(KindOpenAI, 1, true),
		cfg(KindGemini, 0, true),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	res, err := r.Generate(context.Background(), "", passthrough)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "from b" || res.Provider != KindOpenAI || res.Model != "openai-model" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if a.callCount() != 1 {
		t.Fatalf("expected A tried once, got %d", a.callCount())
	}
	if c.callCount() != 0 {
		t.Fatalf("lower priority provider should never be invoked, got %d calls", c.callCount())
	}
}

func TestGenerate_PreferredMovesToFront(t *testing.T) {
	a := &recordingProvider{reply: "a"}
	b := &recordingProvider{reply: "b"}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: a, KindOpenAI: b})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)})

	res, err := r.Generate(context.Background(), " OpenAI ", passthrough)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Provider != KindOpenAI || a.callCount() != 0 {
		t.Fatalf("preferred provider not tried first: %+v, a calls=%d", res, a.callCount())
	}
}

func TestGenerate_DisabledPreferredIsIgnored(t *testing.T) {
	a := &recordingProvider{reply: "a"}
	b := &recordingProvider{reply: "b"}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: a, KindOpenAI: b})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, false)})

	res, err := r.Generate(context.Background(), "openai", passthrough)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Provider != KindGemini || b.callCount() != 0 {
		t.Fatalf("disabled provider must not be called: %+v", res)
	}
}

func TestActive_PreservesRelativeOrder(t *testing.T) {
	reg := fakeRegistry(map[Kind]*recordingProvider{
		KindGemini: {}, KindOpenAI: {}, KindOllama: {}, KindOpenRouter: {},
	})
	r, _ := NewRouter(reg, []ProviderConfig{
		cfg(KindGemini, 0, true),
		cfg(KindOpenAI, 1, true),
		cfg(KindOllama, 2, true),
		cfg(KindOpenRouter, 3, true),
	})
	got := r.Active("ollama")
	want := []Kind{KindOllama, KindGemini, KindOpenAI, KindOpenRouter}
	for i := range want {
		if got[i].Name != want[i] {
			t.Fatalf("Active()[%d] = %s, want %s", i, got[i].Name, want[i])
		}
	}
}

func TestGenerate_AllFailReturnsExhausted(t *testing.T) {
	a := &recordingProvider{err: errors.New("first")}
	b := &recordingProvider{err: errors.New("second")}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: a, KindOpenAI: b})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)})

	_, err := r.Generate(context.Background(), "", passthrough)
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if len(ex.Failures) != 2 || ex.Failures[0].Provider != "gemini" || ex.Failures[1].Provider != "openai" {
		t.Fatalf("unexpected failures: %+v", ex.Failures)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Cause.Error() != "second" {
		t.Fatalf("Unwrap should expose the last failure, got %v", pe)
	}
}

func TestGenerate_NoEnabledProviders(t *testing.T) {
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: {}})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, false)})
	if _, err := r.Generate(context.Background(), "", passthrough); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
}

func TestGenerate_TimeoutIsProviderFailure(t *testing.T) {
	slow := &recordingProvider{reply: "late", delay: time.Second}
	fast := &recordingProvider{reply: "fast"}
	obs := &countingObserver{}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: slow, KindOpenAI: fast})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)},
		WithCallTimeout(20*time.Millisecond), WithAttemptObserver(obs))

	res, err := r.Generate(context.Background(), "", passthrough)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Provider != KindOpenAI {
		t.Fatalf("expected fallback to openai, got %s", res.Provider)
	}
	if obs.outcomes["gemini"] != OutcomeTimeout || obs.outcomes["openai"] != OutcomeSuccess {
		t.Fatalf("unexpected outcomes: %v", obs.outcomes)
	}
}

func TestGenerate_ParentCancelAborts(t *testing.T) {
	slow := &recordingProvider{reply: "late", delay: time.Second}
	next := &recordingProvider{reply: "next"}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: slow, KindOpenAI: next})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := r.Generate(ctx, "", passthrough)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if next.callCount() != 0 {
		t.Fatalf("no further providers after cancellation")
	}
}

func TestGenerate_PrepareErrorAborts(t *testing.T) {
	a := &recordingProvider{reply: "a"}
	b := &recordingProvider{reply: "b"}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: a, KindOpenAI: b})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)})

	sentinel := errors.New("no tokenizer")
	_, err := r.Generate(context.Background(), "", func(ProviderConfig) (Request, error) {
		return Request{}, sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected prepare error, got %v", err)
	}
	if a.callCount()+b.callCount() != 0 {
		t.Fatalf("no provider should be called")
	}
}

func TestGenerate_PreparePerCandidate(t *testing.T) {
	a := &recordingProvider{err: errors.New("down")}
	b := &recordingProvider{reply: "ok"}
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: a, KindOpenAI: b})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)})

	var seen []Kind
	_, err := r.Generate(context.Background(), "", func(c ProviderConfig) (Request, error) {
		seen = append(seen, c.Name)
		return Request{UserPrompt: "for " + string(c.Name)}, nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(seen) != 2 || b.calls[0].UserPrompt != "for openai" {
		t.Fatalf("prepare should run per candidate: seen=%v", seen)
	}
}

func TestUpdate_ResortsAndValidates(t *testing.T) {
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: {}, KindOpenAI: {}})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindOpenAI, 1, true)})

	p := 5
	if _, err := r.Update(KindGemini, ProviderUpdate{Priority: &p}); err != nil {
		t.Fatalf("update: %v", err)
	}
	list := r.List()
	if list[0].Name != KindOpenAI || list[1].Name != KindGemini {
		t.Fatalf("list not re-sorted: %v", list)
	}

	bad := 0
	if _, err := r.Update(KindGemini, ProviderUpdate{TokenLimit: &bad}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := r.Update(KindOllama, ProviderUpdate{Priority: &p}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestUpsertAndRemove(t *testing.T) {
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: {}, KindOpenAI: {}})
	r, _ := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 3, true)})

	if err := r.Upsert(cfg(KindOpenAI, 1, true)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if r.List()[0].Name != KindOpenAI {
		t.Fatalf("upsert should re-sort")
	}
	replaced := cfg(KindOpenAI, 9, false)
	if err := r.Upsert(replaced); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}
	if len(r.List()) != 2 {
		t.Fatalf("upsert must not duplicate names")
	}
	if err := r.Upsert(cfg(KindOllama, 0, true)); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("kind without adapter should be rejected, got %v", err)
	}
	if !r.Remove(KindOpenAI) || r.Remove(KindOpenAI) {
		t.Fatalf("remove should succeed exactly once")
	}
}

func TestNewRouter_RejectsDuplicates(t *testing.T) {
	reg := fakeRegistry(map[Kind]*recordingProvider{KindGemini: {}})
	_, err := NewRouter(reg, []ProviderConfig{cfg(KindGemini, 0, true), cfg(KindGemini, 1, true)})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
