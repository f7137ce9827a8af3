package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/ai-relay/internal/ai"
	"github.com/suPer8Hu/ai-relay/internal/codec"
	"github.com/suPer8Hu/ai-relay/internal/history"
	"github.com/suPer8Hu/ai-relay/internal/sessioncache"
	"github.com/suPer8Hu/ai-relay/internal/tokens"
)

const (
	defaultUserID      = "anonymous"
	defaultContextType = "general"

	// clientTokenizer marks usage reported by the client rather than
	// computed by one of our counters.
	clientTokenizer = "client"
)

// Request is one inbound chat turn.
type Request struct {
	Message            string
	History            *history.History
	SessionKey         string
	UsedTokens         int
	ProviderPreference string
	UserID             string
	ContextType        string
	ProductID          string
	NewConversation    bool
	Context            map[string]any
}

type Response struct {
	Response   string
	UsedTokens int
	SessionKey string
	// TruncatedHistory is set only when older turns were dropped, so the
	// client can replace its own copy.
	TruncatedHistory *history.History
	BudgetExceeded   bool
	Provider         string
	Model            string
}

// LogEntry is handed to the LogSink after every successful turn.
type LogEntry struct {
	SessionKey string
	UserID     string
	Message    string
	Response   string
	Provider   string
	Model      string
	TokensUsed int
	Metadata   map[string]string
	CreatedAt  time.Time
}

type LogSink interface {
	Log(ctx context.Context, e LogEntry) error
}

// Enricher may rewrite the message and add context lines for the system
// prompt. Failures are logged and the original message is used.
type Enricher interface {
	Enrich(ctx context.Context, message, productID string) (string, map[string]string, error)
}

type Observer interface {
	ObserveRequest(outcome string)
	ObserveTruncation(provider string, exceeded bool)
	ObserveUsedTokens(n int)
}

// SessionStore is the subset of sessioncache.Cache the manager needs.
type SessionStore interface {
	Get(ctx context.Context, key string) (sessioncache.Record, bool)
	Set(ctx context.Context, key string, rec sessioncache.Record)
	Remove(ctx context.Context, key string)
}

type Generator interface {
	Generate(ctx context.Context, preferred string, prepare ai.PrepareFunc) (ai.Result, error)
}

type Option func(*Manager)

func WithLogSink(s LogSink) Option { return func(m *Manager) { m.sink = s } }

func WithEnricher(e Enricher) Option { return func(m *Manager) { m.enricher = e } }

func WithObserver(o Observer) Option { return func(m *Manager) { m.observer = o } }

func WithSystemPrompt(p string) Option { return func(m *Manager) { m.systemPrompt = p } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithCompressor(c codec.Compressor) Option {
	return func(m *Manager) { m.compressor = c }
}

// Manager runs one chat turn end to end. It keeps no per-request state;
// everything a turn needs is loaded from the store at the start and written
// back at the end.
type Manager struct {
	store      SessionStore
	router     Generator
	counters   *tokens.Registry
	keyer      SessionKeyer
	compressor codec.Compressor

	sink         LogSink
	enricher     Enricher
	observer     Observer
	systemPrompt string
	now          func() time.Time
}

func NewManager(store SessionStore, router Generator, counters *tokens.Registry, keyer SessionKeyer, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		router:     router,
		counters:   counters,
		keyer:      keyer,
		compressor: codec.NewCompressor(codec.AlgorithmZstd),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// plan is what prepare decided for one candidate provider.
type plan struct {
	counter tokens.Counter
	fit     history.Result
}

func (m *Manager) HandleRequest(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		m.observeRequest("invalid")
		return Response{}, ErrEmptyMessage
	}
	userID := firstNonEmpty(req.UserID, defaultUserID)
	contextType := firstNonEmpty(req.ContextType, defaultContextType)
	now := m.now().UTC()

	promptMessage := req.Message
	var enrichment map[string]string
	if m.enricher != nil {
		enriched, info, err := m.enricher.Enrich(ctx, req.Message, req.ProductID)
		if err != nil {
			log.Printf("[Manager] WARN enrichment failed product_id=%s err=%v", req.ProductID, err)
		} else {
			if strings.TrimSpace(enriched) != "" {
				promptMessage = enriched
			}
			enrichment = info
		}
	}

	key, st := m.resolve(ctx, req, userID, contextType, now)
	systemPrompt := BuildSystemPrompt(m.systemPrompt, req.Context, enrichment)

	plans := make(map[ai.Kind]plan)
	prepare := func(cfg ai.ProviderConfig) (ai.Request, error) {
		counter, err := m.counters.For(string(cfg.Name))
		if err != nil {
			return ai.Request{}, &ConfigurationError{Err: err}
		}
		transcript := history.Transcript(st.Turns)
		used := st.UsedTokens
		switch st.Tokenizer {
		case string(cfg.Name):
		case clientTokenizer:
			// trust the client total as a floor, never below the real cost
			if len(st.Turns) == 0 {
				used = 0
			} else {
				used = max(used, counter.Count(transcript))
			}
		default:
			used = counter.Count(transcript)
		}
		incoming := counter.Count(promptMessage)
		fit := history.Truncator{Counter: counter}.Fit(st.Turns, cfg.TokenLimit, used, incoming)
		plans[cfg.Name] = plan{counter: counter, fit: fit}
		return ai.Request{
			SystemPrompt:    systemPrompt,
			UserPrompt:      userPrompt(fit.Transcript, promptMessage),
			MaxOutputTokens: cfg.MaxOutputTokens,
			Temperature:     cfg.Temperature,
			Model:           cfg.Model,
		}, nil
	}

	res, err := m.router.Generate(ctx, req.ProviderPreference, prepare)
	if err != nil {
		return Response{}, m.classify(err, key)
	}
	p := plans[res.Provider]

	turn := history.Turn{User: req.Message, Bot: res.Text}
	turns := make([]history.Turn, 0, len(p.fit.Turns)+1)
	turns = append(turns, p.fit.Turns...)
	turns = append(turns, turn)

	next := st
	next.Turns = turns
	next.UsedTokens = p.fit.UsedTokens + p.counter.Count(turn.Line())
	next.Tokenizer = string(res.Provider)
	next.UpdatedUnix = now.Unix()
	if len(enrichment) > 0 {
		next.Metadata = mergeMetadata(st.Metadata, enrichment)
	}

	// The answer is already paid for; a client disconnect from here on must
	// not lose the turn.
	persistCtx := context.WithoutCancel(ctx)
	if rec, err := encodeState(m.compressor, key, next, now); err != nil {
		log.Printf("[Manager] WARN session not stored key=%s err=%v", key, err)
	} else {
		m.store.Set(persistCtx, key, rec)
	}

	if m.sink != nil {
		entry := LogEntry{
			SessionKey: key,
			UserID:     userID,
			Message:    req.Message,
			Response:   res.Text,
			Provider:   string(res.Provider),
			Model:      res.Model,
			TokensUsed: next.UsedTokens,
			Metadata:   mergeMetadata(map[string]string{"context_type": contextType, "product_id": req.ProductID}, enrichment),
			CreatedAt:  now,
		}
		if err := m.sink.Log(persistCtx, entry); err != nil {
			log.Printf("[Manager] WARN log sink failed key=%s err=%v", key, err)
		}
	}

	out := Response{
		Response:       res.Text,
		UsedTokens:     next.UsedTokens,
		SessionKey:     key,
		BudgetExceeded: p.fit.BudgetExceeded,
		Provider:       string(res.Provider),
		Model:          res.Model,
	}
	if p.fit.Truncated {
		h := history.FromTurns(turns)
		out.TruncatedHistory = &h
		log.Printf("[Manager] history truncated key=%s provider=%s evicted=%d exceeded=%v", key, res.Provider, p.fit.Evicted, p.fit.BudgetExceeded)
		if m.observer != nil {
			m.observer.ObserveTruncation(string(res.Provider), p.fit.BudgetExceeded)
		}
	}
	m.observeRequest("ok")
	if m.observer != nil {
		m.observer.ObserveUsedTokens(next.UsedTokens)
	}
	return out, nil
}

// resolve picks the session key and the state the turn starts from.
//
// A known key wins over any history the client sent. Without a usable key
// the client's history is the source of truth; with neither, an identified
// user resumes the derived key's cached state and an anonymous one starts
// fresh. NewConversation with no history always starts from zero.
func (m *Manager) resolve(ctx context.Context, req Request, userID, contextType string, now time.Time) (string, State) {
	fresh := func(key string) (string, State) {
		return key, State{
			UserID:      userID,
			ContextType: contextType,
			ProductID:   req.ProductID,
			Turns:       []history.Turn{},
			CreatedUnix: now.Unix(),
			UpdatedUnix: now.Unix(),
		}
	}

	supplied := req.History.Normalize()
	// anonymous callers share one identity and must never share its key
	anonymous := strings.TrimSpace(req.UserID) == ""
	var derived string
	if anonymous {
		derived = newAnonymousKey()
	} else {
		derived = m.keyer.Derive(userID, contextType, now)
	}

	if req.NewConversation && supplied.Len() == 0 {
		return fresh(firstNonEmpty(req.SessionKey, derived))
	}

	if req.SessionKey != "" {
		if st, ok := m.load(ctx, req.SessionKey); ok {
			return req.SessionKey, st
		}
		log.Printf("[Manager] session not found key=%s, falling back to request history turns=%d", req.SessionKey, supplied.Len())
	}

	if supplied.Len() > 0 {
		key, st := fresh(derived)
		st.Turns = supplied.Turns()
		st.UsedTokens = max(req.UsedTokens, 0)
		st.Tokenizer = clientTokenizer
		return key, st
	}

	if !anonymous {
		if st, ok := m.load(ctx, derived); ok {
			return derived, st
		}
	}
	return fresh(derived)
}

// newAnonymousKey has the shape of a derived key: 32 hex characters.
func newAnonymousKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (m *Manager) load(ctx context.Context, key string) (State, bool) {
	rec, ok := m.store.Get(ctx, key)
	if !ok {
		return State{}, false
	}
	st, err := decodeState(m.compressor, rec)
	if err != nil {
		log.Printf("[Manager] WARN dropping unreadable session key=%s err=%v", key, err)
		m.store.Remove(ctx, key)
		return State{}, false
	}
	if st.Turns == nil {
		st.Turns = []history.Turn{}
	}
	return st, true
}

func (m *Manager) classify(err error, key string) error {
	var exhausted *ai.ExhaustedError
	switch {
	case errors.Is(err, ErrConfiguration):
		m.observeRequest("config")
		return err
	case errors.As(err, &exhausted):
		m.observeRequest("exhausted")
		return err
	case errors.Is(err, ai.ErrNoProviders), errors.Is(err, ai.ErrUnknownKind):
		m.observeRequest("config")
		return &ConfigurationError{Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.observeRequest("cancelled")
		log.Printf("[Manager] request abandoned key=%s err=%v", key, err)
		return err
	}
	m.observeRequest("error")
	return fmt.Errorf("generate: %w", err)
}

// Session returns the stored state for key, if any.
func (m *Manager) Session(ctx context.Context, key string) (State, bool) {
	return m.load(ctx, key)
}

func (m *Manager) DeleteSession(ctx context.Context, key string) {
	m.store.Remove(ctx, key)
}

func (m *Manager) observeRequest(outcome string) {
	if m.observer != nil {
		m.observer.ObserveRequest(outcome)
	}
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
