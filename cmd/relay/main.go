package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/suPer8Hu/ai-relay/internal/ai"
	"github.com/suPer8Hu/ai-relay/internal/auth"
	"github.com/suPer8Hu/ai-relay/internal/chatlog"
	"github.com/suPer8Hu/ai-relay/internal/codec"
	"github.com/suPer8Hu/ai-relay/internal/config"
	"github.com/suPer8Hu/ai-relay/internal/db"
	"github.com/suPer8Hu/ai-relay/internal/httpapi"
	"github.com/suPer8Hu/ai-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-relay/internal/observability"
	"github.com/suPer8Hu/ai-relay/internal/relay"
	"github.com/suPer8Hu/ai-relay/internal/sessioncache"
	"github.com/suPer8Hu/ai-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-relay/internal/tokens"
)

func main() {
	cfg := config.Load()

	flags := pflag.NewFlagSet("relay", pflag.ExitOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "listen address")
	providersFile := flags.String("providers", cfg.ProvidersFile, "YAML provider list (overrides *_MODEL/*_PRIORITY env)")
	systemPromptFile := flags.String("system-prompt", cfg.SystemPromptFile, "file holding the base system prompt")
	_ = flags.Parse(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)

	// message log
	gdb := db.Connect(cfg.DBDSN)
	logs := chatlog.NewRepo(gdb)
	if err := logs.AutoMigrate(); err != nil {
		log.Fatalf("automigrate: %v", err)
	}
	var sink relay.LogSink = chatlog.NewSink(logs)
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer pub.Close()
		sink = pub
		log.Printf("[Relay] message logs go to queue=%s", cfg.RabbitQueue)
	}

	// session cache
	cacheOpts := []sessioncache.Option{sessioncache.WithObserver(metrics)}
	if cfg.UseRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		remote := sessioncache.NewRedisRemote(client)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := remote.Ping(pingCtx); err != nil {
			log.Printf("[Relay] WARN redis unreachable addr=%s, running local only: %v", cfg.RedisAddr, err)
			_ = remote.Close()
		} else {
			defer remote.Close()
			cacheOpts = append(cacheOpts, sessioncache.WithRemote(remote))
		}
		cancel()
	}
	cache := sessioncache.New(cfg.CacheSize, cfg.CacheTTL, cacheOpts...)
	go cache.RunJanitor(ctx, cfg.SweepInterval)

	algorithm, err := codec.ParseAlgorithm(cfg.CompressionAlgorithm)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	compressor := codec.NewCompressor(algorithm)

	// providers
	providerCfgs := cfg.Providers
	if *providersFile != "" {
		providerCfgs, err = ai.LoadProviderFile(*providersFile)
		if err != nil {
			log.Fatalf("load providers file=%s: %v", *providersFile, err)
		}
	}
	counters, err := newCounters(cfg.TiktokenEncoding)
	if err != nil {
		log.Fatalf("tokenizer: %v", err)
	}
	registry := ai.NewDefaultRegistry(ai.AdapterOptions{
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	router, err := ai.NewRouter(registry, providerCfgs,
		ai.WithCallTimeout(cfg.ProviderTimeout),
		ai.WithAttemptObserver(metrics),
	)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}
	for _, p := range router.Active("") {
		log.Printf("[Relay] provider name=%s model=%s priority=%d token_limit=%d", p.Name, p.Model, p.Priority, p.TokenLimit)
	}

	managerOpts := []relay.Option{
		relay.WithCompressor(compressor),
		relay.WithLogSink(sink),
		relay.WithObserver(metrics),
	}
	if *systemPromptFile != "" {
		b, err := os.ReadFile(*systemPromptFile)
		if err != nil {
			log.Fatalf("system prompt file=%s: %v", *systemPromptFile, err)
		}
		managerOpts = append(managerOpts, relay.WithSystemPrompt(string(b)))
	}
	manager := relay.NewManager(cache, router, counters, relay.NewSessionKeyer(cfg.SessionSecret), managerOpts...)

	if cfg.AdminPasswordHash == "" {
		log.Printf("[Relay] WARN ADMIN_PASSWORD_HASH not set, admin login is disabled")
	}
	h := &handlers.Handler{
		Relay:             manager,
		Providers:         router,
		Cache:             cache,
		Compressor:        compressor,
		Logs:              logs,
		Auth:              auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
	}
	engine := httpapi.NewRouter(h, httpapi.Options{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("relay listening addr=%s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// newCounters binds the tokenizer each provider is billed with. OpenAI
// family models share a BPE; the others get the estimator.
func newCounters(encoding string) (*tokens.Registry, error) {
	bpe, err := tokens.NewTiktoken(encoding)
	if err != nil {
		return nil, err
	}
	reg := tokens.NewRegistry()
	reg.Bind(string(ai.KindOpenAI), bpe)
	reg.Bind(string(ai.KindOpenRouter), bpe)
	reg.Bind(string(ai.KindGemini), tokens.Estimator{})
	reg.Bind(string(ai.KindOllama), tokens.Estimator{})
	reg.Bind(string(ai.KindDigitalOcean), tokens.Estimator{})
	return reg, nil
}
