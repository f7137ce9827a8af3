package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-relay/internal/ai"
)

type Config struct {
	HTTPAddr    string
	DBDSN       string
	CORSOrigins []string

	// admin
	JWTSecret         string
	JWTTTL            time.Duration
	AdminUser         string
	AdminPasswordHash string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	UseRedis      bool

	// session cache
	CacheSize            int
	CacheTTL             time.Duration
	SweepInterval        time.Duration
	CompressionAlgorithm string
	SessionSecret        string

	// AI providers
	ProviderTimeout   time.Duration
	ProvidersFile     string
	SystemPromptFile  string
	TiktokenEncoding  string
	OpenRouterSiteURL string
	OpenRouterAppName string
	Providers         []ai.ProviderConfig

	// rabbitMQ, empty URL writes logs straight to the db
	RabbitURL   string
	RabbitQueue string

	MetricsNamespace string
}

func Load() Config {
	// DSN demo：
	// app:apppass@tcp(127.0.0.1:3306)/ai_relay?charset=utf8mb4&parseTime=true&loc=Local
	// or sqlite:relay.db for a single-node setup
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "ai_relay",
		)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}

	compression := strings.ToLower(strings.TrimSpace(os.Getenv("COMPRESSION_ALGORITHM")))
	if compression == "" {
		compression = "zstd"
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "relay_logs"
	}

	return Config{
		HTTPAddr:    envString("HTTP_ADDR", ":8080"),
		DBDSN:       dsn,
		CORSOrigins: envList("CORS_ALLOWED_DOMAINS", "*"),

		JWTSecret:         secret,
		JWTTTL:            envSeconds("JWT_TTL", 12*time.Hour),
		AdminUser:         envString("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		UseRedis:      envBool("USE_REDIS", false),

		CacheSize:            envInt("CONTEXT_CACHE_SIZE", 1000),
		CacheTTL:             envSeconds("CONTEXT_CACHE_TTL", time.Hour),
		SweepInterval:        envSeconds("CONTEXT_SWEEP_INTERVAL", time.Minute),
		CompressionAlgorithm: compression,
		SessionSecret:        os.Getenv("SESSION_SECRET"),

		ProviderTimeout:   envSeconds("PROVIDER_TIMEOUT", 30*time.Second),
		ProvidersFile:     os.Getenv("PROVIDERS_FILE"),
		SystemPromptFile:  os.Getenv("SYSTEM_PROMPT_FILE"),
		TiktokenEncoding:  envString("TIKTOKEN_ENCODING", "cl100k_base"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),
		Providers:         providersFromEnv(),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		MetricsNamespace: envString("METRICS_NAMESPACE", "ai_relay"),
	}
}

// providersFromEnv builds one config per known backend. Hosted providers
// are enabled only when a key is present; ollama needs none.
func providersFromEnv() []ai.ProviderConfig {
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		geminiKey = os.Getenv("GOOGLE_API_KEY")
	}
	openAIKey := os.Getenv("OPENAI_API_KEY")
	openRouterKey := os.Getenv("OPENROUTER_API_KEY")

	return []ai.ProviderConfig{
		providerFromEnv(ai.KindGemini, "GEMINI", "gemini-2.0-flash", 32000, 0, geminiKey),
		providerFromEnv(ai.KindOpenAI, "OPENAI", "gpt-4o-mini", 16000, 1, openAIKey),
		providerFromEnv(ai.KindOllama, "OLLAMA", "llama3:latest", 8000, 2, ""),
		providerFromEnv(ai.KindOpenRouter, "OPENROUTER", "openrouter/auto", 16000, 3, openRouterKey),
		digitalOceanFromEnv(),
	}
}

// digitalOceanFromEnv needs both the agent token and its endpoint; the
// agent URL stands in for the base URL.
func digitalOceanFromEnv() ai.ProviderConfig {
	agentURL := strings.TrimSpace(os.Getenv("DIGITALOCEAN_AGENT_URL"))
	token := os.Getenv("DIGITALOCEAN_API_TOKEN")
	if agentURL == "" {
		token = ""
	}
	cfg := providerFromEnv(ai.KindDigitalOcean, "DIGITALOCEAN", "gradient-agent", 8000, 4, token)
	cfg.BaseURL = agentURL
	return cfg
}

func providerFromEnv(kind ai.Kind, prefix, model string, limit, priority int, apiKey string) ai.ProviderConfig {
	enabled := apiKey != "" || kind == ai.KindOllama
	return ai.ProviderConfig{
		Name:            kind,
		Model:           envString(prefix+"_MODEL", model),
		TokenLimit:      envInt(prefix+"_TOKEN_LIMIT", limit),
		Priority:        envInt(prefix+"_PRIORITY", priority),
		Enabled:         envBool(prefix+"_ENABLED", enabled) && enabled,
		MaxOutputTokens: envInt(prefix+"_MAX_OUTPUT_TOKENS", ai.DefaultMaxOutputTokens),
		Temperature:     envFloat(prefix+"_TEMPERATURE", ai.DefaultTemperature),
		BaseURL:         os.Getenv(prefix + "_BASE_URL"),
		APIKey:          apiKey,
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envList(key, def string) []string {
	var out []string
	for _, s := range strings.Split(envString(key, def), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envSeconds reads a whole number of seconds; Go duration strings work too.
func envSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}
