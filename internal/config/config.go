// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, database paths, external collaborator endpoints (messaging
// provider, language model, credit metering, knowledge retrieval), delivery
// pacing, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig holds the messaging-provider HTTP API settings.
type ProviderConfig struct {
	BaseURL string        // PROVIDER_BASE_URL (e.g. "http://evolution:8080")
	APIKey  string        // PROVIDER_API_KEY
	Timeout time.Duration // PROVIDER_TIMEOUT per-call timeout (10–30s range)
}

// LLMConfig holds the language-model service settings.
type LLMConfig struct {
	BaseURL string        // LLM_BASE_URL (chat-completions style endpoint)
	APIKey  string        // LLM_API_KEY
	Timeout time.Duration // LLM_TIMEOUT, separate from delivery timeouts
}

// CreditsConfig holds the credit-metering collaborator settings.
type CreditsConfig struct {
	BaseURL string        // CREDITS_BASE_URL; empty disables metering
	APIKey  string        // CREDITS_API_KEY
	Timeout time.Duration // CREDITS_TIMEOUT
}

// KnowledgeConfig holds the knowledge-retrieval collaborator settings. When
// BaseURL is empty the local file-backed index is used instead.
type KnowledgeConfig struct {
	BaseURL  string        // KNOWLEDGE_BASE_URL
	Timeout  time.Duration // KNOWLEDGE_TIMEOUT
	DataPath string        // KNOWLEDGE_DATA_PATH, markdown corpus for the local index
	TopK     int           // KNOWLEDGE_TOP_K passages appended to the prompt
}

// DeliveryConfig tunes the human-presence-simulating outbound engine.
type DeliveryConfig struct {
	TypingBase    time.Duration // base typing delay per segment
	TypingPerChar time.Duration // additional delay per character
	TypingMax     time.Duration // cap on the per-character component
	TypingJitter  time.Duration // upper bound of the random component
	SegmentPause  time.Duration // pause between segments (not after the last)
	SendAttempts  int           // attempts per segment
	SendTimeout   time.Duration // per-attempt timeout
}

// EventsConfig controls the optional AMQP event fan-out.
type EventsConfig struct {
	AMQPURL string // EVENTS_AMQP_URL; empty disables publishing
	Queue   string // EVENTS_QUEUE
}

// CORSConfig defines Cross-Origin Resource Sharing settings for the
// management API.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// App
	DBPath      string
	APIBasePath string
	PublicURL   string // externally reachable base URL used for webhook registration

	// Pipeline defaults (used when AgentConfig leaves them unset)
	DefaultMaxPerMinute int
	HistoryLimit        int // turns kept per (agent, counterpart)

	// Edge rate limiting for the management API
	RateRPS   float64
	RateBurst int

	// Collaborators
	Provider  ProviderConfig
	LLM       LLMConfig
	Credits   CreditsConfig
	Knowledge KnowledgeConfig
	Delivery  DeliveryConfig
	Events    EventsConfig

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		DBPath:      getenv("DB_PATH", "zapagent.db"),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		PublicURL:   strings.TrimRight(getenv("PUBLIC_URL", ""), "/"),

		DefaultMaxPerMinute: getint("DEFAULT_MAX_PER_MINUTE", 5),
		HistoryLimit:        getint("HISTORY_LIMIT", 20),

		RateRPS:   getfloat("RATE_RPS", 10.0),
		RateBurst: getint("RATE_BURST", 20),

		Provider: ProviderConfig{
			BaseURL: strings.TrimRight(getenv("PROVIDER_BASE_URL", ""), "/"),
			APIKey:  getenv("PROVIDER_API_KEY", ""),
			Timeout: getdur("PROVIDER_TIMEOUT", 15*time.Second),
		},
		LLM: LLMConfig{
			BaseURL: strings.TrimRight(getenv("LLM_BASE_URL", ""), "/"),
			APIKey:  getenv("LLM_API_KEY", ""),
			Timeout: getdur("LLM_TIMEOUT", 60*time.Second),
		},
		Credits: CreditsConfig{
			BaseURL: strings.TrimRight(getenv("CREDITS_BASE_URL", ""), "/"),
			APIKey:  getenv("CREDITS_API_KEY", ""),
			Timeout: getdur("CREDITS_TIMEOUT", 10*time.Second),
		},
		Knowledge: KnowledgeConfig{
			BaseURL:  strings.TrimRight(getenv("KNOWLEDGE_BASE_URL", ""), "/"),
			Timeout:  getdur("KNOWLEDGE_TIMEOUT", 10*time.Second),
			DataPath: getenv("KNOWLEDGE_DATA_PATH", ""),
			TopK:     getint("KNOWLEDGE_TOP_K", 3),
		},
		Delivery: DeliveryConfig{
			TypingBase:    getdur("TYPING_BASE", 300*time.Millisecond),
			TypingPerChar: getdur("TYPING_PER_CHAR", 15*time.Millisecond),
			TypingMax:     getdur("TYPING_MAX", 1500*time.Millisecond),
			TypingJitter:  getdur("TYPING_JITTER", 500*time.Millisecond),
			SegmentPause:  getdur("SEGMENT_PAUSE", 500*time.Millisecond),
			SendAttempts:  getint("SEND_ATTEMPTS", 3),
			SendTimeout:   getdur("SEND_TIMEOUT", 30*time.Second),
		},
		Events: EventsConfig{
			AMQPURL: getenv("EVENTS_AMQP_URL", ""),
			Queue:   getenv("EVENTS_QUEUE", "zapagent_events"),
		},

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "zapagent"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.DefaultMaxPerMinute < 1 {
		return cfg, errors.New("DEFAULT_MAX_PER_MINUTE must be >= 1")
	}
	if cfg.HistoryLimit < 1 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Knowledge.TopK < 1 {
		return cfg, errors.New("KNOWLEDGE_TOP_K must be >= 1")
	}
	if cfg.Delivery.SendAttempts < 1 {
		return cfg, errors.New("SEND_ATTEMPTS must be >= 1")
	}
	if cfg.Delivery.SendTimeout < 10*time.Second || cfg.Delivery.SendTimeout > 30*time.Second {
		return cfg, errors.New("SEND_TIMEOUT must be between 10s and 30s")
	}
	if cfg.Provider.Timeout <= 0 || cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("collaborator timeouts must be positive durations")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
