// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes worker settings such
// as claim staleness, outbox retry policy, reply-generation limits, provider
// delivery options, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-worker")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ProviderConfig defines delivery settings for the messaging provider.
type ProviderConfig struct {
	Token       string        // PROVIDER_TOKEN: bot API token
	BaseURL     string        // PROVIDER_BASE_URL: API root, token appended
	SendTimeout time.Duration // per-attempt delivery timeout
	SendRPS     float64       // provider-wide send rate (tokens/sec)
	SendBurst   int           // rate limiter bucket size
}

// OutboxConfig defines the retry policy for outbound delivery.
type OutboxConfig struct {
	MaxAttempts int           // retry budget before a task goes failed
	BaseDelay   time.Duration // first backoff step
	MaxDelay    time.Duration // backoff cap
	Interval    time.Duration // delivery sweep period
	BatchSize   int           // tasks claimed per sweep
}

// ReplyConfig defines limits on the reply-generation collaborator.
type ReplyConfig struct {
	Command     string        // REPLY_CLI_COMMAND: generator CLI binary
	Flags       string        // REPLY_CLI_FLAGS: flags placed before the prompt
	Concurrency int64         // global cap on in-flight generation calls
	Timeout     time.Duration // per-call deadline
}

// Config holds all configuration values for the worker.
type Config struct {
	// Server (webhook listener)
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	GinMode           string // debug|release|test
	WebhookSecret     string // provider secret-token header value
	WebhookPath       string // URL path for inbound updates

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// App
	DBPath   string // SQLite path
	WorkerID string // claim owner identity; defaults to hostname+pid

	// Idempotency guard
	ClaimStaleAfter time.Duration // age before a processing claim is reclaimable

	// Conversation state
	ContextWindow int // max retained message fragments per user

	Provider ProviderConfig
	Outbox   OutboxConfig
	Reply    ReplyConfig
	OTEL     OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		WebhookSecret:     getenv("WEBHOOK_SECRET", ""),
		WebhookPath:       getenv("WEBHOOK_PATH", "/webhook"),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// App
		DBPath:   getenv("DB_PATH", "worker.db"),
		WorkerID: getenv("WORKER_ID", ""),

		// Guard / FSM
		ClaimStaleAfter: getdur("CLAIM_STALE_AFTER", 2*time.Minute),
		ContextWindow:   getint("CONTEXT_WINDOW", 10),

		Provider: ProviderConfig{
			Token:       getenv("PROVIDER_TOKEN", ""),
			BaseURL:     getenv("PROVIDER_BASE_URL", "https://api.telegram.org"),
			SendTimeout: getdur("SEND_TIMEOUT", 10*time.Second),
			SendRPS:     getfloat("SEND_RPS", 25.0),
			SendBurst:   getint("SEND_BURST", 5),
		},
		Outbox: OutboxConfig{
			MaxAttempts: getint("OUTBOX_MAX_ATTEMPTS", 5),
			BaseDelay:   getdur("OUTBOX_BASE_DELAY", time.Second),
			MaxDelay:    getdur("OUTBOX_MAX_DELAY", time.Minute),
			Interval:    getdur("OUTBOX_INTERVAL", 15*time.Second),
			BatchSize:   getint("OUTBOX_BATCH", 10),
		},
		Reply: ReplyConfig{
			Command:     getenv("REPLY_CLI_COMMAND", "gemini"),
			Flags:       getenv("REPLY_CLI_FLAGS", "-p"),
			Concurrency: int64(getint("REPLY_CONCURRENCY", 2)),
			Timeout:     getdur("REPLY_TIMEOUT", 60*time.Second),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-chat-worker"),
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
	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		cfg.WebhookPath = "/" + cfg.WebhookPath
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.ClaimStaleAfter <= 0 {
		return cfg, errors.New("CLAIM_STALE_AFTER must be > 0")
	}
	if cfg.ContextWindow < 2 {
		return cfg, errors.New("CONTEXT_WINDOW must be >= 2")
	}
	if cfg.Provider.SendTimeout <= 0 {
		return cfg, errors.New("SEND_TIMEOUT must be > 0")
	}
	if cfg.Provider.SendRPS <= 0 {
		return cfg, errors.New("SEND_RPS must be > 0")
	}
	if cfg.Provider.SendBurst < 1 {
		return cfg, errors.New("SEND_BURST must be >= 1")
	}
	if cfg.Outbox.MaxAttempts < 1 {
		return cfg, errors.New("OUTBOX_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Outbox.BaseDelay <= 0 || cfg.Outbox.MaxDelay < cfg.Outbox.BaseDelay {
		return cfg, errors.New("OUTBOX_BASE_DELAY must be > 0 and <= OUTBOX_MAX_DELAY")
	}
	if cfg.Outbox.Interval <= 0 {
		return cfg, errors.New("OUTBOX_INTERVAL must be > 0")
	}
	if cfg.Outbox.BatchSize < 1 {
		return cfg, errors.New("OUTBOX_BATCH must be >= 1")
	}
	if cfg.Reply.Concurrency < 1 {
		return cfg, errors.New("REPLY_CONCURRENCY must be >= 1")
	}
	if cfg.Reply.Timeout <= 0 {
		return cfg, errors.New("REPLY_TIMEOUT must be > 0")
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
