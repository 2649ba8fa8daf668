// Package config loads the agent's settings from environment variables,
// applies defaults and validates the result. A .env file, when present, is
// loaded by main before Load runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects the database backing the message log, jobs and
// policies.
type StoreConfig struct {
	Driver  string // DB_DRIVER: sqlite|postgres
	Path    string // DB_PATH (sqlite)
	DSN     string // DATABASE_DSN (postgres)
	Verbose bool   // DB_VERBOSE: log every statement
}

// WebhookConfig guards the provider callback endpoints.
type WebhookConfig struct {
	RatePerMinute int    // per source IP
	VerifyToken   string // subscription handshake secret; empty rejects every handshake
	SigningSecret string // HMAC key for X-Signature-256; empty disables the check
}

// IdempotencyConfig tunes duplicate detection.
type IdempotencyConfig struct {
	TTL             time.Duration
	HeuristicWindow time.Duration // identical inbound text within this window is a duplicate
	CacheSize       int           // in-process entries; 0 disables the cache
	SweepInterval   time.Duration
	RedisAddr       string // optional shared cache tier
	RedisPassword   string
	RedisDB         int
}

// QuotaDefaults seeds the fallback quota configuration at startup.
// A limit of 0 means unlimited.
type QuotaDefaults struct {
	Daily  int
	Hourly int
	Burst  int
}

// QueueConfig tunes the worker pools.
type QueueConfig struct {
	ReminderConcurrency     int
	ReengagementConcurrency int
	MaxAttempts             int
	JobTimeout              time.Duration
	PollInterval            time.Duration
	StaleAfter              time.Duration
	BackoffInitial          time.Duration
	BackoffMax              time.Duration
	BackoffMultiplier       float64
	BackoffJitter           float64
	AMQPURL                 string // optional cross-process wake-up
	AMQPExchange            string
}

// SchedulerConfig drives the periodic reminder batch.
type SchedulerConfig struct {
	ReminderInterval time.Duration // 0 disables the scheduler
}

// ProviderConfig points at the messaging provider. An empty URL uses the
// dry-run provider, which records sends without delivering them.
type ProviderConfig struct {
	Name    string
	URL     string
	Token   string
	Timeout time.Duration
	Channel string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int    // bytes
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DefaultLocale string // BCP 47 tag for new tenant policies

	Store       StoreConfig
	Webhook     WebhookConfig
	Idempotency IdempotencyConfig
	Quota       QuotaDefaults
	Queue       QueueConfig
	Scheduler   SchedulerConfig
	Provider    ProviderConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

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

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/")),

		DefaultLocale: getenv("DEFAULT_LOCALE", ""),

		Store: StoreConfig{
			Driver:  strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:    getenv("DB_PATH", "agent.db"),
			DSN:     getenv("DATABASE_DSN", ""),
			Verbose: getbool("DB_VERBOSE", false),
		},

		Webhook: WebhookConfig{
			RatePerMinute: getint("WEBHOOK_RATE_PER_MINUTE", 60),
			VerifyToken:   getenv("WEBHOOK_VERIFY_TOKEN", ""),
			SigningSecret: getenv("WEBHOOK_SIGNING_SECRET", ""),
		},

		Idempotency: IdempotencyConfig{
			TTL:             getdur("IDEMPOTENCY_TTL", 24*time.Hour),
			HeuristicWindow: getdur("IDEMPOTENCY_HEURISTIC_WINDOW", 5*time.Minute),
			CacheSize:       getint("IDEMPOTENCY_CACHE_SIZE", 10000),
			SweepInterval:   getdur("IDEMPOTENCY_SWEEP_INTERVAL", 10*time.Minute),
			RedisAddr:       getenv("REDIS_ADDR", ""),
			RedisPassword:   getenv("REDIS_PASSWORD", ""),
			RedisDB:         getint("REDIS_DB", 0),
		},

		Quota: QuotaDefaults{
			Daily:  getint("QUOTA_DEFAULT_DAILY", 1000),
			Hourly: getint("QUOTA_DEFAULT_HOURLY", 200),
			Burst:  getint("QUOTA_DEFAULT_BURST", 50),
		},

		Queue: QueueConfig{
			ReminderConcurrency:     getint("QUEUE_REMINDER_CONCURRENCY", 4),
			ReengagementConcurrency: getint("QUEUE_REENGAGEMENT_CONCURRENCY", 2),
			MaxAttempts:             getint("QUEUE_MAX_ATTEMPTS", 3),
			JobTimeout:              getdur("QUEUE_JOB_TIMEOUT", 30*time.Second),
			PollInterval:            getdur("QUEUE_POLL_INTERVAL", 2*time.Second),
			StaleAfter:              getdur("QUEUE_STALE_AFTER", 10*time.Minute),
			BackoffInitial:          getdur("QUEUE_BACKOFF_INITIAL", 5*time.Second),
			BackoffMax:              getdur("QUEUE_BACKOFF_MAX", 10*time.Minute),
			BackoffMultiplier:       getfloat("QUEUE_BACKOFF_MULTIPLIER", 2.0),
			BackoffJitter:           getfloat("QUEUE_BACKOFF_JITTER", 0.2),
			AMQPURL:                 getenv("AMQP_URL", ""),
			AMQPExchange:            getenv("AMQP_EXCHANGE", "agent.jobs"),
		},

		Scheduler: SchedulerConfig{
			ReminderInterval: getdur("SCHEDULER_REMINDER_INTERVAL", 15*time.Minute),
		},

		Provider: ProviderConfig{
			Name:    getenv("PROVIDER_NAME", "whatsapp"),
			URL:     strings.TrimRight(getenv("PROVIDER_URL", ""), "/"),
			Token:   getenv("PROVIDER_TOKEN", ""),
			Timeout: getdur("PROVIDER_TIMEOUT", 10*time.Second),
			Channel: strings.ToLower(getenv("PROVIDER_CHANNEL", "whatsapp")),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-reminder-agent"),
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

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return errors.New("DATABASE_DSN is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.Store.Driver)
	}

	if cfg.Webhook.RatePerMinute < 1 {
		return errors.New("WEBHOOK_RATE_PER_MINUTE must be >= 1")
	}

	if cfg.Idempotency.TTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Idempotency.HeuristicWindow < 0 {
		return errors.New("IDEMPOTENCY_HEURISTIC_WINDOW must be >= 0")
	}
	if cfg.Idempotency.CacheSize < 0 {
		return errors.New("IDEMPOTENCY_CACHE_SIZE must be >= 0")
	}
	if cfg.Idempotency.SweepInterval <= 0 {
		return errors.New("IDEMPOTENCY_SWEEP_INTERVAL must be > 0")
	}

	if cfg.Quota.Daily < 0 || cfg.Quota.Hourly < 0 || cfg.Quota.Burst < 0 {
		return errors.New("QUOTA_DEFAULT_* limits must be >= 0")
	}

	q := cfg.Queue
	if q.ReminderConcurrency < 1 || q.ReengagementConcurrency < 1 {
		return errors.New("queue concurrency must be >= 1")
	}
	if q.MaxAttempts < 1 {
		return errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if q.PollInterval <= 0 {
		return errors.New("QUEUE_POLL_INTERVAL must be > 0")
	}
	if q.JobTimeout < 0 || q.StaleAfter < 0 {
		return errors.New("QUEUE_JOB_TIMEOUT and QUEUE_STALE_AFTER must be >= 0")
	}
	if q.BackoffInitial <= 0 || q.BackoffMax < q.BackoffInitial {
		return errors.New("QUEUE_BACKOFF_MAX must be >= QUEUE_BACKOFF_INITIAL > 0")
	}
	if q.BackoffMultiplier < 1 {
		return errors.New("QUEUE_BACKOFF_MULTIPLIER must be >= 1")
	}
	if q.BackoffJitter < 0 || q.BackoffJitter > 1 {
		return errors.New("QUEUE_BACKOFF_JITTER must be in [0,1]")
	}

	if cfg.Scheduler.ReminderInterval < 0 {
		return errors.New("SCHEDULER_REMINDER_INTERVAL must be >= 0")
	}
	if cfg.Provider.Timeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.Provider.URL != "" && !strings.HasPrefix(cfg.Provider.URL, "http://") && !strings.HasPrefix(cfg.Provider.URL, "https://") {
		return errors.New("PROVIDER_URL must be an http(s) URL")
	}

	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
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
