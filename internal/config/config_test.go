package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "DB_DRIVER", "DB_PATH", "DATABASE_DSN", "PROVIDER_URL", "REDIS_ADDR", "AMQP_URL"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

func containsErr(err error, want string) bool {
	return err != nil && strings.Contains(err.Error(), want)
}

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/" || cfg.Store.Driver != "sqlite" || cfg.Store.Path != "agent.db" {
		t.Fatalf("store/base path defaults unexpected: %+v", cfg)
	}
	if cfg.Webhook.RatePerMinute != 60 || cfg.Webhook.VerifyToken != "" || cfg.Webhook.SigningSecret != "" {
		t.Fatalf("webhook defaults unexpected: %+v", cfg.Webhook)
	}
	if cfg.Idempotency.TTL != 24*time.Hour || cfg.Idempotency.HeuristicWindow != 5*time.Minute {
		t.Fatalf("idempotency defaults unexpected: %+v", cfg.Idempotency)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.ReminderConcurrency != 4 || cfg.Queue.AMQPURL != "" {
		t.Fatalf("queue defaults unexpected: %+v", cfg.Queue)
	}
	if cfg.Provider.URL != "" || cfg.Provider.Channel != "whatsapp" {
		t.Fatalf("provider defaults unexpected: %+v", cfg.Provider)
	}
	if cfg.OTEL.ServiceName != "go-reminder-agent" || cfg.OTEL.Enabled {
		t.Fatalf("otel defaults unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	env := map[string]string{
		"PORT":                        "8088",
		"READ_TIMEOUT":                "2s",
		"SHUTDOWN_TIMEOUT":            "5s",
		"GIN_MODE":                    "weird",
		"LOG_LEVEL":                   "warning",
		"LOG_PRETTY":                  "yes",
		"SWAGGER_ENABLED":             "on",
		"API_BASE_PATH":               "api/v1/",
		"DB_DRIVER":                   "POSTGRES",
		"DATABASE_DSN":                "postgres://u:p@db/agent",
		"WEBHOOK_RATE_PER_MINUTE":     "120",
		"WEBHOOK_VERIFY_TOKEN":        "hub-secret",
		"WEBHOOK_SIGNING_SECRET":      "hmac-key",
		"IDEMPOTENCY_TTL":             "48h",
		"IDEMPOTENCY_CACHE_SIZE":      "0",
		"REDIS_ADDR":                  "redis:6379",
		"QUOTA_DEFAULT_DAILY":         "0",
		"QUOTA_DEFAULT_BURST":         "5",
		"QUEUE_MAX_ATTEMPTS":          "5",
		"QUEUE_BACKOFF_MULTIPLIER":    "nope",
		"AMQP_URL":                    "amqp://guest:guest@mq:5672/",
		"SCHEDULER_REMINDER_INTERVAL": "0s",
		"PROVIDER_URL":                "https://graph.example.com/v19/",
		"PROVIDER_CHANNEL":            "SMS",
		"CORS_ALLOWED_ORIGINS":        " https://a.com , , http://b ",
		"ENABLE_HSTS":                 "TRUE",
		"OTEL_TRACES_SAMPLER_ARG":     "0.75",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second || cfg.ShutdownTimeout != 5*time.Second || cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://u:p@db/agent" {
		t.Fatalf("store unexpected: %+v", cfg.Store)
	}
	if cfg.Webhook != (WebhookConfig{RatePerMinute: 120, VerifyToken: "hub-secret", SigningSecret: "hmac-key"}) {
		t.Fatalf("webhook unexpected: %+v", cfg.Webhook)
	}
	if cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CacheSize != 0 || cfg.Idempotency.RedisAddr != "redis:6379" {
		t.Fatalf("idempotency unexpected: %+v", cfg.Idempotency)
	}
	if cfg.Quota != (QuotaDefaults{Daily: 0, Hourly: 200, Burst: 5}) {
		t.Fatalf("quota unexpected: %+v", cfg.Quota)
	}
	// unparsable values fall back to defaults
	if cfg.Queue.MaxAttempts != 5 || cfg.Queue.BackoffMultiplier != 2.0 || cfg.Queue.AMQPURL == "" {
		t.Fatalf("queue unexpected: %+v", cfg.Queue)
	}
	if cfg.Scheduler.ReminderInterval != 0 {
		t.Fatalf("scheduler should be disabled, got %v", cfg.Scheduler.ReminderInterval)
	}
	if cfg.Provider.URL != "https://graph.example.com/v19" || cfg.Provider.Channel != "sms" {
		t.Fatalf("provider unexpected: %+v", cfg.Provider)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("security/otel unexpected: %+v %+v", cfg.Security, cfg.OTEL)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"blank port", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"zero timeout", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}, "timeouts must be positive"},
		{"header bytes", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"sqlite path", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres dsn", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_DSN"},
		{"driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"webhook rate", map[string]string{"WEBHOOK_RATE_PER_MINUTE": "0"}, "WEBHOOK_RATE_PER_MINUTE"},
		{"idempotency ttl", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"cache size", map[string]string{"IDEMPOTENCY_CACHE_SIZE": "-1"}, "IDEMPOTENCY_CACHE_SIZE"},
		{"sweep interval", map[string]string{"IDEMPOTENCY_SWEEP_INTERVAL": "0s"}, "IDEMPOTENCY_SWEEP_INTERVAL"},
		{"quota", map[string]string{"QUOTA_DEFAULT_HOURLY": "-3"}, "QUOTA_DEFAULT_"},
		{"concurrency", map[string]string{"QUEUE_REMINDER_CONCURRENCY": "0"}, "concurrency"},
		{"attempts", map[string]string{"QUEUE_MAX_ATTEMPTS": "0"}, "QUEUE_MAX_ATTEMPTS"},
		{"poll interval", map[string]string{"QUEUE_POLL_INTERVAL": "0s"}, "QUEUE_POLL_INTERVAL"},
		{"backoff bounds", map[string]string{"QUEUE_BACKOFF_INITIAL": "1m", "QUEUE_BACKOFF_MAX": "10s"}, "QUEUE_BACKOFF_MAX"},
		{"backoff multiplier", map[string]string{"QUEUE_BACKOFF_MULTIPLIER": "0.5"}, "QUEUE_BACKOFF_MULTIPLIER"},
		{"jitter", map[string]string{"QUEUE_BACKOFF_JITTER": "2"}, "QUEUE_BACKOFF_JITTER"},
		{"scheduler", map[string]string{"SCHEDULER_REMINDER_INTERVAL": "-1m"}, "SCHEDULER_REMINDER_INTERVAL"},
		{"provider timeout", map[string]string{"PROVIDER_TIMEOUT": "0s"}, "PROVIDER_TIMEOUT"},
		{"provider url", map[string]string{"PROVIDER_URL": "ftp://x"}, "PROVIDER_URL"},
		{"hsts", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"otel ratio", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestHelpers_Parsing(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	t.Setenv("X_SET", "val")
	t.Setenv("F_OK", "3.14")
	t.Setenv("I_BAD", "x")
	t.Setenv("D_OK", "150ms")
	t.Setenv("D_BAD", "zzz")

	if getenv("X_EMPTY", "d") != "d" || getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv")
	}
	if getfloat("F_OK", 0) != 3.14 || getint("I_BAD", 7) != 7 {
		t.Fatalf("getfloat/getint")
	}
	if getdur("D_OK", time.Second) != 150*time.Millisecond || getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for _, v := range []string{"1", "TRUE", " yes ", "Y", "On"} {
		t.Setenv("B", v)
		if !getbool("B", false) {
			t.Fatalf("getbool(%q) = false", v)
		}
	}
	for _, v := range []string{"0", "False", " no ", "n", "OFF"} {
		t.Setenv("B", v)
		if getbool("B", true) {
			t.Fatalf("getbool(%q) = true", v)
		}
	}
	t.Setenv("B", "maybe")
	if !getbool("B", true) {
		t.Fatalf("unrecognized value should keep the default")
	}
}

func TestHelpers_splitCSV_normalizeBasePath(t *testing.T) {
	if splitCSV("") != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV got %#v", got)
	}
	for in, want := range map[string]string{"": "/", " / ": "/", "v1": "/v1", "/v1/": "/v1"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
