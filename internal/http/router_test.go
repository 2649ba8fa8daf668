package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-reminder-agent/internal/config"
	"github.com/tbourn/go-reminder-agent/internal/dlq"
	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/http/middleware"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/queue"
	"github.com/tbourn/go-reminder-agent/internal/quota"
	"github.com/tbourn/go-reminder-agent/internal/repo"
	"github.com/tbourn/go-reminder-agent/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/",
		Webhook:     config.WebhookConfig{RatePerMinute: 100, VerifyToken: "hub-token"},
		OTEL:        config.OTELConfig{ServiceName: "router-test"},
	}
}

// newServer wires real services over an in-memory store with a dry-run
// provider, seeded with tenant t1, client c1 and appointment a1.
func newServer(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	nop := zerolog.Nop()

	seed := []any{
		&domain.QuotaConfig{TenantID: domain.DefaultQuotaTenant, DailyLimit: 100, HourlyLimit: 50, BurstLimit: 20},
		&domain.Client{ID: "c1", TenantID: "t1", FirstName: "Alice", Phone: "+33600000001", Locale: "fr"},
		&domain.Appointment{ID: "a1", TenantID: "t1", ClientID: "c1", StartsAt: now.Add(20 * time.Hour), Service: "Coupe", Status: domain.AppointmentScheduled},
		&domain.MessageTemplate{ID: uuid.NewString(), TenantID: "t1", Name: domain.TemplateReminder, Body: "Bonjour {{first_name}}, rappel : {{service}}."},
	}
	for _, v := range seed {
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("seed %T: %v", v, err)
		}
	}

	policies := &services.PolicyService{DB: db, Log: nop}
	idem := idempotency.NewManager(idempotency.GormStore{DB: db}, idempotency.NewMemoryCache(100),
		idempotency.Options{Now: clock, Logger: nop})
	quotas := quota.NewManager(quota.GormStore{DB: db}, clock, nop)
	pool := queue.NewPool(queue.NewStore(db, clock), nil, queue.PoolOptions{Logger: nop})
	sender := &services.Sender{
		DB: db, Idempotency: idem, Quota: quotas, Policies: policies,
		Composer: services.TemplateComposer{}, Provider: services.DryRunProvider{Log: nop},
		Now: clock, Log: nop,
	}
	sender.Register(pool, queue.QueueConfig{MaxAttempts: 3}, queue.QueueConfig{MaxAttempts: 3})
	dead := dlq.NewManager(db, pool, nil, dlq.Options{Now: clock, Logger: nop})
	dead.Attach()

	r := gin.New()
	RegisterRoutes(r, Deps{
		Webhooks:    &services.Webhooks{DB: db, Idempotency: idem, Policies: policies, Now: clock, Log: nop},
		Batches:     &services.Batches{DB: db, Queue: pool, Policies: policies, Now: clock, Log: nop},
		Sender:      sender,
		DeadLetters: dead,
		Quotas:      quotas,
	}, cfg)
	return r, db
}

func serve(r http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_Ambient(t *testing.T) {
	r, _ := newServer(t, testConfig())

	w := serve(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("/health -> %d %s", w.Code, w.Body.String())
	}
	h := w.Header()
	if h.Get("X-Request-ID") == "" || h.Get("Access-Control-Allow-Origin") != "*" || h.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("ambient headers missing: %v", h)
	}

	if w := serve(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "agent_http_requests_total") {
		t.Fatalf("/metrics -> %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "route not found") {
		t.Fatalf("NoRoute -> %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPut, "/health", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("NoMethod -> %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/swagger/index.html", ""); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be off by default, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerAndBasePath(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	cfg.APIBasePath = "/api/v1"
	r, _ := newServer(t, cfg)

	if w := serve(r, http.MethodGet, "/swagger/doc.json", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/send-now") {
		t.Fatalf("swagger doc -> %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/quotas/status?tenantId=t1", ""); w.Code != http.StatusOK {
		t.Fatalf("prefixed route -> %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodGet, "/quotas/status?tenantId=t1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unprefixed route should not exist, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"https://admin.example.com"}}
	r, _ := newServer(t, cfg)

	w := serve(r, http.MethodGet, "/health", "", "Origin", "https://admin.example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("allowed origin not echoed: %q", got)
	}
	w = serve(r, http.MethodGet, "/health", "", "Origin", "https://evil.example.com")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin echoed: %q", got)
	}
}

func TestWebhookInbound_StopThenDuplicate(t *testing.T) {
	r, db := newServer(t, testConfig())
	body := `{"tenantId":"t1","fromAddress":"+33600000001","text":"STOP","messageId":"wamid.1"}`

	w := serve(r, http.MethodPost, "/webhooks/whatsapp/inbound", body)
	if w.Code != http.StatusOK {
		t.Fatalf("inbound -> %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["intent"] != "stop" || resp["received"] != true {
		t.Fatalf("unexpected body: %v", resp)
	}

	var p domain.AgentPolicy
	if err := db.First(&p, "tenant_id = ?", "t1").Error; err != nil || p.Enabled {
		t.Fatalf("policy should be disabled: %+v (%v)", p, err)
	}

	w = serve(r, http.MethodPost, "/webhooks/whatsapp/inbound", body)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), `"duplicate":true`) {
		t.Fatalf("redelivery -> %d %s", w.Code, w.Body.String())
	}

	if w := serve(r, http.MethodPost, "/webhooks/whatsapp/inbound", `{"tenantId":"t1","clientId":"ghost","text":"hi"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown client -> %d", w.Code)
	}
}

func TestWebhook_RateLimitedPerSource(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.RatePerMinute = 2
	r, _ := newServer(t, cfg)

	for i := 0; i < 2; i++ {
		body := fmt.Sprintf(`{"tenantId":"t1","clientId":"c1","text":"question %d ?"}`, i)
		if w := serve(r, http.MethodPost, "/webhooks/sms/inbound", body); w.Code != http.StatusOK {
			t.Fatalf("request %d -> %d %s", i, w.Code, w.Body.String())
		}
	}
	w := serve(r, http.MethodPost, "/webhooks/sms/inbound", `{"tenantId":"t1","clientId":"c1","text":"again"}`)
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("third request -> %d (Retry-After %q)", w.Code, w.Header().Get("Retry-After"))
	}
	// the handshake is not rate limited
	if w := serve(r, http.MethodGet, "/webhooks/sms/verify?hub.verify_token=hub-token&hub.challenge=ok", ""); w.Code != http.StatusOK {
		t.Fatalf("verify -> %d", w.Code)
	}
}

func TestWebhook_SignatureRequiredWhenSecretSet(t *testing.T) {
	cfg := testConfig()
	cfg.Webhook.SigningSecret = "s3cret"
	r, _ := newServer(t, cfg)
	body := `{"tenantId":"t1","clientId":"c1","text":"Comment ça marche ?"}`

	if w := serve(r, http.MethodPost, "/webhooks/whatsapp/inbound", body); w.Code != http.StatusForbidden {
		t.Fatalf("unsigned -> %d", w.Code)
	}
	w := serve(r, http.MethodPost, "/webhooks/whatsapp/inbound", body, middleware.HeaderSignature, middleware.Sign("s3cret", []byte(body)))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"question"`) {
		t.Fatalf("signed -> %d %s", w.Code, w.Body.String())
	}
}

func TestSendNow_ThenQuotaUsage(t *testing.T) {
	r, _ := newServer(t, testConfig())
	body := `{"tenantId":"t1","clientId":"c1","appointmentId":"a1","template":"appointment_reminder"}`

	w := serve(r, http.MethodPost, "/send-now", body, middleware.HeaderIdempotencyKey, "k-1")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Bonjour Alice") {
		t.Fatalf("send-now -> %d %s", w.Code, w.Body.String())
	}
	if w := serve(r, http.MethodPost, "/send-now", body, middleware.HeaderIdempotencyKey, "k-1"); w.Code != http.StatusConflict {
		t.Fatalf("replayed key -> %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/quotas/usage?tenantId=t1", "")
	var u struct {
		Usage quota.Usage `json:"usage"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil || w.Code != http.StatusOK {
		t.Fatalf("usage -> %d %s", w.Code, w.Body.String())
	}
	if u.Usage.Hourly.Count != 1 || u.Usage.Hourly.Remaining != 49 {
		t.Fatalf("unexpected usage: %+v", u.Usage.Hourly)
	}
}

func TestRunReminders_ShowsInQueueStats(t *testing.T) {
	r, _ := newServer(t, testConfig())

	w := serve(r, http.MethodPost, "/reminders/run", "")
	if w.Code != http.StatusAccepted || !strings.Contains(w.Body.String(), `"enqueued":1`) {
		t.Fatalf("reminders/run -> %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/dlq/stats", "")
	var s struct {
		Queues map[string]dlq.QueueStats `json:"queues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("json: %v", err)
	}
	if s.Queues[queue.Reminders].Waiting != 1 {
		t.Fatalf("unexpected stats: %+v", s.Queues)
	}

	if w := serve(r, http.MethodPost, "/dlq/retry/reminders/reminder:a1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("retry without record -> %d", w.Code)
	}
}
