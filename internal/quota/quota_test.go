package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedSent(t *testing.T, db *gorm.DB, tenant string, at time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := &domain.MessageLogEntry{
			TenantID: tenant, ClientID: "c1", Channel: domain.ChannelWhatsApp, Status: domain.StatusSent,
			TemplateName: domain.TemplateReminder, Content: "x", CreatedAt: at,
		}
		if err := repo.CreateLogEntry(context.Background(), db, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestCanSend_WindowsInOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 14, 30, 0, 0, time.UTC)
	m := NewManager(GormStore{DB: db}, func() time.Time { return now }, zerolog.Nop())

	if err := repo.UpsertQuotaConfig(ctx, db, &domain.QuotaConfig{TenantID: "t1", DailyLimit: 5, HourlyLimit: 3, BurstLimit: 2}); err != nil {
		t.Fatalf("config: %v", err)
	}

	d, err := m.CanSend(ctx, "t1")
	if err != nil || !d.Allowed {
		t.Fatalf("empty tenant should be allowed: %+v %v", d, err)
	}

	seedSent(t, db, "t1", now.Add(-time.Minute), 2)
	d, _ = m.CanSend(ctx, "t1")
	if d.Allowed || d.Window != WindowBurst || d.Reason != "burst limit reached (2/2)" {
		t.Fatalf("expected burst refusal, got %+v", d)
	}

	// burst slides away; hour still holds 2 of 3
	now = now.Add(10 * time.Minute)
	d, _ = m.CanSend(ctx, "t1")
	if !d.Allowed {
		t.Fatalf("expected allowed after burst window: %+v", d)
	}
	seedSent(t, db, "t1", now.Add(-6*time.Minute), 1)
	d, _ = m.CanSend(ctx, "t1")
	if d.Allowed || d.Reason != "hourly limit reached (3/3)" {
		t.Fatalf("expected hourly refusal, got %+v", d)
	}

	// next calendar hour; earlier-today sends count against the day
	seedSent(t, db, "t1", time.Date(2026, 4, 10, 1, 0, 0, 0, time.UTC), 2)
	now = time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	d, _ = m.CanSend(ctx, "t1")
	if d.Allowed || d.Window != WindowDaily || d.Reason != "daily limit reached (5/5)" {
		t.Fatalf("expected daily refusal, got %+v", d)
	}

	// new day resets everything
	now = time.Date(2026, 4, 11, 0, 0, 1, 0, time.UTC)
	if d, _ = m.CanSend(ctx, "t1"); !d.Allowed {
		t.Fatalf("expected allowed on new day: %+v", d)
	}
}

func TestCanSend_IgnoresInboundAndFailed(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	m := NewManager(GormStore{DB: db}, func() time.Time { return now }, zerolog.Nop())
	_ = repo.UpsertQuotaConfig(ctx, db, &domain.QuotaConfig{TenantID: "t1", BurstLimit: 1})

	for _, e := range []*domain.MessageLogEntry{
		{Status: domain.StatusDelivered, TemplateName: domain.InboundTemplate},
		{Status: domain.StatusFailed, TemplateName: domain.TemplateReminder},
	} {
		e.TenantID, e.ClientID, e.Channel, e.Content, e.CreatedAt = "t1", "c1", domain.ChannelWhatsApp, "x", now.Add(-time.Second)
		if err := repo.CreateLogEntry(ctx, db, e); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if d, err := m.CanSend(ctx, "t1"); err != nil || !d.Allowed {
		t.Fatalf("inbound/failed entries must not count: %+v %v", d, err)
	}
}

func TestConfigFor_DefaultFallbackAndUnlimited(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	m := NewManager(GormStore{DB: db}, nil, zerolog.Nop())

	if _, err := m.CanSend(ctx, "t9"); !errors.Is(err, ErrNoDefault) {
		t.Fatalf("expected ErrNoDefault, got %v", err)
	}

	_ = repo.UpsertQuotaConfig(ctx, db, &domain.QuotaConfig{TenantID: domain.DefaultQuotaTenant, DailyLimit: 0, HourlyLimit: 0, BurstLimit: 0})
	cfg, err := m.ConfigFor(ctx, "t9")
	if err != nil || cfg != (Config{}) {
		t.Fatalf("expected default config, got %+v %v", cfg, err)
	}

	seedSent(t, db, "t9", time.Now().UTC(), 50)
	if d, err := m.CanSend(ctx, "t9"); err != nil || !d.Allowed {
		t.Fatalf("zero limits mean unlimited: %+v %v", d, err)
	}
}

func TestUsage_ClampsAndResets(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 14, 30, 0, 0, time.UTC)
	m := NewManager(GormStore{DB: db}, func() time.Time { return now }, zerolog.Nop())
	_ = repo.UpsertQuotaConfig(ctx, db, &domain.QuotaConfig{TenantID: "t1", DailyLimit: 0, HourlyLimit: 2, BurstLimit: 10})

	u, err := m.Usage(ctx, "t1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if !u.Burst.ResetsAt.Equal(now) {
		t.Fatalf("empty burst window resets now, got %v", u.Burst.ResetsAt)
	}

	oldest := now.Add(-3 * time.Minute)
	seedSent(t, db, "t1", oldest, 2)
	seedSent(t, db, "t1", now.Add(-time.Minute), 1)

	u, err = m.Usage(ctx, "t1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.Hourly.Count != 3 || u.Hourly.Remaining != 0 {
		t.Fatalf("hourly remaining must clamp at zero: %+v", u.Hourly)
	}
	if u.Burst.Remaining != 7 {
		t.Fatalf("burst remaining = %d, want 7", u.Burst.Remaining)
	}
	if !u.Burst.ResetsAt.Equal(oldest.Add(BurstWindow)) {
		t.Fatalf("burst reset = %v, want %v", u.Burst.ResetsAt, oldest.Add(BurstWindow))
	}
	if want := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC); !u.Hourly.ResetsAt.Equal(want) {
		t.Fatalf("hour reset = %v, want %v", u.Hourly.ResetsAt, want)
	}
	if want := time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC); !u.Daily.ResetsAt.Equal(want) {
		t.Fatalf("day reset = %v, want %v", u.Daily.ResetsAt, want)
	}
	if !u.Daily.Unlimited || u.Daily.Count != 3 {
		t.Fatalf("daily should be unlimited with count 3: %+v", u.Daily)
	}
}
