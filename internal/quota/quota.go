// Package quota enforces per-tenant sending limits over three windows: a
// trailing burst window and the current calendar hour and day (UTC).
//
// Counts come from the message log on every check, so the limit is not
// reserved: two concurrent callers may both be admitted for the last slot.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/observability"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// BurstWindow is the length of the trailing burst window.
const BurstWindow = 5 * time.Minute

// Window names used in reasons and metrics.
const (
	WindowBurst  = "burst"
	WindowHourly = "hourly"
	WindowDaily  = "daily"
)

// ErrNoDefault is returned when neither the tenant nor the default
// configuration exists.
var ErrNoDefault = errors.New("quota: no default configuration")

// Config holds a tenant's limits. A limit <= 0 is unlimited.
type Config struct {
	Daily  int `json:"daily"`
	Hourly int `json:"hourly"`
	Burst  int `json:"burst"`
}

// Decision is the outcome of CanSend.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Window  string `json:"window,omitempty"`
}

// WindowUsage reports consumption of a single window.
type WindowUsage struct {
	Count     int64     `json:"count"`
	Limit     int       `json:"limit"`
	Remaining int64     `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Usage reports consumption of every window for a tenant.
type Usage struct {
	TenantID string      `json:"tenant_id"`
	Burst    WindowUsage `json:"burst"`
	Hourly   WindowUsage `json:"hourly"`
	Daily    WindowUsage `json:"daily"`
}

// Store supplies configuration and counts.
type Store interface {
	Config(ctx context.Context, tenantID string) (*domain.QuotaConfig, error)
	CountSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
	OldestSince(ctx context.Context, tenantID string, since time.Time) (*time.Time, error)
}

// GormStore reads quotas and the message log through the repo layer.
type GormStore struct{ DB *gorm.DB }

func (s GormStore) Config(ctx context.Context, tenantID string) (*domain.QuotaConfig, error) {
	return repo.GetQuotaConfig(ctx, s.DB, tenantID)
}

func (s GormStore) CountSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	return repo.CountOutboundSince(ctx, s.DB, tenantID, since)
}

func (s GormStore) OldestSince(ctx context.Context, tenantID string, since time.Time) (*time.Time, error) {
	return repo.OldestOutboundSince(ctx, s.DB, tenantID, since)
}

// Manager answers admission and usage questions.
type Manager struct {
	store Store
	now   func() time.Time
	log   zerolog.Logger
}

// NewManager builds a Manager. A nil now uses time.Now.
func NewManager(store Store, now func() time.Time, log zerolog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, now: now, log: log.With().Str("component", "quota").Logger()}
}

// ConfigFor returns the tenant's limits, falling back to the default row.
func (m *Manager) ConfigFor(ctx context.Context, tenantID string) (Config, error) {
	qc, err := m.store.Config(ctx, tenantID)
	if errors.Is(err, repo.ErrNotFound) && tenantID != domain.DefaultQuotaTenant {
		qc, err = m.store.Config(ctx, domain.DefaultQuotaTenant)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return Config{}, ErrNoDefault
	}
	if err != nil {
		return Config{}, fmt.Errorf("quota config: %w", err)
	}
	return Config{Daily: qc.DailyLimit, Hourly: qc.HourlyLimit, Burst: qc.BurstLimit}, nil
}

type window struct {
	name  string
	limit int
	start time.Time
}

func (m *Manager) windows(cfg Config, now time.Time) []window {
	return []window{
		{WindowBurst, cfg.Burst, now.Add(-BurstWindow)},
		{WindowHourly, cfg.Hourly, now.Truncate(time.Hour)},
		{WindowDaily, cfg.Daily, startOfDay(now)},
	}
}

// CanSend checks burst, hourly and daily limits in that order and reports
// the first one reached.
func (m *Manager) CanSend(ctx context.Context, tenantID string) (Decision, error) {
	cfg, err := m.ConfigFor(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	now := m.now().UTC()
	for _, w := range m.windows(cfg, now) {
		if w.limit <= 0 {
			continue
		}
		n, err := m.store.CountSince(ctx, tenantID, w.start)
		if err != nil {
			return Decision{}, fmt.Errorf("quota count %s: %w", w.name, err)
		}
		if n >= int64(w.limit) {
			observability.QuotaRefusals.WithLabelValues(w.name).Inc()
			reason := fmt.Sprintf("%s limit reached (%d/%d)", w.name, n, w.limit)
			m.log.Info().Str("tenant_id", tenantID).Str("window", w.name).Msg(reason)
			return Decision{Allowed: false, Reason: reason, Window: w.name}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// Usage reports counts, limits, remaining capacity and reset times.
func (m *Manager) Usage(ctx context.Context, tenantID string) (Usage, error) {
	cfg, err := m.ConfigFor(ctx, tenantID)
	if err != nil {
		return Usage{}, err
	}
	now := m.now().UTC()
	u := Usage{TenantID: tenantID}
	for _, w := range m.windows(cfg, now) {
		n, err := m.store.CountSince(ctx, tenantID, w.start)
		if err != nil {
			return Usage{}, fmt.Errorf("quota count %s: %w", w.name, err)
		}
		wu := WindowUsage{Count: n, Limit: w.limit, Unlimited: w.limit <= 0}
		if !wu.Unlimited {
			wu.Remaining = int64(w.limit) - n
			if wu.Remaining < 0 {
				wu.Remaining = 0
			}
		}
		switch w.name {
		case WindowBurst:
			oldest, err := m.store.OldestSince(ctx, tenantID, w.start)
			if err != nil {
				return Usage{}, fmt.Errorf("quota oldest: %w", err)
			}
			wu.ResetsAt = now
			if oldest != nil {
				wu.ResetsAt = oldest.UTC().Add(BurstWindow)
			}
			u.Burst = wu
		case WindowHourly:
			wu.ResetsAt = w.start.Add(time.Hour)
			u.Hourly = wu
		case WindowDaily:
			wu.ResetsAt = w.start.Add(24 * time.Hour)
			u.Daily = wu
		}
	}
	return u, nil
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
