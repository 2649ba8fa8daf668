package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultQuotaTenant is the tenant id of the fallback quota configuration.
const DefaultQuotaTenant = "default"

// AgentPolicy governs whether and how the agent may message a tenant's
// clients. There is one row per tenant, upserted with defaults on first access.
//
// QuietStart / QuietEnd are "HH:MM" (UTC) bounds of a window in which batch
// sends are not enqueued; the window may wrap midnight. Empty disables it.
type AgentPolicy struct {
	TenantID            string    `json:"tenant_id"             gorm:"type:varchar(64);primaryKey"`
	Enabled             bool      `json:"enabled"               gorm:"not null"`
	QuietStart          string    `json:"quiet_start,omitempty" gorm:"type:varchar(5)"`
	QuietEnd            string    `json:"quiet_end,omitempty"   gorm:"type:varchar(5)"`
	ReminderHoursBefore int       `json:"reminder_hours_before" gorm:"not null"`
	ReengagementDays    int       `json:"reengagement_days"     gorm:"not null"`
	Locale              string    `json:"locale"                gorm:"type:varchar(16);not null"`
	Tone                string    `json:"tone"                  gorm:"type:varchar(32);not null"`
	DisabledReason      string    `json:"disabled_reason,omitempty" gorm:"type:varchar(64)"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName returns the database table name for AgentPolicy.
func (AgentPolicy) TableName() string { return "agent_policies" }

// DefaultPolicy returns the policy a tenant gets on first access.
func DefaultPolicy(tenantID string) AgentPolicy {
	return AgentPolicy{
		TenantID:            tenantID,
		Enabled:             true,
		ReminderHoursBefore: 24,
		ReengagementDays:    90,
		Locale:              "fr",
		Tone:                "friendly",
	}
}

// InQuietHours reports whether t (converted to UTC) falls inside the quiet
// window. A window whose end precedes its start wraps past midnight.
func (p *AgentPolicy) InQuietHours(t time.Time) bool {
	start, ok1 := parseClock(p.QuietStart)
	end, ok2 := parseClock(p.QuietEnd)
	if !ok1 || !ok2 || start == end {
		return false
	}
	t = t.UTC()
	m := t.Hour()*60 + t.Minute()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// QuotaConfig holds a tenant's sending limits. A limit <= 0 is unlimited.
type QuotaConfig struct {
	TenantID    string    `json:"tenant_id"    gorm:"type:varchar(64);primaryKey"`
	DailyLimit  int       `json:"daily_limit"  gorm:"not null"`
	HourlyLimit int       `json:"hourly_limit" gorm:"not null"`
	BurstLimit  int       `json:"burst_limit"  gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for QuotaConfig.
func (QuotaConfig) TableName() string { return "quota_configs" }
