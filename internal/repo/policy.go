package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-reminder-agent/internal/domain"
)

// GetOrCreatePolicy returns the tenant's policy, inserting def when the
// tenant has none yet. Concurrent first access converges on a single row.
func GetOrCreatePolicy(ctx context.Context, db *gorm.DB, def domain.AgentPolicy) (*domain.AgentPolicy, error) {
	var p domain.AgentPolicy
	err := db.WithContext(ctx).Where("tenant_id = ?", def.TenantID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	def.CreatedAt, def.UpdatedAt = now, now
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&def).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Where("tenant_id = ?", def.TenantID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SetPolicyEnabled flips the enabled flag of an existing policy.
func SetPolicyEnabled(ctx context.Context, db *gorm.DB, tenantID string, enabled bool, reason string) error {
	res := db.WithContext(ctx).
		Model(&domain.AgentPolicy{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"enabled":         enabled,
			"disabled_reason": reason,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPolicies returns all stored policies ordered by tenant.
func ListPolicies(ctx context.Context, db *gorm.DB) ([]domain.AgentPolicy, error) {
	var out []domain.AgentPolicy
	err := db.WithContext(ctx).Order("tenant_id ASC").Find(&out).Error
	return out, err
}

// GetQuotaConfig returns the limits configured for tenantID.
func GetQuotaConfig(ctx context.Context, db *gorm.DB, tenantID string) (*domain.QuotaConfig, error) {
	var q domain.QuotaConfig
	if err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// UpsertQuotaConfig inserts or replaces the limits of q.TenantID.
func UpsertQuotaConfig(ctx context.Context, db *gorm.DB, q *domain.QuotaConfig) error {
	now := time.Now().UTC()
	q.UpdatedAt = now
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"daily_limit", "hourly_limit", "burst_limit", "updated_at"}),
		}).
		Create(q).Error
}
