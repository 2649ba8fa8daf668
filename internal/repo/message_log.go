// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the message
// log, the append-only record of every send and receive attempt.
//
// Error semantics:
//   - Lookups that match nothing return ErrNotFound (gorm.ErrRecordNotFound).
//   - Inserts that collide on idempotency_key return ErrDuplicate.
//   - Any other driver error is propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
)

// ErrNotFound is returned when a row is missing.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique constraint rejected the insert.
var ErrDuplicate = errors.New("duplicate")

// CreateLogEntry inserts e, assigning an id and timestamps when unset.
func CreateLogEntry(ctx context.Context, db *gorm.DB, e *domain.MessageLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetLogEntry fetches an entry by id.
func GetLogEntry(ctx context.Context, db *gorm.DB, id string) (*domain.MessageLogEntry, error) {
	var e domain.MessageLogEntry
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// FindLogByIdempotencyKey returns the entry recorded under key.
func FindLogByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.MessageLogEntry, error) {
	var e domain.MessageLogEntry
	if err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// FindLogByProviderMessageID returns the most recent entry carrying the
// provider's message id.
func FindLogByProviderMessageID(ctx context.Context, db *gorm.DB, providerID string) (*domain.MessageLogEntry, error) {
	var e domain.MessageLogEntry
	err := db.WithContext(ctx).
		Where("provider_message_id = ?", providerID).
		Order("created_at DESC").
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveLogStatus persists the status and delivery timestamps of e.
func SaveLogStatus(ctx context.Context, db *gorm.DB, e *domain.MessageLogEntry) error {
	e.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.MessageLogEntry{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"status":       e.Status,
			"sent_at":      e.SentAt,
			"delivered_at": e.DeliveredAt,
			"read_at":      e.ReadAt,
			"updated_at":   e.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInboundSince returns inbound entries for tenant and channel created at
// or after since, newest first.
func ListInboundSince(ctx context.Context, db *gorm.DB, tenantID, channel string, since time.Time) ([]domain.MessageLogEntry, error) {
	var out []domain.MessageLogEntry
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND template_name = ? AND created_at >= ?",
			tenantID, channel, domain.InboundTemplate, since).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// outboundCounted scopes a query to quota-consuming entries of a tenant.
func outboundCounted(db *gorm.DB, tenantID string, since time.Time) *gorm.DB {
	return db.Model(&domain.MessageLogEntry{}).
		Where("tenant_id = ? AND template_name <> ? AND status IN ? AND created_at >= ?",
			tenantID, domain.InboundTemplate, domain.CountedStatuses, since)
}

// CountOutboundSince counts quota-consuming outbound entries created at or
// after since.
func CountOutboundSince(ctx context.Context, db *gorm.DB, tenantID string, since time.Time) (int64, error) {
	var n int64
	err := outboundCounted(db.WithContext(ctx), tenantID, since).Count(&n).Error
	return n, err
}

// OldestOutboundSince returns the creation time of the oldest counted
// outbound entry at or after since, or nil when there is none.
func OldestOutboundSince(ctx context.Context, db *gorm.DB, tenantID string, since time.Time) (*time.Time, error) {
	var rows []struct {
		CreatedAt time.Time
	}
	err := outboundCounted(db.WithContext(ctx), tenantID, since).
		Select("created_at").
		Order("created_at ASC").
		Limit(1).
		Scan(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	t := rows[0].CreatedAt
	return &t, nil
}
