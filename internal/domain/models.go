// Package domain defines the persistence models for the messaging agent.
// These types are mapped with GORM and shared across the repository,
// queue, and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Message statuses. Outbound entries walk queued → sent → delivered → read,
// or end in failed.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// ChannelWhatsApp is the single supported chat channel.
const ChannelWhatsApp = "whatsapp"

// InboundTemplate is the sentinel template name that marks an entry as an
// inbound (client → agent) message.
const InboundTemplate = "__inbound__"

// CountedStatuses are the statuses that consume sending quota.
var CountedStatuses = []string{StatusSent, StatusDelivered, StatusRead}

// statusRank orders the forward-only delivery lifecycle.
var statusRank = map[string]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// ValidStatus reports whether s is a known message status.
func ValidStatus(s string) bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// MessageLogEntry is the append-only record of a single send or receive
// attempt. It is the source of truth for duplicate detection and quota
// counting.
//
// Fields:
//   - IdempotencyKey: unique per logical action; nil for failed attempts so
//     they never block a later retry.
//   - ProviderMessageID: assigned by the provider once the send completes.
//   - SentAt / DeliveredAt / ReadAt: set once, by status callbacks.
type MessageLogEntry struct {
	ID                string            `json:"id"                            gorm:"type:char(36);primaryKey"`
	TenantID          string            `json:"tenant_id"                     gorm:"type:varchar(64);not null;index:idx_log_tenant_created,priority:1"`
	ClientID          string            `json:"client_id"                     gorm:"type:varchar(64);not null;index"`
	AppointmentID     *string           `json:"appointment_id,omitempty"      gorm:"type:varchar(64);index"`
	Channel           string            `json:"channel"                       gorm:"type:varchar(32);not null"`
	Status            string            `json:"status"                        gorm:"type:varchar(16);not null;index;check:status IN ('queued','sent','delivered','read','failed')"`
	TemplateName      string            `json:"template_name"                 gorm:"type:varchar(128);not null"`
	Locale            string            `json:"locale"                        gorm:"type:varchar(16)"`
	Content           string            `json:"content"                       gorm:"type:text;not null"`
	Variables         datatypes.JSONMap `json:"variables,omitempty"`
	Provider          string            `json:"provider"                      gorm:"type:varchar(64)"`
	ProviderMessageID *string           `json:"provider_message_id,omitempty" gorm:"type:varchar(128);index"`
	IdempotencyKey    *string           `json:"idempotency_key,omitempty"     gorm:"type:varchar(128);uniqueIndex:ux_log_idempotency_key"`
	Intent            string            `json:"intent,omitempty"              gorm:"type:varchar(16)"`
	Error             string            `json:"error,omitempty"               gorm:"type:text"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	ReadAt            *time.Time        `json:"read_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"                    gorm:"index:idx_log_tenant_created,priority:2"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TableName returns the database table name for MessageLogEntry.
func (MessageLogEntry) TableName() string { return "message_log" }

// IsInbound reports whether the entry records a message received from a client.
func (e *MessageLogEntry) IsInbound() bool { return e.TemplateName == InboundTemplate }

// ApplyStatus moves the entry to status at time at. Statuses never regress
// (a late "delivered" after "read" only fills the missing timestamp), a read
// message cannot become failed, and failed is terminal. Timestamps are set
// once. It reports whether anything changed.
func (e *MessageLogEntry) ApplyStatus(status string, at time.Time) bool {
	changed := false
	setOnce := func(p **time.Time) {
		if *p == nil {
			t := at
			*p = &t
			changed = true
		}
	}

	if status == StatusFailed {
		if e.Status == StatusRead || e.Status == StatusFailed {
			return false
		}
		e.Status = StatusFailed
		return true
	}

	rank, ok := statusRank[status]
	if !ok {
		return false
	}
	switch status {
	case StatusSent:
		setOnce(&e.SentAt)
	case StatusDelivered:
		setOnce(&e.DeliveredAt)
	case StatusRead:
		setOnce(&e.ReadAt)
	}
	if cur, ok := statusRank[e.Status]; ok && rank > cur {
		e.Status = status
		changed = true
	}
	return changed
}
