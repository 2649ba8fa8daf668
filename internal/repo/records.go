package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
)

// GetClient fetches a tenant's client by id.
func GetClient(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Client, error) {
	var c domain.Client
	if err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindClientByPhone fetches a tenant's client by phone number.
func FindClientByPhone(ctx context.Context, db *gorm.DB, tenantID, phone string) (*domain.Client, error) {
	var c domain.Client
	if err := db.WithContext(ctx).Where("tenant_id = ? AND phone = ?", tenantID, phone).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Cursor resumes a keyset-paginated listing after the last row returned.
type Cursor struct {
	At time.Time
	ID string
}

// InactiveClientsQuery selects clients whose last visit is before Cutoff.
// An empty TenantID matches every tenant; Limit <= 0 means no limit. With a
// JobPrefix, clients that already have the job JobPrefix+client id are left
// out.
type InactiveClientsQuery struct {
	TenantID  string
	Cutoff    time.Time
	JobPrefix string
	After     *Cursor
	Limit     int
}

// ListInactiveClients returns the clients matching q, oldest visit first.
func ListInactiveClients(ctx context.Context, db *gorm.DB, q InactiveClientsQuery) ([]domain.Client, error) {
	tx := db.WithContext(ctx).
		Where("last_visit_at IS NOT NULL AND last_visit_at < ?", q.Cutoff).
		Order("last_visit_at ASC, id ASC")
	if q.TenantID != "" {
		tx = tx.Where("tenant_id = ?", q.TenantID)
	}
	tx = withoutJob(tx, "clients", q.JobPrefix)
	tx = afterCursor(tx, "last_visit_at", q.After)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var out []domain.Client
	err := tx.Find(&out).Error
	return out, err
}

// GetAppointment fetches an appointment by id within a tenant.
func GetAppointment(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// DueAppointmentsQuery selects scheduled, not yet reminded appointments
// starting in [From, To). An empty TenantID matches every tenant; Limit <= 0
// means no limit. With a JobPrefix, appointments that already have the job
// JobPrefix+appointment id are left out, whatever that job's state.
type DueAppointmentsQuery struct {
	TenantID  string
	From, To  time.Time
	JobPrefix string
	After     *Cursor
	Limit     int
}

// ListDueAppointments returns the appointments matching q, earliest first.
func ListDueAppointments(ctx context.Context, db *gorm.DB, q DueAppointmentsQuery) ([]domain.Appointment, error) {
	tx := db.WithContext(ctx).
		Where("status = ? AND reminder_sent_at IS NULL AND starts_at >= ? AND starts_at < ?",
			domain.AppointmentScheduled, q.From, q.To).
		Order("starts_at ASC, id ASC")
	if q.TenantID != "" {
		tx = tx.Where("tenant_id = ?", q.TenantID)
	}
	tx = withoutJob(tx, "appointments", q.JobPrefix)
	tx = afterCursor(tx, "starts_at", q.After)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var out []domain.Appointment
	err := tx.Find(&out).Error
	return out, err
}

// withoutJob drops rows of table that already have the job prefix+table.id.
func withoutJob(tx *gorm.DB, table, prefix string) *gorm.DB {
	if prefix == "" {
		return tx
	}
	return tx.Where("NOT EXISTS (SELECT 1 FROM jobs WHERE jobs.id = CAST(? AS TEXT) || "+table+".id)", prefix)
}

// afterCursor keeps rows strictly after c in (col, id) order.
func afterCursor(tx *gorm.DB, col string, c *Cursor) *gorm.DB {
	if c == nil {
		return tx
	}
	return tx.Where("("+col+" > ? OR ("+col+" = ? AND id > ?))", c.At, c.At, c.ID)
}

// MarkReminderSent sets the reminder marker if it is not already set.
func MarkReminderSent(ctx context.Context, db *gorm.DB, tenantID, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("tenant_id = ? AND id = ? AND reminder_sent_at IS NULL", tenantID, id).
		Updates(map[string]any{"reminder_sent_at": at, "updated_at": time.Now().UTC()}).Error
}

// FindTemplate resolves a template by name, preferring an exact locale match
// over the tenant-wide (empty locale) fallback.
func FindTemplate(ctx context.Context, db *gorm.DB, tenantID, name, locale string) (*domain.MessageTemplate, error) {
	var t domain.MessageTemplate
	if locale != "" {
		err := db.WithContext(ctx).
			Where("tenant_id = ? AND name = ? AND locale = ?", tenantID, name, locale).
			First(&t).Error
		if err == nil {
			return &t, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND name = ? AND locale = ?", tenantID, name, "").
		First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}
