package domain

import "time"

// Appointment statuses.
const (
	AppointmentScheduled = "scheduled"
	AppointmentCancelled = "cancelled"
)

// Client is a tenant's customer. Records are owned by the external CRUD
// service; the agent only reads them.
type Client struct {
	ID          string     `json:"id"            gorm:"type:varchar(64);primaryKey"`
	TenantID    string     `json:"tenant_id"     gorm:"type:varchar(64);not null;index;uniqueIndex:ux_client_tenant_phone,priority:1"`
	FirstName   string     `json:"first_name"    gorm:"type:varchar(128)"`
	LastName    string     `json:"last_name"     gorm:"type:varchar(128)"`
	Phone       string     `json:"phone"         gorm:"type:varchar(32);not null;uniqueIndex:ux_client_tenant_phone,priority:2"`
	Locale      string     `json:"locale"        gorm:"type:varchar(16)"`
	LastVisitAt *time.Time `json:"last_visit_at" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Client.
func (Client) TableName() string { return "clients" }

// Appointment is a booked visit. ReminderSentAt is the "reminder sent"
// marker the reminder worker sets after a successful send.
type Appointment struct {
	ID             string     `json:"id"                         gorm:"type:varchar(64);primaryKey"`
	TenantID       string     `json:"tenant_id"                  gorm:"type:varchar(64);not null;index"`
	ClientID       string     `json:"client_id"                  gorm:"type:varchar(64);not null;index"`
	StartsAt       time.Time  `json:"starts_at"                  gorm:"not null;index"`
	Service        string     `json:"service"                    gorm:"type:varchar(128)"`
	Status         string     `json:"status"                     gorm:"type:varchar(16);not null;default:'scheduled'"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Appointment.
func (Appointment) TableName() string { return "appointments" }

// Template names the workers resolve.
const (
	TemplateReminder     = "appointment_reminder"
	TemplateReengagement = "reengagement"
)

// MessageTemplate is a tenant's message body for a template name and locale.
// An empty Locale is the tenant-wide fallback.
type MessageTemplate struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_template_name_locale,priority:1"`
	Name      string    `json:"name"      gorm:"type:varchar(128);not null;uniqueIndex:ux_template_name_locale,priority:2"`
	Locale    string    `json:"locale"    gorm:"type:varchar(16);not null;default:'';uniqueIndex:ux_template_name_locale,priority:3"`
	Body      string    `json:"body"      gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for MessageTemplate.
func (MessageTemplate) TableName() string { return "message_templates" }
