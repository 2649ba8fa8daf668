package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Job states. A failed job with attempts left goes back to waiting with a
// later RunAt; JobFailed is terminal.
const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStates lists every job state in display order.
var JobStates = []string{JobWaiting, JobActive, JobCompleted, JobFailed}

// Job is a durable unit of queued work. IDs are caller-chosen when the work
// has a natural identity (e.g. "reminder:<appointment>") so that adding the
// same job twice is a no-op.
type Job struct {
	ID           string         `json:"id"            gorm:"type:varchar(191);primaryKey"`
	Queue        string         `json:"queue"         gorm:"type:varchar(64);not null;index:idx_jobs_claim,priority:1"`
	Payload      datatypes.JSON `json:"payload"`
	State        string         `json:"state"         gorm:"type:varchar(16);not null;index:idx_jobs_claim,priority:2;check:state IN ('waiting','active','completed','failed')"`
	AttemptsMade int            `json:"attempts_made" gorm:"not null"`
	MaxAttempts  int            `json:"max_attempts"  gorm:"not null"`
	RunAt        time.Time      `json:"run_at"        gorm:"not null;index:idx_jobs_claim,priority:3"`
	LastError    string         `json:"last_error,omitempty" gorm:"type:text"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// Exhausted reports whether the job has used its whole retry budget.
func (j *Job) Exhausted() bool { return j.AttemptsMade >= j.MaxAttempts }

// DeadLetter captures a job that exhausted its retries. ID is derived from
// the original queue and job id, so each exhausted job yields one record.
type DeadLetter struct {
	ID            string     `json:"id"                       gorm:"type:varchar(255);primaryKey"`
	TenantID      string     `json:"tenant_id"                gorm:"type:varchar(64);index"`
	AppointmentID string     `json:"appointment_id,omitempty" gorm:"type:varchar(64)"`
	ClientID      string     `json:"client_id,omitempty"      gorm:"type:varchar(64)"`
	Queue         string     `json:"queue"                    gorm:"type:varchar(64);not null;index"`
	JobID         string     `json:"job_id"                   gorm:"type:varchar(191);not null"`
	Reason        string     `json:"reason"                   gorm:"type:text"`
	Attempts      int        `json:"attempts"                 gorm:"not null"`
	FailedAt      time.Time  `json:"failed_at"                gorm:"not null"`
	RetryCount    int        `json:"retry_count"              gorm:"not null"`
	LastRetriedAt *time.Time `json:"last_retried_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName returns the database table name for DeadLetter.
func (DeadLetter) TableName() string { return "dead_letters" }

// DeadLetterID derives the dead-letter record id for a job.
func DeadLetterID(queue, jobID string) string { return "dlq:" + queue + ":" + jobID }
