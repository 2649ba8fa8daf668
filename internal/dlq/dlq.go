// Package dlq records jobs that exhausted their retries, routes them through
// a dead-letter queue for alerting, and lets operators re-inject them.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/observability"
	"github.com/tbourn/go-reminder-agent/internal/queue"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// ErrRecordNotFound is returned by Retry for an unknown dead letter.
var ErrRecordNotFound = errors.New("dead-letter record not found")

// ErrJobNotRetryable is returned by Retry when the original job is not in
// the failed state, for instance because it is already running again.
var ErrJobNotRetryable = errors.New("job is not in a retryable state")

// Alert is what the dead-letter consumer hands to an AlertSink.
type Alert struct {
	RecordID      string    `json:"record_id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	ClientID      string    `json:"client_id,omitempty"`
	Queue         string    `json:"queue"`
	JobID         string    `json:"job_id"`
	Reason        string    `json:"reason"`
	Attempts      int       `json:"attempts"`
	FailedAt      time.Time `json:"failed_at"`
}

// AlertSink delivers dead-letter alerts to operators.
type AlertSink interface {
	Alert(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured log.
type LogSink struct{ Log zerolog.Logger }

func (s LogSink) Alert(_ context.Context, a Alert) error {
	s.Log.Error().
		Str("record_id", a.RecordID).
		Str("tenant_id", a.TenantID).
		Str("appointment_id", a.AppointmentID).
		Str("client_id", a.ClientID).
		Str("queue", a.Queue).
		Str("job_id", a.JobID).
		Int("attempts", a.Attempts).
		Time("failed_at", a.FailedAt).
		Str("reason", a.Reason).
		Msg("dead letter alert")
	return nil
}

// QueueStats are job counts by state.
type QueueStats struct {
	Waiting     int64 `json:"waiting"`
	Active      int64 `json:"active"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	DeadLetters int64 `json:"dead_letters"`
}

// Manager wires dead-letter handling into a queue pool.
type Manager struct {
	db     *gorm.DB
	pool   *queue.Pool
	sink   AlertSink
	queues []string
	now    func() time.Time
	log    zerolog.Logger
}

// Options tunes a Manager.
type Options struct {
	Queues []string // queues reported by Stats
	Now    func() time.Time
	Logger zerolog.Logger
}

// NewManager builds a Manager. A nil sink logs alerts.
func NewManager(db *gorm.DB, pool *queue.Pool, sink AlertSink, opts Options) *Manager {
	log := opts.Logger.With().Str("component", "dlq").Logger()
	if sink == nil {
		sink = LogSink{Log: log}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Queues) == 0 {
		opts.Queues = []string{queue.Reminders, queue.Reengagement, queue.DeadLetter}
	}
	return &Manager{db: db, pool: pool, sink: sink, queues: opts.Queues, now: opts.Now, log: log}
}

// Attach registers the dead-letter consumer (one worker, one attempt) and
// subscribes to the pool's failure events.
func (m *Manager) Attach() {
	m.pool.Register(queue.QueueConfig{Name: queue.DeadLetter, Concurrency: 1, MaxAttempts: 1}, m.consume)
	m.pool.OnFailed(func(ctx context.Context, ev queue.FailedEvent) {
		if !ev.Terminal {
			return
		}
		if err := m.OnFailed(ctx, ev.Job, ev.Err); err != nil {
			m.log.Error().Err(err).Str("job_id", ev.Job.ID).Msg("dead-letter capture failed")
		}
	})
}

// jobRefs is the subset of job payload fields copied into a record.
type jobRefs struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
}

// OnFailed captures an exhausted job. Jobs from the dead-letter queue itself
// and jobs with attempts left are ignored. Repeated events for the same job
// produce a single record and a single alert job.
func (m *Manager) OnFailed(ctx context.Context, job *domain.Job, cause error) error {
	if job == nil || job.Queue == queue.DeadLetter || !job.Exhausted() {
		return nil
	}
	var refs jobRefs
	if len(job.Payload) > 0 {
		_ = json.Unmarshal(job.Payload, &refs)
	}
	reason := job.LastError
	if cause != nil {
		reason = cause.Error()
	}
	rec := &domain.DeadLetter{
		ID:            domain.DeadLetterID(job.Queue, job.ID),
		TenantID:      refs.TenantID,
		AppointmentID: refs.AppointmentID,
		ClientID:      refs.ClientID,
		Queue:         job.Queue,
		JobID:         job.ID,
		Reason:        reason,
		Attempts:      job.AttemptsMade,
		FailedAt:      m.now().UTC(),
	}
	created, err := repo.InsertDeadLetter(ctx, m.db, rec)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if !created {
		m.log.Debug().Str("record_id", rec.ID).Msg("dead letter already recorded")
		return nil
	}
	observability.DeadLettered.WithLabelValues(job.Queue).Inc()
	if _, _, err := m.pool.Enqueue(ctx, queue.DeadLetter, rec.ID, alertFrom(rec)); err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	m.log.Warn().Str("record_id", rec.ID).Str("queue", job.Queue).Str("job_id", job.ID).Msg("job dead-lettered")
	return nil
}

func (m *Manager) consume(ctx context.Context, job *domain.Job) error {
	var a Alert
	if err := queue.Decode(job, &a); err != nil {
		return queue.Permanent(fmt.Errorf("decode alert: %w", err))
	}
	m.log.Info().Str("record_id", a.RecordID).Str("queue", a.Queue).Str("job_id", a.JobID).Msg("processing dead letter")
	if err := m.sink.Alert(ctx, a); err != nil {
		return fmt.Errorf("alert sink: %w", err)
	}
	return nil
}

// Stats returns job counts per queue plus the dead-letter records per
// original queue.
func (m *Manager) Stats(ctx context.Context) (map[string]QueueStats, error) {
	dead, err := repo.CountDeadLetters(ctx, m.db)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	out := make(map[string]QueueStats, len(m.queues))
	for _, q := range m.queues {
		c, err := m.pool.Store().Counts(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("count jobs %s: %w", q, err)
		}
		out[q] = QueueStats{
			Waiting:     c[domain.JobWaiting],
			Active:      c[domain.JobActive],
			Completed:   c[domain.JobCompleted],
			Failed:      c[domain.JobFailed],
			DeadLetters: dead[q],
		}
	}
	return out, nil
}

// Retry re-injects the original job of a dead-letter record with a fresh
// attempt budget and bumps the record's retry counter.
func (m *Manager) Retry(ctx context.Context, queueName, jobID string) (*domain.DeadLetter, error) {
	id := domain.DeadLetterID(queueName, jobID)
	rec, err := repo.GetDeadLetter(ctx, m.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	m.log.Info().Str("record_id", id).Str("queue", queueName).Str("job_id", jobID).Msg("dead letter retry requested")

	if err := m.pool.Store().Reset(ctx, jobID); err != nil {
		if errors.Is(err, queue.ErrJobNotFailed) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotRetryable, jobID)
		}
		return nil, fmt.Errorf("reset job: %w", err)
	}
	now := m.now().UTC()
	if err := repo.MarkDeadLetterRetried(ctx, m.db, id, now); err != nil {
		return nil, fmt.Errorf("mark retried: %w", err)
	}
	m.pool.Wake(queueName)
	rec.RetryCount++
	rec.LastRetriedAt = &now
	return rec, nil
}

func alertFrom(d *domain.DeadLetter) Alert {
	return Alert{
		RecordID:      d.ID,
		TenantID:      d.TenantID,
		AppointmentID: d.AppointmentID,
		ClientID:      d.ClientID,
		Queue:         d.Queue,
		JobID:         d.JobID,
		Reason:        d.Reason,
		Attempts:      d.Attempts,
		FailedAt:      d.FailedAt,
	}
}
