// Package queue implements a durable job queue on top of the jobs table and
// a worker pool that drains it with bounded, backed-off retries.
//
// The database is the source of truth. Notifiers only shorten the time an
// idle worker waits before polling again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// Queue names.
const (
	Reminders    = "reminders"
	Reengagement = "reengagement"
	DeadLetter   = "dead-letter"
)

// ErrJobNotFound is returned for operations on a missing job.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotFailed is returned by Reset for a job that is still waiting,
// running or already completed.
var ErrJobNotFailed = repo.ErrJobNotFailed

// AddOptions tunes a single enqueue.
type AddOptions struct {
	MaxAttempts int
	Delay       time.Duration
}

// Store persists jobs.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps db. A nil now uses time.Now.
func NewStore(db *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// Add enqueues payload on queue under id (a uuid when empty). Adding an id
// that already exists returns the stored job with created=false.
func (s *Store) Add(ctx context.Context, queue, id string, payload any, opts AddOptions) (*domain.Job, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}
	now := s.now().UTC()
	j := &domain.Job{
		ID:          id,
		Queue:       queue,
		Payload:     datatypes.JSON(raw),
		State:       domain.JobWaiting,
		MaxAttempts: opts.MaxAttempts,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}
	created, err := repo.InsertJob(ctx, s.db, j)
	if err != nil {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}
	return j, created, nil
}

// Claim takes the next due job of queue, or returns nil when none is due.
// Losing a race to another worker moves on to the next candidate.
func (s *Store) Claim(ctx context.Context, queue string) (*domain.Job, error) {
	for i := 0; i < 5; i++ {
		now := s.now().UTC()
		j, err := repo.NextWaitingJob(ctx, s.db, queue, now)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ok, err := repo.ClaimJob(ctx, s.db, j.ID, now)
		if err != nil {
			return nil, err
		}
		if ok {
			j.State = domain.JobActive
			j.StartedAt = &now
			return j, nil
		}
	}
	return nil, nil
}

// Complete marks j completed.
func (s *Store) Complete(ctx context.Context, j *domain.Job) error {
	now := s.now().UTC()
	if err := repo.CompleteJob(ctx, s.db, j.ID, now); err != nil {
		return err
	}
	j.State, j.FinishedAt, j.LastError = domain.JobCompleted, &now, ""
	return nil
}

// Fail records an attempt. While attempts remain and the failure is not
// final, the job goes back to waiting after delay; otherwise it becomes
// terminally failed. It reports whether the failure was terminal.
func (s *Store) Fail(ctx context.Context, j *domain.Job, cause error, delay time.Duration, final bool) (bool, error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	j.AttemptsMade++
	j.LastError = reason
	now := s.now().UTC()
	if final || j.Exhausted() {
		if err := repo.FailJob(ctx, s.db, j.ID, j.AttemptsMade, reason, now); err != nil {
			return true, err
		}
		j.State, j.FinishedAt = domain.JobFailed, &now
		return true, nil
	}
	runAt := now.Add(delay)
	if err := repo.RescheduleJob(ctx, s.db, j.ID, j.AttemptsMade, runAt, reason); err != nil {
		return false, err
	}
	j.State, j.RunAt = domain.JobWaiting, runAt
	return false, nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	j, err := repo.GetJob(ctx, s.db, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// Reset re-arms a failed job with a fresh retry budget, due immediately.
func (s *Store) Reset(ctx context.Context, id string) error {
	err := repo.ResetJob(ctx, s.db, id, s.now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrJobNotFound
	}
	return err
}

// Counts returns jobs per state for queue.
func (s *Store) Counts(ctx context.Context, queue string) (map[string]int64, error) {
	return repo.CountJobs(ctx, s.db, queue)
}

// ReleaseStale requeues active jobs of queue started more than olderThan ago.
func (s *Store) ReleaseStale(ctx context.Context, queue string, olderThan time.Duration) (int64, error) {
	return repo.ReleaseStaleJobs(ctx, s.db, queue, s.now().UTC().Add(-olderThan))
}

// Decode unmarshals the payload of j into v.
func Decode(j *domain.Job, v any) error {
	if len(j.Payload) == 0 {
		return errors.New("empty job payload")
	}
	return json.Unmarshal(j.Payload, v)
}
