package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-reminder-agent/internal/domain"
)

// ErrJobNotFailed is returned by ResetJob for a job that is not in the failed
// state. Waiting, active and completed jobs are never re-armed.
var ErrJobNotFailed = errors.New("job is not failed")

// InsertJob adds j unless a job with the same id exists. When it does, j is
// overwritten with the stored row and created is false.
func InsertJob(ctx context.Context, db *gorm.DB, j *domain.Job) (created bool, err error) {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(j)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	existing, err := GetJob(ctx, db, j.ID)
	if err != nil {
		return false, err
	}
	*j = *existing
	return false, nil
}

// GetJob fetches a job by id.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// NextWaitingJob returns the oldest due waiting job of queue.
func NextWaitingJob(ctx context.Context, db *gorm.DB, queue string, now time.Time) (*domain.Job, error) {
	var j domain.Job
	err := db.WithContext(ctx).
		Where("queue = ? AND state = ? AND run_at <= ?", queue, domain.JobWaiting, now).
		Order("run_at ASC, created_at ASC, id ASC").
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ClaimJob moves a waiting job to active. It reports false when another
// worker claimed it first.
func ClaimJob(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND state = ?", id, domain.JobWaiting).
		Updates(map[string]any{
			"state":      domain.JobActive,
			"started_at": now,
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// CompleteJob marks an active job completed.
func CompleteJob(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":       domain.JobCompleted,
			"finished_at": now,
			"last_error":  "",
			"updated_at":  now,
		}).Error
}

// RescheduleJob records a failed attempt and puts the job back to waiting
// until runAt.
func RescheduleJob(ctx context.Context, db *gorm.DB, id string, attempts int, runAt time.Time, reason string) error {
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":         domain.JobWaiting,
			"attempts_made": attempts,
			"run_at":        runAt,
			"last_error":    reason,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// FailJob records the last attempt and marks the job terminally failed.
func FailJob(ctx context.Context, db *gorm.DB, id string, attempts int, reason string, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":         domain.JobFailed,
			"attempts_made": attempts,
			"last_error":    reason,
			"finished_at":   now,
			"updated_at":    now,
		}).Error
}

// ResetJob puts a failed job back to waiting with a fresh retry budget.
// A job in any other state is left untouched and ErrJobNotFailed returned.
func ResetJob(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND state = ?", id, domain.JobFailed).
		Updates(map[string]any{
			"state":         domain.JobWaiting,
			"attempts_made": 0,
			"run_at":        now,
			"last_error":    "",
			"started_at":    nil,
			"finished_at":   nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := GetJob(ctx, db, id); err != nil {
			return err
		}
		return ErrJobNotFailed
	}
	return nil
}

// ReleaseStaleJobs returns active jobs of queue started before cutoff to
// waiting. It recovers work held by a worker that died mid-job.
func ReleaseStaleJobs(ctx context.Context, db *gorm.DB, queue string, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("queue = ? AND state = ? AND started_at < ?", queue, domain.JobActive, cutoff).
		Updates(map[string]any{
			"state":      domain.JobWaiting,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CountJobs returns the number of jobs per state for queue. Every state is
// present in the result.
func CountJobs(ctx context.Context, db *gorm.DB, queue string) (map[string]int64, error) {
	var rows []struct {
		State string
		N     int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Job{}).
		Select("state, COUNT(*) AS n").
		Where("queue = ?", queue).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(domain.JobStates))
	for _, s := range domain.JobStates {
		out[s] = 0
	}
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}
