package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-reminder-agent/internal/domain"
)

// InsertDeadLetter stores d unless a record with the same id exists. It
// reports whether a new row was written.
func InsertDeadLetter(ctx context.Context, db *gorm.DB, d *domain.DeadLetter) (bool, error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(d)
	return res.RowsAffected == 1, res.Error
}

// GetDeadLetter fetches a record by id.
func GetDeadLetter(ctx context.Context, db *gorm.DB, id string) (*domain.DeadLetter, error) {
	var d domain.DeadLetter
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkDeadLetterRetried increments the retry counter of a record.
func MarkDeadLetterRetried(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.DeadLetter{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":     gorm.Expr("retry_count + ?", 1),
			"last_retried_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountDeadLetters returns the number of records per original queue.
func CountDeadLetters(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Queue string
		N     int64
	}
	err := db.WithContext(ctx).
		Model(&domain.DeadLetter{}).
		Select("queue, COUNT(*) AS n").
		Group("queue").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Queue] = r.N
	}
	return out, nil
}
