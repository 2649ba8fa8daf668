package dlq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/queue"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type recordingSink struct {
	alerts []Alert
	err    error
}

func (s *recordingSink) Alert(_ context.Context, a Alert) error {
	s.alerts = append(s.alerts, a)
	return s.err
}

type reminderPayload struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id"`
}

func setup(t *testing.T, attempts int) (*gorm.DB, *queue.Pool, *Manager, *recordingSink) {
	t.Helper()
	db := newTestDB(t)
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	pool := queue.NewPool(queue.NewStore(db, clock), nil, queue.PoolOptions{Logger: zerolog.Nop()})
	pool.Register(queue.QueueConfig{Name: queue.Reminders, MaxAttempts: attempts}, func(context.Context, *domain.Job) error {
		return errors.New("provider unavailable")
	})
	sink := &recordingSink{}
	m := NewManager(db, pool, sink, Options{Now: clock, Logger: zerolog.Nop()})
	m.Attach()
	return db, pool, m, sink
}

func TestExhaustedJob_RecordedOnceAndAlerted(t *testing.T) {
	db, pool, m, sink := setup(t, 1)
	ctx := context.Background()

	if _, _, err := pool.Enqueue(ctx, queue.Reminders, "reminder:a1", reminderPayload{TenantID: "t1", AppointmentID: "a1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := pool.RunOnce(ctx, queue.Reminders); err != nil {
		t.Fatalf("run: %v", err)
	}

	rec, err := repo.GetDeadLetter(ctx, db, "dlq:reminders:reminder:a1")
	if err != nil {
		t.Fatalf("dead letter missing: %v", err)
	}
	if rec.TenantID != "t1" || rec.AppointmentID != "a1" || rec.Attempts != 1 || rec.Reason != "provider unavailable" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// a second failure event for the same job changes nothing
	job, _ := pool.Store().Get(ctx, "reminder:a1")
	if err := m.OnFailed(ctx, job, errors.New("again")); err != nil {
		t.Fatalf("OnFailed: %v", err)
	}
	var n int64
	db.Model(&domain.DeadLetter{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one record, got %d", n)
	}
	counts, _ := pool.Store().Counts(ctx, queue.DeadLetter)
	if counts[domain.JobWaiting] != 1 {
		t.Fatalf("expected one dead-letter job, got %+v", counts)
	}

	// consumer dispatches the alert
	if did, err := pool.RunOnce(ctx, queue.DeadLetter); err != nil || !did {
		t.Fatalf("consume: did=%v err=%v", did, err)
	}
	if len(sink.alerts) != 1 || sink.alerts[0].JobID != "reminder:a1" || sink.alerts[0].Queue != queue.Reminders {
		t.Fatalf("unexpected alerts: %+v", sink.alerts)
	}
}

func TestOnFailed_IgnoresRetryableAndDeadLetterJobs(t *testing.T) {
	db, _, m, _ := setup(t, 3)
	ctx := context.Background()

	retryable := &domain.Job{ID: "j1", Queue: queue.Reminders, AttemptsMade: 1, MaxAttempts: 3}
	if err := m.OnFailed(ctx, retryable, errors.New("x")); err != nil {
		t.Fatalf("OnFailed: %v", err)
	}
	cascading := &domain.Job{ID: "dlq:reminders:j2", Queue: queue.DeadLetter, AttemptsMade: 1, MaxAttempts: 1}
	if err := m.OnFailed(ctx, cascading, errors.New("sink down")); err != nil {
		t.Fatalf("OnFailed: %v", err)
	}
	var n int64
	db.Model(&domain.DeadLetter{}).Count(&n)
	if n != 0 {
		t.Fatalf("no record expected, got %d", n)
	}
}

func TestConsumerFailure_IsNotRequeued(t *testing.T) {
	db, pool, _, sink := setup(t, 1)
	ctx := context.Background()
	sink.err = errors.New("pager down")

	_, _, _ = pool.Enqueue(ctx, queue.Reminders, "reminder:a2", reminderPayload{TenantID: "t1"})
	_, _ = pool.RunOnce(ctx, queue.Reminders)
	if _, err := pool.RunOnce(ctx, queue.DeadLetter); err != nil {
		t.Fatalf("consume: %v", err)
	}
	j, err := pool.Store().Get(ctx, "dlq:reminders:reminder:a2")
	if err != nil || j.State != domain.JobFailed {
		t.Fatalf("dead-letter job should fail terminally: %+v %v", j, err)
	}
	var n int64
	db.Model(&domain.DeadLetter{}).Count(&n)
	if n != 1 {
		t.Fatalf("consumer failure must not cascade, records=%d", n)
	}
}

func TestRetry_ReinjectsOriginalJob(t *testing.T) {
	_, pool, m, _ := setup(t, 1)
	ctx := context.Background()

	if _, err := m.Retry(ctx, queue.Reminders, "nope"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	_, _, _ = pool.Enqueue(ctx, queue.Reminders, "reminder:a3", reminderPayload{TenantID: "t1"})
	_, _ = pool.RunOnce(ctx, queue.Reminders)
	j, _ := pool.Store().Get(ctx, "reminder:a3")
	if j.State != domain.JobFailed {
		t.Fatalf("expected terminal failure, got %s", j.State)
	}

	rec, err := m.Retry(ctx, queue.Reminders, "reminder:a3")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if rec.RetryCount != 1 || rec.LastRetriedAt == nil {
		t.Fatalf("retry not tracked: %+v", rec)
	}
	j, _ = pool.Store().Get(ctx, "reminder:a3")
	if j.State != domain.JobWaiting || j.AttemptsMade != 0 {
		t.Fatalf("job not re-armed: %+v", j)
	}

	// already re-armed: a second retry is refused and not counted
	if _, err := m.Retry(ctx, queue.Reminders, "reminder:a3"); !errors.Is(err, ErrJobNotRetryable) {
		t.Fatalf("expected ErrJobNotRetryable for a waiting job, got %v", err)
	}

	if did, _ := pool.RunOnce(ctx, queue.Reminders); !did {
		t.Fatalf("re-armed job should be due immediately")
	}
}

func TestRetry_RefusesJobsThatAreNotFailed(t *testing.T) {
	db, pool, m, _ := setup(t, 1)
	ctx := context.Background()

	for _, state := range []string{domain.JobActive, domain.JobWaiting, domain.JobCompleted} {
		id := "reminder:" + state
		_, _, _ = pool.Enqueue(ctx, queue.Reminders, id, reminderPayload{TenantID: "t1"})
		started := time.Date(2026, 3, 3, 8, 59, 0, 0, time.UTC)
		if err := db.Model(&domain.Job{}).Where("id = ?", id).
			Updates(map[string]any{"state": state, "attempts_made": 1, "started_at": started}).Error; err != nil {
			t.Fatalf("set state: %v", err)
		}
		// a record left over from an earlier exhaustion
		job, _ := pool.Store().Get(ctx, id)
		job.AttemptsMade, job.MaxAttempts = 1, 1
		if err := m.OnFailed(ctx, job, errors.New("earlier failure")); err != nil {
			t.Fatalf("OnFailed: %v", err)
		}

		if _, err := m.Retry(ctx, queue.Reminders, id); !errors.Is(err, ErrJobNotRetryable) {
			t.Fatalf("%s: expected ErrJobNotRetryable, got %v", state, err)
		}
		j, _ := pool.Store().Get(ctx, id)
		if j.State != state || j.AttemptsMade != 1 {
			t.Fatalf("%s job was modified: state=%s attempts=%d", state, j.State, j.AttemptsMade)
		}
		rec, _ := repo.GetDeadLetter(ctx, db, domain.DeadLetterID(queue.Reminders, id))
		if rec.RetryCount != 0 {
			t.Fatalf("%s: refused retry was counted: %+v", state, rec)
		}
	}
}

func TestStats_PerQueue(t *testing.T) {
	_, pool, m, _ := setup(t, 1)
	ctx := context.Background()

	_, _, _ = pool.Enqueue(ctx, queue.Reminders, "r1", reminderPayload{})
	_, _, _ = pool.Enqueue(ctx, queue.Reminders, "r2", reminderPayload{})
	_, _ = pool.RunOnce(ctx, queue.Reminders)

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	r := stats[queue.Reminders]
	if r.Waiting != 1 || r.Failed != 1 || r.DeadLetters != 1 {
		t.Fatalf("unexpected reminders stats: %+v", r)
	}
	if stats[queue.DeadLetter].Waiting != 1 {
		t.Fatalf("unexpected dead-letter stats: %+v", stats[queue.DeadLetter])
	}
	if _, ok := stats[queue.Reengagement]; !ok {
		t.Fatalf("every queue must be reported")
	}
}
