package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/queue"
	"github.com/tbourn/go-reminder-agent/internal/repo"
	"github.com/tbourn/go-reminder-agent/internal/utils"
)

// Batch limits.
const (
	// MaxReminderLookahead bounds the scan when each tenant's own
	// reminder_hours_before decides the window.
	MaxReminderLookahead = 7 * 24 * time.Hour
	DefaultBatchLimit    = 500
	MaxBatchLimit        = 5000
)

// Enqueuer adds jobs to a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue, id string, payload any) (*domain.Job, bool, error)
}

// Batches enqueues reminder and re-engagement jobs in bulk.
type Batches struct {
	DB       *gorm.DB
	Queue    Enqueuer
	Policies *PolicyService
	Now      func() time.Time
	Log      zerolog.Logger
}

// ReminderBatch selects appointments to remind. A zero Window uses each
// tenant's reminder_hours_before; an empty TenantID covers every tenant.
type ReminderBatch struct {
	TenantID string
	Window   time.Duration
	Limit    int
}

// ReengagementBatch selects clients inactive for at least Days. Zero Days
// uses each tenant's reengagement_days. An empty CampaignID defaults to the
// current month, so a client is contacted at most once per month.
type ReengagementBatch struct {
	TenantID   string
	Days       int
	Limit      int
	CampaignID string
}

// BatchResult reports what a batch did. Skipped counts candidates that were
// not enqueued: disabled tenant, quiet hours, outside the tenant window, or a
// job that already exists.
type BatchResult struct {
	Enqueued   int    `json:"enqueued"`
	Skipped    int    `json:"skipped"`
	CampaignID string `json:"campaign_id,omitempty"`
}

func (b *Batches) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultBatchLimit
	}
	return utils.ClampInt(n, 1, MaxBatchLimit)
}

// policyCache loads each tenant's policy once per batch.
type policyCache struct {
	svc *PolicyService
	m   map[string]*domain.AgentPolicy
}

func (c *policyCache) get(ctx context.Context, tenantID string) (*domain.AgentPolicy, error) {
	if p, ok := c.m[tenantID]; ok {
		return p, nil
	}
	p, err := c.svc.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.m[tenantID] = p
	return p, nil
}

// RunReminders enqueues one reminder job per due appointment. Appointments
// that already have a reminder job are not listed, and candidates are paged
// in start order until Limit jobs are enqueued or none are left, so skipped
// rows never hide later ones.
func (b *Batches) RunReminders(ctx context.Context, req ReminderBatch) (BatchResult, error) {
	ctx, span := otel.Tracer("services/Batches").Start(ctx, "RunReminders",
		trace.WithAttributes(attribute.String("tenant.id", req.TenantID)),
	)
	defer span.End()

	now := b.now()
	window := req.Window
	if window <= 0 {
		window = MaxReminderLookahead
	}
	limit := clampLimit(req.Limit)
	q := repo.DueAppointmentsQuery{
		TenantID:  req.TenantID,
		From:      now,
		To:        now.Add(window),
		JobPrefix: ReminderJobPrefix,
		Limit:     limit,
	}

	var res BatchResult
	candidates := 0
	policies := &policyCache{svc: b.Policies, m: map[string]*domain.AgentPolicy{}}
	for res.Enqueued < limit {
		appts, err := repo.ListDueAppointments(ctx, b.DB, q)
		if err != nil {
			return res, fmt.Errorf("list due appointments: %w", err)
		}
		candidates += len(appts)
		for _, a := range appts {
			if res.Enqueued == limit {
				break
			}
			p, err := policies.get(ctx, a.TenantID)
			if err != nil {
				return res, err
			}
			if !p.Enabled || p.InQuietHours(now) {
				res.Skipped++
				continue
			}
			if req.Window <= 0 && a.StartsAt.After(now.Add(time.Duration(p.ReminderHoursBefore)*time.Hour)) {
				res.Skipped++
				continue
			}
			_, created, err := b.Queue.Enqueue(ctx, queue.Reminders, ReminderJobID(a.ID), ReminderJob{
				TenantID:      a.TenantID,
				AppointmentID: a.ID,
			})
			if err != nil {
				return res, fmt.Errorf("enqueue reminder %s: %w", a.ID, err)
			}
			if created {
				res.Enqueued++
			} else {
				res.Skipped++
			}
		}
		if len(appts) < q.Limit {
			break
		}
		last := appts[len(appts)-1]
		q.After = &repo.Cursor{At: last.StartsAt, ID: last.ID}
	}
	b.Log.Info().
		Str("component", "batches").
		Str("tenant_id", req.TenantID).
		Int("candidates", candidates).
		Int("enqueued", res.Enqueued).
		Int("skipped", res.Skipped).
		Msg("reminder batch")
	return res, nil
}

// RunReengagement enqueues one job per inactive client. Clients that already
// have a job in the campaign are not listed; paging works as in RunReminders.
func (b *Batches) RunReengagement(ctx context.Context, req ReengagementBatch) (BatchResult, error) {
	ctx, span := otel.Tracer("services/Batches").Start(ctx, "RunReengagement",
		trace.WithAttributes(attribute.String("tenant.id", req.TenantID)),
	)
	defer span.End()

	now := b.now()
	res := BatchResult{CampaignID: req.CampaignID}
	if res.CampaignID == "" {
		res.CampaignID = now.Format("2006-01")
	}
	policies := &policyCache{svc: b.Policies, m: map[string]*domain.AgentPolicy{}}

	// Without an explicit day count the scan starts from the smallest
	// possible threshold and each tenant's own threshold filters below.
	days := req.Days
	if days <= 0 {
		days = 1
		if req.TenantID != "" {
			p, err := policies.get(ctx, req.TenantID)
			if err != nil {
				return res, err
			}
			days = p.ReengagementDays
		}
	}
	limit := clampLimit(req.Limit)
	q := repo.InactiveClientsQuery{
		TenantID:  req.TenantID,
		Cutoff:    now.AddDate(0, 0, -days),
		JobPrefix: ReengagementJobID(res.CampaignID, ""),
		Limit:     limit,
	}

	candidates := 0
	for res.Enqueued < limit {
		clients, err := repo.ListInactiveClients(ctx, b.DB, q)
		if err != nil {
			return res, fmt.Errorf("list inactive clients: %w", err)
		}
		candidates += len(clients)
		for _, c := range clients {
			if res.Enqueued == limit {
				break
			}
			p, err := policies.get(ctx, c.TenantID)
			if err != nil {
				return res, err
			}
			if !p.Enabled || p.InQuietHours(now) {
				res.Skipped++
				continue
			}
			if req.Days <= 0 && c.LastVisitAt.After(now.AddDate(0, 0, -p.ReengagementDays)) {
				res.Skipped++
				continue
			}
			_, created, err := b.Queue.Enqueue(ctx, queue.Reengagement, ReengagementJobID(res.CampaignID, c.ID), ReengagementJob{
				TenantID:   c.TenantID,
				ClientID:   c.ID,
				CampaignID: res.CampaignID,
			})
			if err != nil {
				return res, fmt.Errorf("enqueue re-engagement %s: %w", c.ID, err)
			}
			if created {
				res.Enqueued++
			} else {
				res.Skipped++
			}
		}
		if len(clients) < q.Limit {
			break
		}
		last := clients[len(clients)-1]
		q.After = &repo.Cursor{At: *last.LastVisitAt, ID: last.ID}
	}
	b.Log.Info().
		Str("component", "batches").
		Str("tenant_id", req.TenantID).
		Str("campaign_id", res.CampaignID).
		Int("candidates", candidates).
		Int("enqueued", res.Enqueued).
		Int("skipped", res.Skipped).
		Msg("re-engagement batch")
	return res, nil
}
