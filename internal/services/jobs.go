package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/queue"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// ReminderJob is the payload of a reminders queue job.
type ReminderJob struct {
	TenantID      string `json:"tenant_id"`
	AppointmentID string `json:"appointment_id"`
}

// ReengagementJob is the payload of a reengagement queue job.
type ReengagementJob struct {
	TenantID   string `json:"tenant_id"`
	ClientID   string `json:"client_id"`
	CampaignID string `json:"campaign_id"`
}

// ReminderJobPrefix starts every reminder job id.
const ReminderJobPrefix = "reminder:"

// ReminderJobID is the deterministic id of the reminder job for an
// appointment; enqueueing it twice is a no-op.
func ReminderJobID(appointmentID string) string { return ReminderJobPrefix + appointmentID }

// ReengagementJobID is the deterministic id of a client's job in a campaign.
func ReengagementJobID(campaignID, clientID string) string {
	return "reengagement:" + campaignID + ":" + clientID
}

// Register attaches the reminder and re-engagement handlers to p. The
// configs' names are forced to the matching queues.
func (s *Sender) Register(p *queue.Pool, reminders, reengagement queue.QueueConfig) {
	reminders.Name = queue.Reminders
	reengagement.Name = queue.Reengagement
	p.Register(reminders, s.HandleReminder)
	p.Register(reengagement, s.HandleReengagement)
}

// HandleReminder sends the reminder of one appointment. Missing records, an
// already set reminder marker, a disabled agent, a missing template and a
// quota refusal complete the job without sending. Provider failures are
// returned so that the queue retries them.
func (s *Sender) HandleReminder(ctx context.Context, job *domain.Job) error {
	var p ReminderJob
	if err := queue.Decode(job, &p); err != nil {
		return queue.Permanent(err)
	}
	ctx, span := otel.Tracer("services/Sender").Start(ctx, "HandleReminder")
	span.SetAttributes(attribute.String("tenant.id", p.TenantID), attribute.String("appointment.id", p.AppointmentID))
	defer span.End()

	log := s.logger().With().
		Str("job_id", job.ID).
		Str("tenant_id", p.TenantID).
		Str("appointment_id", p.AppointmentID).
		Logger()

	appt, err := s.loadAppointment(ctx, p.TenantID, p.AppointmentID)
	if errors.Is(err, ErrNotFound) {
		log.Info().Msg("reminder skipped: appointment not found")
		return nil
	}
	if err != nil {
		return err
	}
	if appt.ReminderSentAt != nil {
		log.Debug().Msg("reminder skipped: already sent")
		return nil
	}
	if appt.Status != domain.AppointmentScheduled {
		log.Info().Str("status", appt.Status).Msg("reminder skipped: appointment not scheduled")
		return nil
	}
	client, err := s.loadClient(ctx, p.TenantID, appt.ClientID)
	if errors.Is(err, ErrNotFound) {
		log.Info().Str("client_id", appt.ClientID).Msg("reminder skipped: client not found")
		return nil
	}
	if err != nil {
		return err
	}

	key := s.Idempotency.DeriveKey(idempotency.KeyInput{
		TenantID: p.TenantID,
		Type:     idempotency.Outbound,
		Source:   client.ID,
		Action:   "reminder:" + appt.ID + ":" + domain.TemplateReminder,
		NoBucket: true,
	})
	apptID := appt.ID
	err = s.sendJob(ctx, log, &outbound{
		tenantID:      p.TenantID,
		client:        client,
		appointmentID: &apptID,
		templateName:  domain.TemplateReminder,
		vars:          messageVars(client, appt),
		key:           key,
	})
	var dup *DuplicateError
	switch {
	case errors.As(err, &dup):
		log.Info().Msg("reminder already sent, setting marker")
	case errors.Is(err, errSkipped):
		return nil
	case err != nil:
		return err
	}
	if err := repo.MarkReminderSent(ctx, s.DB, p.TenantID, appt.ID, s.now()); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// HandleReengagement sends a campaign message to one inactive client.
func (s *Sender) HandleReengagement(ctx context.Context, job *domain.Job) error {
	var p ReengagementJob
	if err := queue.Decode(job, &p); err != nil {
		return queue.Permanent(err)
	}
	ctx, span := otel.Tracer("services/Sender").Start(ctx, "HandleReengagement")
	span.SetAttributes(attribute.String("tenant.id", p.TenantID), attribute.String("client.id", p.ClientID))
	defer span.End()

	log := s.logger().With().
		Str("job_id", job.ID).
		Str("tenant_id", p.TenantID).
		Str("client_id", p.ClientID).
		Str("campaign_id", p.CampaignID).
		Logger()

	client, err := s.loadClient(ctx, p.TenantID, p.ClientID)
	if errors.Is(err, ErrNotFound) {
		log.Info().Msg("re-engagement skipped: client not found")
		return nil
	}
	if err != nil {
		return err
	}
	key := s.Idempotency.DeriveKey(idempotency.KeyInput{
		TenantID: p.TenantID,
		Type:     idempotency.Outbound,
		Source:   client.ID,
		Action:   "reengagement:" + p.CampaignID + ":" + domain.TemplateReengagement,
		NoBucket: true,
	})
	err = s.sendJob(ctx, log, &outbound{
		tenantID:     p.TenantID,
		client:       client,
		templateName: domain.TemplateReengagement,
		vars:         messageVars(client, nil),
		key:          key,
	})
	var dup *DuplicateError
	if errors.As(err, &dup) {
		log.Info().Msg("re-engagement already sent")
		return nil
	}
	if errors.Is(err, errSkipped) {
		return nil
	}
	return err
}

// errSkipped marks a job that completes without sending.
var errSkipped = errors.New("skipped")

// sendJob runs the gated pipeline for a queued send. Skips are logged and
// returned as errSkipped.
func (s *Sender) sendJob(ctx context.Context, log zerolog.Logger, o *outbound) error {
	policy, err := s.Policies.Get(ctx, o.tenantID)
	if err != nil {
		return err
	}
	if !policy.Enabled {
		log.Info().Msg("send skipped: agent disabled")
		return errSkipped
	}
	o.locale = localeFor(o.client, policy)
	tpl, err := s.loadTemplate(ctx, o.tenantID, o.templateName, o.locale)
	if errors.Is(err, ErrNoTemplate) {
		log.Warn().Str("template", o.templateName).Str("locale", o.locale).Msg("send skipped: no template")
		return errSkipped
	}
	if err != nil {
		return err
	}
	if err := s.checkDuplicate(ctx, o.key); err != nil {
		return err
	}
	if err := s.checkQuota(ctx, o.tenantID); err != nil {
		var qe *QuotaError
		if errors.As(err, &qe) {
			log.Warn().Str("reason", qe.Decision.Reason).Msg("send skipped: quota")
			return errSkipped
		}
		return err
	}
	content, err := s.Composer.Compose(ctx, tpl.Body, o.vars)
	if err != nil {
		return queue.Permanent(err)
	}
	o.content = content
	_, err = s.deliver(ctx, o)
	return err
}
