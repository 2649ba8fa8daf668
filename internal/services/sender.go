package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/observability"
	"github.com/tbourn/go-reminder-agent/internal/quota"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// Sender runs the outbound pipeline shared by queued jobs and send-now:
// policy gate, quota gate, idempotency gate, composition, provider call and
// message log write.
type Sender struct {
	DB          *gorm.DB
	Idempotency *idempotency.Manager
	Quota       *quota.Manager
	Policies    *PolicyService
	Composer    Composer
	Provider    Provider
	Channel     string
	Now         func() time.Time
	Log         zerolog.Logger
}

func (s *Sender) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Sender) channel() string {
	if s.Channel == "" {
		return domain.ChannelWhatsApp
	}
	return s.Channel
}

func (s *Sender) logger() zerolog.Logger {
	return s.Log.With().Str("component", "sender").Logger()
}

// outbound is a composed message ready for delivery.
type outbound struct {
	tenantID      string
	client        *domain.Client
	appointmentID *string
	templateName  string
	locale        string
	content       string
	vars          map[string]string
	key           string
}

// deliver calls the provider and records the send. A provider failure is
// logged as a failed entry without idempotency key and returned wrapped in
// ErrProvider. A unique-key conflict on the log write returns a
// DuplicateError.
func (s *Sender) deliver(ctx context.Context, o *outbound) (*domain.MessageLogEntry, error) {
	ctx, span := otel.Tracer("services/Sender").Start(ctx, "deliver",
		trace.WithAttributes(
			attribute.String("tenant.id", o.tenantID),
			attribute.String("client.id", o.client.ID),
			attribute.String("template", o.templateName),
		),
	)
	defer span.End()

	log := s.logger()
	rcpt, err := s.Provider.Send(ctx, ProviderMessage{
		TenantID:       o.tenantID,
		Channel:        s.channel(),
		To:             o.client.Phone,
		Content:        o.content,
		IdempotencyKey: o.key,
	})
	if err != nil {
		span.RecordError(err)
		s.logFailed(ctx, o, err)
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	now := s.now()
	pmid := rcpt.MessageID
	key := o.key
	e := &domain.MessageLogEntry{
		ID:                uuid.NewString(),
		TenantID:          o.tenantID,
		ClientID:          o.client.ID,
		AppointmentID:     o.appointmentID,
		Channel:           s.channel(),
		Status:            domain.StatusSent,
		TemplateName:      o.templateName,
		Locale:            o.locale,
		Content:           o.content,
		Variables:         datatypes.JSONMap(jsonVars(o.vars)),
		Provider:          s.Provider.Name(),
		ProviderMessageID: &pmid,
		IdempotencyKey:    &key,
		SentAt:            &now,
		CreatedAt:         now,
	}
	if err := repo.CreateLogEntry(ctx, s.DB, e); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// another worker logged the same action between our check and write
			log.Warn().Str("tenant_id", o.tenantID).Str("provider_message_id", pmid).Msg("send raced a duplicate")
			return nil, s.duplicateOf(ctx, o.key)
		}
		return nil, fmt.Errorf("write message log: %w", err)
	}
	s.Idempotency.RecordSuccess(ctx, o.key, idempotency.Result{
		EntryID:           e.ID,
		ProviderMessageID: pmid,
		Status:            e.Status,
		At:                now,
	})
	log.Info().
		Str("tenant_id", o.tenantID).
		Str("client_id", o.client.ID).
		Str("template", o.templateName).
		Str("entry_id", e.ID).
		Str("provider_message_id", pmid).
		Msg("message sent")
	return e, nil
}

func (s *Sender) logFailed(ctx context.Context, o *outbound, cause error) {
	e := &domain.MessageLogEntry{
		TenantID:      o.tenantID,
		ClientID:      o.client.ID,
		AppointmentID: o.appointmentID,
		Channel:       s.channel(),
		Status:        domain.StatusFailed,
		TemplateName:  o.templateName,
		Locale:        o.locale,
		Content:       o.content,
		Variables:     datatypes.JSONMap(jsonVars(o.vars)),
		Provider:      s.Provider.Name(),
		Error:         cause.Error(),
		CreatedAt:     s.now(),
	}
	if err := repo.CreateLogEntry(ctx, s.DB, e); err != nil {
		log := s.logger()
		log.Error().Err(err).Str("tenant_id", o.tenantID).Msg("write failed send to log")
	}
}

// duplicateOf builds a DuplicateError from the entry stored under key.
func (s *Sender) duplicateOf(ctx context.Context, key string) error {
	chk, err := s.Idempotency.CheckDuplicate(ctx, key)
	if err != nil {
		return err
	}
	observability.DuplicatesSuppressed.WithLabelValues(string(idempotency.Outbound)).Inc()
	return &DuplicateError{Existing: chk.Existing}
}

// checkDuplicate returns a DuplicateError when key was already used.
func (s *Sender) checkDuplicate(ctx context.Context, key string) error {
	chk, err := s.Idempotency.CheckDuplicate(ctx, key)
	if err != nil {
		return err
	}
	if chk.IsDuplicate {
		observability.DuplicatesSuppressed.WithLabelValues(string(idempotency.Outbound)).Inc()
		return &DuplicateError{Existing: chk.Existing}
	}
	return nil
}

// checkQuota returns a QuotaError when the tenant may not send.
func (s *Sender) checkQuota(ctx context.Context, tenantID string) error {
	d, err := s.Quota.CanSend(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if !d.Allowed {
		return &QuotaError{Decision: d}
	}
	return nil
}

func (s *Sender) loadClient(ctx context.Context, tenantID, clientID string) (*domain.Client, error) {
	c, err := repo.GetClient(ctx, s.DB, tenantID, clientID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	return c, nil
}

func (s *Sender) loadAppointment(ctx context.Context, tenantID, id string) (*domain.Appointment, error) {
	a, err := repo.GetAppointment(ctx, s.DB, tenantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return a, nil
}

func (s *Sender) loadTemplate(ctx context.Context, tenantID, name, locale string) (*domain.MessageTemplate, error) {
	t, err := repo.FindTemplate(ctx, s.DB, tenantID, name, locale)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoTemplate
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return t, nil
}
