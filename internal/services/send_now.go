package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
)

// SendNowInput is a synchronous single send. Either TemplateName or Text
// must be set; Text is composed like a template body. IdempotencyKey, when
// set, replaces the minute-bucketed key with a caller-chosen one.
type SendNowInput struct {
	TenantID       string
	ClientID       string
	AppointmentID  string
	TemplateName   string
	Text           string
	IdempotencyKey string
}

// SendResult is the outcome of a completed send.
type SendResult struct {
	EntryID           string `json:"entry_id"`
	ProviderMessageID string `json:"provider_message_id"`
	Content           string `json:"content"`
}

// SendNow runs the full outbound pipeline inline. Errors are ErrInvalidInput,
// ErrClientNotFound, ErrAppointmentNotFound, ErrNoTemplate, ErrAgentDisabled,
// *QuotaError, *DuplicateError, or ErrProvider.
func (s *Sender) SendNow(ctx context.Context, in SendNowInput) (*SendResult, error) {
	ctx, span := otel.Tracer("services/Sender").Start(ctx, "SendNow",
		trace.WithAttributes(
			attribute.String("tenant.id", in.TenantID),
			attribute.String("client.id", in.ClientID),
		),
	)
	defer span.End()

	in.TenantID = strings.TrimSpace(in.TenantID)
	in.ClientID = strings.TrimSpace(in.ClientID)
	if in.TenantID == "" || in.ClientID == "" {
		return nil, fmt.Errorf("%w: tenant id and client id are required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.TemplateName) == "" && strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: template name or text is required", ErrInvalidInput)
	}

	client, err := s.loadClient(ctx, in.TenantID, in.ClientID)
	if err != nil {
		return nil, err
	}
	var appt *domain.Appointment
	var apptID *string
	if in.AppointmentID != "" {
		if appt, err = s.loadAppointment(ctx, in.TenantID, in.AppointmentID); err != nil {
			return nil, err
		}
		apptID = &appt.ID
	}

	policy, err := s.Policies.Get(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled {
		return nil, ErrAgentDisabled
	}
	if err := s.checkQuota(ctx, in.TenantID); err != nil {
		return nil, err
	}

	key := s.sendNowKey(in)
	if err := s.checkDuplicate(ctx, key); err != nil {
		return nil, err
	}

	locale := localeFor(client, policy)
	o := &outbound{
		tenantID:      in.TenantID,
		client:        client,
		appointmentID: apptID,
		locale:        locale,
		vars:          messageVars(client, appt),
		key:           key,
	}
	body := in.Text
	o.templateName = "adhoc"
	if strings.TrimSpace(in.TemplateName) != "" {
		tpl, err := s.loadTemplate(ctx, in.TenantID, in.TemplateName, locale)
		if err != nil {
			return nil, err
		}
		body, o.templateName = tpl.Body, tpl.Name
	}
	if o.content, err = s.Composer.Compose(ctx, body, o.vars); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	e, err := s.deliver(ctx, o)
	if err != nil {
		if errors.Is(err, ErrProvider) {
			s.Idempotency.RecordFailure(ctx, key, err)
		}
		return nil, err
	}
	return &SendResult{EntryID: e.ID, ProviderMessageID: *e.ProviderMessageID, Content: e.Content}, nil
}

func (s *Sender) sendNowKey(in SendNowInput) string {
	if in.IdempotencyKey != "" {
		return s.Idempotency.DeriveKey(idempotency.KeyInput{
			TenantID: in.TenantID,
			Type:     idempotency.Outbound,
			Source:   in.ClientID,
			Action:   "send-now:" + in.IdempotencyKey,
			NoBucket: true,
		})
	}
	action := "send-now:" + in.TemplateName + ":" + in.AppointmentID
	if in.TemplateName == "" {
		action += ":" + in.Text
	}
	return s.Idempotency.DeriveKey(idempotency.KeyInput{
		TenantID: in.TenantID,
		Type:     idempotency.Outbound,
		Source:   in.ClientID,
		Action:   action,
	})
}
