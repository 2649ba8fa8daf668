package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/intent"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// MaxInboundRunes bounds the stored text of an inbound message.
const MaxInboundRunes = 4096

// Webhooks processes inbound messages and delivery status callbacks.
type Webhooks struct {
	DB          *gorm.DB
	Idempotency *idempotency.Manager
	Policies    *PolicyService
	Now         func() time.Time
	Log         zerolog.Logger
}

// InboundInput is a message received from a client. The client resolves by
// ClientID, or by From (phone number) within the tenant. MessageID is the
// provider's id for the message, if any.
type InboundInput struct {
	Channel   string
	TenantID  string
	ClientID  string
	From      string
	Text      string
	MessageID string
}

// InboundResult is what processing an inbound message produced.
type InboundResult struct {
	EntryID string        `json:"entry_id"`
	Intent  intent.Intent `json:"intent"`
	Action  intent.Action `json:"action"`
}

// StatusInput is a provider delivery callback. A zero Timestamp means now.
type StatusInput struct {
	ProviderMessageID string
	Event             string
	Timestamp         time.Time
}

func (w *Webhooks) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

func (w *Webhooks) logger() zerolog.Logger {
	return w.Log.With().Str("component", "webhooks").Logger()
}

// Inbound deduplicates, classifies and records an inbound message, applying
// the policy action of its intent. A duplicate returns *DuplicateError with
// the first delivery's result.
func (w *Webhooks) Inbound(ctx context.Context, in InboundInput) (*InboundResult, error) {
	ctx, span := otel.Tracer("services/Webhooks").Start(ctx, "Inbound",
		trace.WithAttributes(
			attribute.String("tenant.id", in.TenantID),
			attribute.String("channel", in.Channel),
		),
	)
	defer span.End()

	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Text = strings.TrimSpace(in.Text)
	if in.Channel == "" {
		in.Channel = domain.ChannelWhatsApp
	}
	if in.TenantID == "" || in.Text == "" || (in.ClientID == "" && in.From == "") {
		return nil, fmt.Errorf("%w: tenantId, text and clientId or fromAddress are required", ErrInvalidInput)
	}
	if r := []rune(in.Text); len(r) > MaxInboundRunes {
		in.Text = string(r[:MaxInboundRunes])
	}

	client, err := w.resolveClient(ctx, in)
	if err != nil {
		return nil, err
	}

	key, chk, err := w.Idempotency.CheckWebhookDuplicate(ctx, idempotency.WebhookInput{
		TenantID:  in.TenantID,
		Channel:   in.Channel,
		Source:    client.ID,
		Text:      in.Text,
		MessageID: in.MessageID,
	})
	if err != nil {
		return nil, err
	}
	if chk.IsDuplicate {
		return nil, &DuplicateError{Existing: chk.Existing}
	}

	detected := intent.Classify(in.Text)
	action := intent.ActionFor(detected)
	span.SetAttributes(attribute.String("intent", string(detected)))
	log := w.logger().With().
		Str("tenant_id", in.TenantID).
		Str("client_id", client.ID).
		Str("intent", string(detected)).
		Logger()

	switch action {
	case intent.DisableAgent:
		if _, err := w.Policies.Disable(ctx, in.TenantID, "opt_out:"+client.ID); err != nil {
			return nil, err
		}
	case intent.RequestRebook:
		log.Info().Msg("client asked to rebook")
	}

	now := w.now()
	e := &domain.MessageLogEntry{
		ID:             uuid.NewString(),
		TenantID:       in.TenantID,
		ClientID:       client.ID,
		Channel:        in.Channel,
		Status:         domain.StatusDelivered,
		TemplateName:   domain.InboundTemplate,
		Content:        in.Text,
		IdempotencyKey: &key,
		Intent:         string(detected),
		DeliveredAt:    &now,
		CreatedAt:      now,
	}
	if err := repo.CreateLogEntry(ctx, w.DB, e); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			chk, cerr := w.Idempotency.CheckDuplicate(ctx, key)
			if cerr != nil {
				return nil, cerr
			}
			return nil, &DuplicateError{Existing: chk.Existing}
		}
		return nil, fmt.Errorf("write inbound log: %w", err)
	}
	w.Idempotency.RecordSuccess(ctx, key, idempotency.Result{
		EntryID: e.ID,
		Status:  e.Status,
		Intent:  e.Intent,
		At:      now,
	})
	log.Info().Str("entry_id", e.ID).Str("action", string(action)).Msg("inbound message processed")
	return &InboundResult{EntryID: e.ID, Intent: detected, Action: action}, nil
}

func (w *Webhooks) resolveClient(ctx context.Context, in InboundInput) (*domain.Client, error) {
	var (
		c   *domain.Client
		err error
	)
	if in.ClientID != "" {
		c, err = repo.GetClient(ctx, w.DB, in.TenantID, in.ClientID)
	} else {
		c, err = repo.FindClientByPhone(ctx, w.DB, in.TenantID, in.From)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve client: %w", err)
	}
	return c, nil
}

// Status applies a delivery callback to the matching log entry. Statuses
// never regress; it reports whether the entry changed.
func (w *Webhooks) Status(ctx context.Context, in StatusInput) (bool, error) {
	ctx, span := otel.Tracer("services/Webhooks").Start(ctx, "Status",
		trace.WithAttributes(attribute.String("provider_message_id", in.ProviderMessageID)),
	)
	defer span.End()

	in.ProviderMessageID = strings.TrimSpace(in.ProviderMessageID)
	in.Event = strings.ToLower(strings.TrimSpace(in.Event))
	if in.ProviderMessageID == "" || !domain.ValidStatus(in.Event) {
		return false, fmt.Errorf("%w: providerMessageId and a valid event are required", ErrInvalidInput)
	}

	e, err := repo.FindLogByProviderMessageID(ctx, w.DB, in.ProviderMessageID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, ErrLogEntryNotFound
	}
	if err != nil {
		return false, fmt.Errorf("find log entry: %w", err)
	}

	at := in.Timestamp
	if at.IsZero() {
		at = w.now()
	}
	if !e.ApplyStatus(in.Event, at.UTC()) {
		return false, nil
	}
	if err := repo.SaveLogStatus(ctx, w.DB, e); err != nil {
		return false, fmt.Errorf("save status: %w", err)
	}
	log := w.logger()
	log.Debug().
		Str("entry_id", e.ID).
		Str("provider_message_id", in.ProviderMessageID).
		Str("status", e.Status).
		Msg("delivery status applied")
	return true, nil
}
