// Package handlers exposes the agent's HTTP endpoints: provider webhooks,
// batch triggers, the synchronous send, and operator views over the
// dead-letter queue and quotas.
//
// Handlers validate and translate; every decision lives in the services.
package handlers

import (
	"context"

	"github.com/tbourn/go-reminder-agent/internal/dlq"
	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/quota"
	"github.com/tbourn/go-reminder-agent/internal/services"
)

// WebhookService handles inbound messages and delivery callbacks.
type WebhookService interface {
	Inbound(ctx context.Context, in services.InboundInput) (*services.InboundResult, error)
	Status(ctx context.Context, in services.StatusInput) (bool, error)
}

// BatchService enqueues scheduled work.
type BatchService interface {
	RunReminders(ctx context.Context, req services.ReminderBatch) (services.BatchResult, error)
	RunReengagement(ctx context.Context, req services.ReengagementBatch) (services.BatchResult, error)
}

// SendService runs one send inline.
type SendService interface {
	SendNow(ctx context.Context, in services.SendNowInput) (*services.SendResult, error)
}

// DeadLetterService inspects and replays exhausted jobs.
type DeadLetterService interface {
	Stats(ctx context.Context) (map[string]dlq.QueueStats, error)
	Retry(ctx context.Context, queue, jobID string) (*domain.DeadLetter, error)
}

// QuotaService reports per-tenant consumption.
type QuotaService interface {
	Usage(ctx context.Context, tenantID string) (quota.Usage, error)
	CanSend(ctx context.Context, tenantID string) (quota.Decision, error)
}

// Handlers groups the endpoints. VerifyToken is the shared secret of the
// provider subscription handshake.
type Handlers struct {
	webhooks    WebhookService
	batches     BatchService
	sender      SendService
	deadLetters DeadLetterService
	quotas      QuotaService
	verifyToken string
}

// New binds handlers to their services.
func New(webhooks WebhookService, batches BatchService, sender SendService, deadLetters DeadLetterService, quotas QuotaService, verifyToken string) *Handlers {
	return &Handlers{
		webhooks:    webhooks,
		batches:     batches,
		sender:      sender,
		deadLetters: deadLetters,
		quotas:      quotas,
		verifyToken: verifyToken,
	}
}
