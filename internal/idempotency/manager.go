package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/observability"
	"github.com/tbourn/go-reminder-agent/internal/repo"
	"github.com/tbourn/go-reminder-agent/internal/utils"
)

// Defaults.
const (
	DefaultTTL             = 24 * time.Hour
	DefaultHeuristicWindow = 5 * time.Minute
)

// Result is what a deduplicated action produced the first time.
type Result struct {
	EntryID           string    `json:"entry_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	Intent            string    `json:"intent,omitempty"`
	Error             string    `json:"error,omitempty"`
	At                time.Time `json:"at"`
}

// Check is the outcome of a duplicate lookup.
type Check struct {
	IsDuplicate bool
	Existing    *Result
}

// WebhookInput identifies an inbound delivery for deduplication.
// MessageID is the provider's id for the message, when it sends one.
type WebhookInput struct {
	TenantID  string
	Channel   string
	Source    string // sender, e.g. client id or phone number
	Text      string
	MessageID string
}

// Store is the authoritative lookup behind the cache.
type Store interface {
	FindByKey(ctx context.Context, key string) (*domain.MessageLogEntry, error)
	RecentInbound(ctx context.Context, tenantID, channel string, since time.Time) ([]domain.MessageLogEntry, error)
}

// GormStore reads the message log through the repo layer.
type GormStore struct{ DB *gorm.DB }

func (s GormStore) FindByKey(ctx context.Context, key string) (*domain.MessageLogEntry, error) {
	return repo.FindLogByIdempotencyKey(ctx, s.DB, key)
}

func (s GormStore) RecentInbound(ctx context.Context, tenantID, channel string, since time.Time) ([]domain.MessageLogEntry, error) {
	return repo.ListInboundSince(ctx, s.DB, tenantID, channel, since)
}

// Options tunes a Manager. Zero values take the package defaults.
type Options struct {
	TTL             time.Duration
	HeuristicWindow time.Duration
	Now             func() time.Time
	Logger          zerolog.Logger
}

// Manager derives keys and answers "was this already done?".
type Manager struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	window time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

// NewManager builds a Manager. A nil cache disables caching.
func NewManager(store Store, cache Cache, opts Options) *Manager {
	if cache == nil {
		cache = NopCache{}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HeuristicWindow <= 0 {
		opts.HeuristicWindow = DefaultHeuristicWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:  store,
		cache:  cache,
		ttl:    opts.TTL,
		window: opts.HeuristicWindow,
		now:    opts.Now,
		log:    opts.Logger.With().Str("component", "idempotency").Logger(),
	}
}

// DeriveKey returns the deterministic key for in.
func (m *Manager) DeriveKey(in KeyInput) string {
	return deriveKey(in, m.now())
}

// CheckDuplicate consults the cache, then the message log. Cache errors are
// logged and ignored; store errors are returned.
func (m *Manager) CheckDuplicate(ctx context.Context, key string) (Check, error) {
	ctx, span := otel.Tracer("idempotency").Start(ctx, "CheckDuplicate")
	defer span.End()

	if r, ok, err := m.cache.Get(ctx, key); err != nil {
		m.log.Warn().Err(err).Msg("idempotency cache get failed")
	} else if ok {
		span.SetAttributes(attribute.String("idempotency.hit", "cache"))
		return Check{IsDuplicate: true, Existing: &r}, nil
	}

	e, err := m.store.FindByKey(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return Check{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return Check{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	span.SetAttributes(attribute.String("idempotency.hit", "store"))
	r := resultFromEntry(e)
	m.set(ctx, key, r)
	return Check{IsDuplicate: true, Existing: &r}, nil
}

// RecordSuccess caches r under key.
func (m *Manager) RecordSuccess(ctx context.Context, key string, r Result) {
	if r.At.IsZero() {
		r.At = m.now().UTC()
	}
	m.set(ctx, key, r)
}

// RecordFailure caches a failed attempt. Until the entry expires, the same
// key reports as a duplicate carrying the error text.
func (m *Manager) RecordFailure(ctx context.Context, key string, cause error) {
	r := Result{Status: domain.StatusFailed, At: m.now().UTC()}
	if cause != nil {
		r.Error = cause.Error()
	}
	m.set(ctx, key, r)
}

// WebhookKey derives the inbound key of a webhook delivery. A provider
// message id keys the delivery on its own. Without one the key covers the
// normalized text within the current heuristic-window slot, so the same
// short reply sent again later is not mistaken for a redelivery.
func (m *Manager) WebhookKey(in WebhookInput) string {
	ki := KeyInput{
		TenantID: in.TenantID,
		Type:     Inbound,
		Source:   in.Channel + ":" + in.Source,
	}
	if in.MessageID != "" {
		ki.Action = "message:" + in.MessageID
	} else {
		slot := m.now().UTC().Truncate(m.window)
		ki.Action = utils.NormalizeText(in.Text)
		ki.Bucket = &slot
	}
	return m.DeriveKey(ki)
}

// CheckWebhookDuplicate reports whether an inbound delivery was already
// processed, either under its exact key or, for deliveries without a
// provider message id, as an identical message from the same tenant and
// channel within the heuristic window. It returns the key the delivery
// should be recorded under.
func (m *Manager) CheckWebhookDuplicate(ctx context.Context, in WebhookInput) (string, Check, error) {
	key := m.WebhookKey(in)
	chk, err := m.CheckDuplicate(ctx, key)
	if err != nil || chk.IsDuplicate {
		if chk.IsDuplicate {
			observability.DuplicatesSuppressed.WithLabelValues(string(Inbound)).Inc()
		}
		return key, chk, err
	}
	if in.MessageID != "" {
		return key, Check{}, nil
	}

	norm := utils.NormalizeText(in.Text)
	since := m.now().UTC().Add(-m.window)
	recent, err := m.store.RecentInbound(ctx, in.TenantID, in.Channel, since)
	if err != nil {
		return key, Check{}, fmt.Errorf("recent inbound lookup: %w", err)
	}
	for i := range recent {
		if utils.NormalizeText(recent[i].Content) == norm {
			r := resultFromEntry(&recent[i])
			observability.DuplicatesSuppressed.WithLabelValues(string(Inbound)).Inc()
			return key, Check{IsDuplicate: true, Existing: &r}, nil
		}
	}
	return key, Check{}, nil
}

// Sweep drops cache entries older than the TTL.
func (m *Manager) Sweep(ctx context.Context) int {
	n, err := m.cache.Sweep(ctx, m.now().Add(-m.ttl))
	if err != nil {
		m.log.Warn().Err(err).Msg("idempotency sweep failed")
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.log.Debug().Int("removed", n).Msg("idempotency cache swept")
			}
		}
	}
}

func (m *Manager) set(ctx context.Context, key string, r Result) {
	if err := m.cache.Set(ctx, key, r, m.ttl); err != nil {
		m.log.Warn().Err(err).Msg("idempotency cache set failed")
	}
}

func resultFromEntry(e *domain.MessageLogEntry) Result {
	r := Result{
		EntryID: e.ID,
		Status:  e.Status,
		Intent:  e.Intent,
		Error:   e.Error,
		At:      e.CreatedAt,
	}
	if e.ProviderMessageID != nil {
		r.ProviderMessageID = *e.ProviderMessageID
	}
	return r
}
