package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-reminder-agent/internal/queue"
)

// ProviderMessage is one outbound message handed to the provider.
type ProviderMessage struct {
	TenantID       string `json:"tenant_id"`
	Channel        string `json:"channel"`
	To             string `json:"to"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Receipt is the provider's acknowledgement of a send.
type Receipt struct {
	MessageID string
}

// Provider delivers messages over the chat channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, m ProviderMessage) (Receipt, error)
}

// Transport defaults for the provider client.
const (
	DefaultProviderTimeout     = 15 * time.Second
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
)

// NewProviderTransport returns a pooled transport tuned for a single
// upstream host.
func NewProviderTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// HTTPProvider posts messages as JSON to BaseURL + "/messages" and expects
// {"messageId": "..."} back.
type HTTPProvider struct {
	ProviderName string
	BaseURL      string
	Token        string
	Client       *http.Client
}

// NewHTTPProvider builds an HTTPProvider with a tuned client.
func NewHTTPProvider(name, baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &HTTPProvider{
		ProviderName: name,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Token:        token,
		Client:       &http.Client{Transport: NewProviderTransport(), Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return p.ProviderName }

type providerResponse struct {
	MessageID string `json:"messageId"`
}

// Send delivers m. A 4xx answer other than 408 and 429 is permanent:
// retrying the same request cannot succeed.
func (p *HTTPProvider) Send(ctx context.Context, m ProviderMessage) (Receipt, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Receipt{}, queue.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Receipt{}, queue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	if m.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", m.IdempotencyKey)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return Receipt{}, queue.Permanent(err)
		}
		return Receipt{}, err
	}

	var out providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Receipt{}, fmt.Errorf("decode provider response: %w", err)
	}
	if out.MessageID == "" {
		return Receipt{}, fmt.Errorf("provider response without messageId")
	}
	return Receipt{MessageID: out.MessageID}, nil
}

// DryRunProvider logs messages instead of sending them.
type DryRunProvider struct {
	Log zerolog.Logger
}

func (DryRunProvider) Name() string { return "dry-run" }

func (p DryRunProvider) Send(_ context.Context, m ProviderMessage) (Receipt, error) {
	id := "dry-" + uuid.NewString()
	p.Log.Info().
		Str("tenant_id", m.TenantID).
		Str("channel", m.Channel).
		Str("to", m.To).
		Str("provider_message_id", id).
		Int("content_len", len(m.Content)).
		Msg("dry-run send")
	return Receipt{MessageID: id}, nil
}
