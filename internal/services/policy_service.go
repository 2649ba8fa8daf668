package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/domain"
	"github.com/tbourn/go-reminder-agent/internal/repo"
)

// PolicyService reads and transitions per-tenant agent policies.
type PolicyService struct {
	DB *gorm.DB

	// DefaultLocale seeds new policies; empty keeps domain.DefaultPolicy's.
	DefaultLocale string
	Log           zerolog.Logger
}

// Get returns the tenant's policy, creating it with defaults on first access.
func (s *PolicyService) Get(ctx context.Context, tenantID string) (*domain.AgentPolicy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	def := domain.DefaultPolicy(tenantID)
	if s.DefaultLocale != "" {
		if loc, err := CanonicalLocale(s.DefaultLocale); err == nil {
			def.Locale = loc
		}
	}
	p, err := repo.GetOrCreatePolicy(ctx, s.DB, def)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return p, nil
}

// Disable turns the agent off for tenantID. It is a no-op on an already
// disabled policy.
func (s *PolicyService) Disable(ctx context.Context, tenantID, reason string) (*domain.AgentPolicy, error) {
	p, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !p.Enabled {
		return p, nil
	}
	if err := repo.SetPolicyEnabled(ctx, s.DB, tenantID, false, reason); err != nil {
		return nil, fmt.Errorf("disable policy: %w", err)
	}
	p.Enabled = false
	p.DisabledReason = reason
	s.Log.Warn().Str("component", "policy").Str("tenant_id", tenantID).Str("reason", reason).Msg("agent disabled")
	return p, nil
}

// CanonicalLocale parses a BCP 47 tag and returns its canonical form.
func CanonicalLocale(s string) (string, error) {
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidLocale, s, err)
	}
	return tag.String(), nil
}

// localeFor picks the client's locale when it is valid, else the policy's.
func localeFor(c *domain.Client, p *domain.AgentPolicy) string {
	if c != nil && c.Locale != "" {
		if loc, err := CanonicalLocale(c.Locale); err == nil {
			return loc
		}
	}
	if loc, err := CanonicalLocale(p.Locale); err == nil {
		return loc
	}
	return ""
}
