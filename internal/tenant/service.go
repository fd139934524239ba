// Copyright 2026 The Gatehouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/idp"
)

// ProviderSource exposes the identity provider registry to the resolver. The
// full list is consulted only to tell a deactivated provider apart from one
// that was never configured.
type ProviderSource interface {
	List(ctx context.Context, tenantID string) ([]*idp.Provider, error)
	ListActive(ctx context.Context, tenantID string) ([]*idp.Provider, error)
}

// StrategyInfo is the resolved authentication posture of a tenant: the
// configured strategy plus the providers that may actually take part in a
// login right now.
type StrategyInfo struct {
	Tenant          *Tenant
	AuthStrategy    AuthStrategy
	ActiveProviders []*idp.Provider
}

// HasProvider reports whether an active provider of the given type exists.
func (si *StrategyInfo) HasProvider(pt idp.ProviderType) bool {
	for _, p := range si.ActiveProviders {
		if p.Type == pt {
			return true
		}
	}
	return false
}

// Service provides tenant management and auth-strategy resolution.
type Service struct {
	repo        Repository
	providers   ProviderSource
	auditLogger audit.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, providers ProviderSource, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		providers:   providers,
		auditLogger: auditLogger,
	}
}

// ResolveStrategy looks up a tenant by identifier (tenant id, corporate
// email domain, or a full email address) and returns its authentication
// posture.
//
// A strategy naming a specific external provider with no active provider of
// that type fails PROVIDER_NOT_CONFIGURED. It never falls back to password
// login: silent fallback would quietly weaken a security posture the tenant
// chose on purpose.
func (s *Service) ResolveStrategy(ctx context.Context, identifier string) (*StrategyInfo, error) {
	t, err := s.lookup(ctx, identifier)
	if err != nil {
		return nil, err
	}

	active, err := s.providers.ListActive(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}

	info := &StrategyInfo{
		Tenant:       t,
		AuthStrategy: t.AuthStrategy,
	}

	switch {
	case t.AuthStrategy == StrategyTraditional:
		// Password only; active providers are irrelevant.

	case t.AuthStrategy.External():
		pt := idp.ProviderType(t.AuthStrategy)
		var match *idp.Provider
		for _, p := range active {
			if p.Type == pt {
				match = p
				break
			}
		}
		if match == nil {
			return nil, s.providerUnavailable(ctx, t.ID, pt)
		}
		info.ActiveProviders = []*idp.Provider{match}

	case t.AuthStrategy == StrategyHybrid:
		// Both password login and every active provider are viable; the
		// caller picks based on the login payload shape.
		info.ActiveProviders = active

	default:
		return nil, fmt.Errorf("tenant %s has unknown auth strategy %q", t.ID, t.AuthStrategy)
	}

	return info, nil
}

// providerUnavailable classifies why the strategy's provider cannot take a
// login: configured-but-deactivated is PROVIDER_INACTIVE, never-configured is
// PROVIDER_NOT_CONFIGURED.
func (s *Service) providerUnavailable(ctx context.Context, tenantID string, pt idp.ProviderType) error {
	all, err := s.providers.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}
	for _, p := range all {
		if p.Type == pt {
			return apperr.Newf(apperr.CodeProviderInactive, "tenant %s requires %s but the provider is deactivated", tenantID, pt)
		}
	}
	return apperr.Newf(apperr.CodeProviderNotConfigured, "tenant %s requires %s but no provider of that type is configured", tenantID, pt)
}

func (s *Service) lookup(ctx context.Context, identifier string) (*Tenant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperr.New(apperr.CodeTenantNotFound, "empty tenant identifier")
	}

	// Full email → corporate domain.
	if at := strings.LastIndexByte(identifier, '@'); at >= 0 {
		identifier = identifier[at+1:]
	}

	if t, err := s.repo.GetByID(ctx, identifier); err == nil {
		return t, nil
	}
	t, err := s.repo.GetByEmailDomain(ctx, strings.ToLower(identifier))
	if err != nil {
		return nil, apperr.Newf(apperr.CodeTenantNotFound, "no tenant for identifier %q", identifier)
	}
	return t, nil
}

// CreateTenant creates a new tenant. New tenants start on traditional auth
// with auto-provisioning off.
func (s *Service) CreateTenant(ctx context.Context, name, emailDomain string, actorID string) (*Tenant, error) {
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	if emailDomain == "" {
		return nil, fmt.Errorf("tenant email domain is required")
	}

	if _, err := s.repo.GetByEmailDomain(ctx, strings.ToLower(emailDomain)); err == nil {
		return nil, apperr.Newf(apperr.CodeConflict, "tenant with email domain %s already exists", emailDomain)
	}

	now := time.Now()
	t := &Tenant{
		ID:           uuid.NewString(),
		Name:         name,
		EmailDomain:  strings.ToLower(emailDomain),
		AuthStrategy: StrategyTraditional,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	return t, nil
}

// SetStrategy changes the tenant's auth strategy. Switching to a specific
// external provider requires an active provider of that type already
// configured, so the tenant is never locked out at save time.
func (s *Service) SetStrategy(ctx context.Context, tenantID string, strategy AuthStrategy, actorID string) (*Tenant, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("invalid auth strategy: %s", strategy)
	}

	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, apperr.Newf(apperr.CodeTenantNotFound, "no tenant %s", tenantID)
	}

	if strategy.External() {
		active, err := s.providers.ListActive(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to list active providers: %w", err)
		}
		found := false
		for _, p := range active {
			if p.Type == idp.ProviderType(strategy) {
				found = true
				break
			}
		}
		if !found {
			return nil, apperr.Newf(apperr.CodeProviderNotConfigured, "cannot switch to %s: no active provider of that type", strategy)
		}
	}

	t.AuthStrategy = strategy
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	return t, nil
}

// SetAutoProvision toggles auto-provisioning of unknown external subjects.
func (s *Service) SetAutoProvision(ctx context.Context, tenantID string, enabled bool) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, apperr.Newf(apperr.CodeTenantNotFound, "no tenant %s", tenantID)
	}
	t.AutoProvision = enabled
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	return t, nil
}

// Deactivate freezes logins for the tenant. Data is preserved.
func (s *Service) Deactivate(ctx context.Context, tenantID string, actorID string) error {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return apperr.Newf(apperr.CodeTenantNotFound, "no tenant %s", tenantID)
	}
	t.Status = StatusInactive
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return fmt.Errorf("failed to deactivate tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserDeactivated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: "tenant",
	})
	return nil
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Newf(apperr.CodeTenantNotFound, "no tenant %s", id)
	}
	return t, nil
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.repo.List(ctx, limit, offset)
}
