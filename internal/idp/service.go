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

package idp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/audit"
)

// Domain errors
var (
	ErrProviderNotFound = errors.New("identity provider not found")
)

// Service manages per-tenant external identity provider configurations.
type Service struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewService creates a new identity provider registry service
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// Create registers a new provider config for a tenant. The config must pass
// its type's mandatory-field validation or nothing is persisted. New
// providers start inactive; activation is a separate, explicit step so a
// half-configured provider can never accept logins.
func (s *Service) Create(ctx context.Context, tenantID string, pt ProviderType, fields map[string]string, actorID string) (*Provider, error) {
	cfg, err := ParseConfig(pt, fields)
	if err != nil {
		return nil, err
	}

	// One config per (tenant, type). A second one is a caller error.
	if existing, err := s.repo.GetByTenantAndType(ctx, tenantID, pt); err == nil && existing != nil {
		return nil, apperr.Newf(apperr.CodeConflict, "provider %s already configured for tenant", pt)
	}

	now := time.Now()
	provider := &Provider{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Type:      pt,
		Config:    cfg,
		IsActive:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, provider); err != nil {
		return nil, fmt.Errorf("failed to create identity provider: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeProviderCreated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: provider.ID,
		Metadata: map[string]any{audit.AttrProviderType: string(pt)},
	})

	return provider, nil
}

// Update replaces a provider's config. Validation failures leave the stored
// config untouched.
func (s *Service) Update(ctx context.Context, providerID string, fields map[string]string, actorID string) (*Provider, error) {
	provider, err := s.repo.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig(provider.Type, fields)
	if err != nil {
		return nil, err
	}

	provider.Config = cfg
	provider.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, provider); err != nil {
		return nil, fmt.Errorf("failed to update identity provider: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeProviderUpdated,
		TenantID: provider.TenantID,
		ActorID:  actorID,
		Resource: provider.ID,
		Metadata: map[string]any{audit.AttrProviderType: string(provider.Type)},
	})

	return provider, nil
}

// SetActive activates or deactivates a provider. Deactivation does not
// revoke sessions already minted through it; those run to their own expiry.
func (s *Service) SetActive(ctx context.Context, providerID string, active bool, actorID string) (*Provider, error) {
	provider, err := s.repo.GetByID(ctx, providerID)
	if err != nil {
		return nil, err
	}

	provider.IsActive = active
	provider.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, provider); err != nil {
		return nil, fmt.Errorf("failed to update identity provider: %w", err)
	}

	eventType := audit.TypeProviderDeactivated
	if active {
		eventType = audit.TypeProviderActivated
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		TenantID: provider.TenantID,
		ActorID:  actorID,
		Resource: provider.ID,
		Metadata: map[string]any{audit.AttrProviderType: string(provider.Type)},
	})

	return provider, nil
}

// Delete removes a provider config. Any JWKS cache entry keyed by its
// jwks uri becomes orphaned and is evicted lazily by the verifier on its
// next lookup failure; nothing here needs to touch the cache.
func (s *Service) Delete(ctx context.Context, providerID string, actorID string) error {
	provider, err := s.repo.GetByID(ctx, providerID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, providerID); err != nil {
		return fmt.Errorf("failed to delete identity provider: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeProviderDeleted,
		TenantID: provider.TenantID,
		ActorID:  actorID,
		Resource: provider.ID,
		Metadata: map[string]any{audit.AttrProviderType: string(provider.Type)},
	})

	return nil
}

// Get retrieves a provider by ID
func (s *Service) Get(ctx context.Context, providerID string) (*Provider, error) {
	return s.repo.GetByID(ctx, providerID)
}

// List retrieves all providers configured for a tenant, active or not.
func (s *Service) List(ctx context.Context, tenantID string) ([]*Provider, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// ListActive retrieves only the providers that participate in login.
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]*Provider, error) {
	return s.repo.ListActiveByTenant(ctx, tenantID)
}

// ActiveByType resolves the tenant's active provider of the given type.
// Used by the external token verifier. A provider that was never configured
// is PROVIDER_NOT_CONFIGURED; one that exists but is switched off is
// PROVIDER_INACTIVE. Neither falls back to another strategy.
func (s *Service) ActiveByType(ctx context.Context, tenantID string, pt ProviderType) (*Provider, error) {
	provider, err := s.repo.GetByTenantAndType(ctx, tenantID, pt)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, apperr.Newf(apperr.CodeProviderNotConfigured, "no %s provider configured for tenant", pt)
		}
		return nil, err
	}
	if !provider.IsActive {
		return nil, apperr.Newf(apperr.CodeProviderInactive, "provider %s is not active", pt)
	}
	return provider, nil
}
