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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/idp"
)

var errTenantNotFound = errors.New("tenant not found")

type memoryRepository struct {
	tenants map[string]*Tenant
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{tenants: make(map[string]*Tenant)}
}

func (m *memoryRepository) Create(_ context.Context, t *Tenant) error {
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, errTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryRepository) GetByEmailDomain(_ context.Context, domain string) (*Tenant, error) {
	for _, t := range m.tenants {
		if t.EmailDomain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errTenantNotFound
}

func (m *memoryRepository) Update(_ context.Context, t *Tenant) error {
	if _, ok := m.tenants[t.ID]; !ok {
		return errTenantNotFound
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *memoryRepository) List(_ context.Context, limit, offset int) ([]*Tenant, error) {
	var out []*Tenant
	for _, t := range m.tenants {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

type fakeProviderSource struct {
	active   map[string][]*idp.Provider
	inactive map[string][]*idp.Provider
	err      error
}

func (f *fakeProviderSource) List(_ context.Context, tenantID string) ([]*idp.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append(append([]*idp.Provider{}, f.active[tenantID]...), f.inactive[tenantID]...), nil
}

func (f *fakeProviderSource) ListActive(_ context.Context, tenantID string) ([]*idp.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.active[tenantID], nil
}

func seedTenant(repo *memoryRepository, id, domain string, strategy AuthStrategy) *Tenant {
	t := &Tenant{
		ID:           id,
		Name:         "Acme " + id,
		EmailDomain:  domain,
		AuthStrategy: strategy,
		Status:       StatusActive,
	}
	repo.tenants[id] = t
	return t
}

func activeProvider(tenantID string, pt idp.ProviderType) *idp.Provider {
	return &idp.Provider{
		ID:       "prov-" + string(pt),
		TenantID: tenantID,
		Type:     pt,
		IsActive: true,
	}
}

func TestResolveStrategy_Traditional(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyTraditional)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())

	info, err := svc.ResolveStrategy(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, StrategyTraditional, info.AuthStrategy)
	assert.Empty(t, info.ActiveProviders)
	assert.True(t, info.AuthStrategy.AllowsPassword())
}

func TestResolveStrategy_ExternalWithActiveProvider(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyOkta)
	providers := &fakeProviderSource{active: map[string][]*idp.Provider{
		"tenant-a": {
			activeProvider("tenant-a", idp.TypeAzureAD),
			activeProvider("tenant-a", idp.TypeOkta),
		},
	}}
	svc := NewService(repo, providers, audit.NewNopLogger())

	info, err := svc.ResolveStrategy(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, StrategyOkta, info.AuthStrategy)
	// Only the provider matching the configured strategy is offered.
	require.Len(t, info.ActiveProviders, 1)
	assert.Equal(t, idp.TypeOkta, info.ActiveProviders[0].Type)
	assert.False(t, info.AuthStrategy.AllowsPassword())
}

func TestResolveStrategy_ExternalWithoutProviderFailsClosed(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyAzureAD)
	// An active provider of a different type must not satisfy the strategy.
	providers := &fakeProviderSource{active: map[string][]*idp.Provider{
		"tenant-a": {activeProvider("tenant-a", idp.TypeOkta)},
	}}
	svc := NewService(repo, providers, audit.NewNopLogger())

	_, err := svc.ResolveStrategy(context.Background(), "tenant-a")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeProviderNotConfigured, apperr.CodeOf(err))
}

func TestResolveStrategy_ExternalWithDeactivatedProviderFailsInactive(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyAzureAD)
	deactivated := activeProvider("tenant-a", idp.TypeAzureAD)
	deactivated.IsActive = false
	providers := &fakeProviderSource{inactive: map[string][]*idp.Provider{
		"tenant-a": {deactivated},
	}}
	svc := NewService(repo, providers, audit.NewNopLogger())

	// A provider that exists but is switched off is a different failure
	// than one that was never configured.
	_, err := svc.ResolveStrategy(context.Background(), "tenant-a")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeProviderInactive, apperr.CodeOf(err))
}

func TestResolveStrategy_HybridReturnsAllActive(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyHybrid)
	providers := &fakeProviderSource{active: map[string][]*idp.Provider{
		"tenant-a": {
			activeProvider("tenant-a", idp.TypeOkta),
			activeProvider("tenant-a", idp.TypeAuth0),
		},
	}}
	svc := NewService(repo, providers, audit.NewNopLogger())

	info, err := svc.ResolveStrategy(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Len(t, info.ActiveProviders, 2)
	assert.True(t, info.AuthStrategy.AllowsPassword())
	assert.True(t, info.HasProvider(idp.TypeOkta))
	assert.True(t, info.HasProvider(idp.TypeAuth0))
	assert.False(t, info.HasProvider(idp.TypeAzureAD))
}

func TestResolveStrategy_HybridWithNoProvidersStillAllowsPassword(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyHybrid)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())

	info, err := svc.ResolveStrategy(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, info.ActiveProviders)
	assert.True(t, info.AuthStrategy.AllowsPassword())
}

func TestResolveStrategy_IdentifierForms(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyTraditional)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())
	ctx := context.Background()

	tests := []struct {
		name       string
		identifier string
	}{
		{"tenant id", "tenant-a"},
		{"email domain", "acme.com"},
		{"email domain mixed case", "ACME.com"},
		{"full email address", "alice@acme.com"},
		{"padded identifier", "  acme.com  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := svc.ResolveStrategy(ctx, tt.identifier)
			require.NoError(t, err)
			assert.Equal(t, "tenant-a", info.Tenant.ID)
		})
	}
}

func TestResolveStrategy_UnknownIdentifier(t *testing.T) {
	svc := NewService(newMemoryRepository(), &fakeProviderSource{}, audit.NewNopLogger())

	for _, identifier := range []string{"nobody.example", "bob@nobody.example", "", "   "} {
		_, err := svc.ResolveStrategy(context.Background(), identifier)
		require.Error(t, err, "identifier %q", identifier)
		assert.Equal(t, apperr.CodeTenantNotFound, apperr.CodeOf(err))
	}
}

func TestCreateTenant_Defaults(t *testing.T) {
	svc := NewService(newMemoryRepository(), &fakeProviderSource{}, audit.NewNopLogger())

	created, err := svc.CreateTenant(context.Background(), "Acme", "Acme.COM", "admin-1")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "acme.com", created.EmailDomain)
	assert.Equal(t, StrategyTraditional, created.AuthStrategy)
	assert.False(t, created.AutoProvision)
	assert.True(t, created.Active())
}

func TestCreateTenant_DuplicateDomain(t *testing.T) {
	svc := NewService(newMemoryRepository(), &fakeProviderSource{}, audit.NewNopLogger())
	ctx := context.Background()

	_, err := svc.CreateTenant(ctx, "Acme", "acme.com", "admin-1")
	require.NoError(t, err)

	_, err = svc.CreateTenant(ctx, "Acme Again", "ACME.com", "admin-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))
}

func TestSetStrategy_ExternalRequiresActiveProvider(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyTraditional)
	providers := &fakeProviderSource{active: map[string][]*idp.Provider{}}
	svc := NewService(repo, providers, audit.NewNopLogger())
	ctx := context.Background()

	_, err := svc.SetStrategy(ctx, "tenant-a", StrategyOkta, "admin-1")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeProviderNotConfigured, apperr.CodeOf(err))

	// Strategy must be unchanged after the rejected switch.
	stored, err := svc.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, StrategyTraditional, stored.AuthStrategy)

	providers.active["tenant-a"] = []*idp.Provider{activeProvider("tenant-a", idp.TypeOkta)}
	updated, err := svc.SetStrategy(ctx, "tenant-a", StrategyOkta, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StrategyOkta, updated.AuthStrategy)
}

func TestSetStrategy_HybridNeedsNoProvider(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyTraditional)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())

	updated, err := svc.SetStrategy(context.Background(), "tenant-a", StrategyHybrid, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StrategyHybrid, updated.AuthStrategy)
}

func TestSetStrategy_InvalidStrategy(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyTraditional)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())

	_, err := svc.SetStrategy(context.Background(), "tenant-a", AuthStrategy("ldap"), "admin-1")
	assert.Error(t, err)
}

func TestSetAutoProvision(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyHybrid)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())
	ctx := context.Background()

	updated, err := svc.SetAutoProvision(ctx, "tenant-a", true)
	require.NoError(t, err)
	assert.True(t, updated.AutoProvision)

	updated, err = svc.SetAutoProvision(ctx, "tenant-a", false)
	require.NoError(t, err)
	assert.False(t, updated.AutoProvision)

	_, err = svc.SetAutoProvision(ctx, "missing", true)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeTenantNotFound, apperr.CodeOf(err))
}

func TestDeactivate_FreezesLoginsKeepsData(t *testing.T) {
	repo := newMemoryRepository()
	seedTenant(repo, "tenant-a", "acme.com", StrategyTraditional)
	svc := NewService(repo, &fakeProviderSource{}, audit.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, svc.Deactivate(ctx, "tenant-a", "admin-1"))

	stored, err := svc.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.False(t, stored.Active())
	assert.Equal(t, "acme.com", stored.EmailDomain)
}
