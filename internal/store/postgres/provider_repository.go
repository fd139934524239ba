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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse-io/gatehouse/internal/idp"
)

// ProviderRepository implements idp.Repository. Configs are stored as JSONB
// in their flat key-value form and rebuilt through the typed parser on read,
// so a row that somehow fails validation surfaces immediately.
type ProviderRepository struct {
	db *DB
}

// NewProviderRepository creates a new identity provider repository
func NewProviderRepository(db *DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

// Create persists a new provider config
func (r *ProviderRepository) Create(ctx context.Context, p *idp.Provider) error {
	config, err := json.Marshal(p.Config.Fields())
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO identity_providers (id, tenant_id, provider_type, config, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		p.ID, p.TenantID, string(p.Type), config, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity provider: %w", err)
	}
	return nil
}

// GetByID retrieves a provider by ID
func (r *ProviderRepository) GetByID(ctx context.Context, id string) (*idp.Provider, error) {
	row := r.db.pool.QueryRow(ctx, selectProvider+`WHERE id = $1`, id)
	return scanProvider(row)
}

// GetByTenantAndType retrieves a tenant's provider of a given type
func (r *ProviderRepository) GetByTenantAndType(ctx context.Context, tenantID string, pt idp.ProviderType) (*idp.Provider, error) {
	row := r.db.pool.QueryRow(ctx, selectProvider+`WHERE tenant_id = $1 AND provider_type = $2`, tenantID, string(pt))
	return scanProvider(row)
}

// ListByTenant retrieves all of a tenant's providers
func (r *ProviderRepository) ListByTenant(ctx context.Context, tenantID string) ([]*idp.Provider, error) {
	return r.list(ctx, selectProvider+`WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
}

// ListActiveByTenant retrieves only the providers that participate in login
func (r *ProviderRepository) ListActiveByTenant(ctx context.Context, tenantID string) ([]*idp.Provider, error) {
	return r.list(ctx, selectProvider+`WHERE tenant_id = $1 AND is_active ORDER BY created_at`, tenantID)
}

// Update updates a provider's config and activation state
func (r *ProviderRepository) Update(ctx context.Context, p *idp.Provider) error {
	config, err := json.Marshal(p.Config.Fields())
	if err != nil {
		return fmt.Errorf("failed to marshal provider config: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, `
		UPDATE identity_providers SET
			config = $2,
			is_active = $3,
			updated_at = $4
		WHERE id = $1
	`,
		p.ID, config, p.IsActive, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity provider: %w", err)
	}
	if result.RowsAffected() == 0 {
		return idp.ErrProviderNotFound
	}
	return nil
}

// Delete removes a provider config
func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM identity_providers WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete identity provider: %w", err)
	}
	if result.RowsAffected() == 0 {
		return idp.ErrProviderNotFound
	}
	return nil
}

const selectProvider = `
	SELECT id, tenant_id, provider_type, config, is_active, created_at, updated_at
	FROM identity_providers
`

func scanProvider(row pgx.Row) (*idp.Provider, error) {
	var p idp.Provider
	var providerType string
	var configJSON []byte

	err := row.Scan(&p.ID, &p.TenantID, &providerType, &configJSON, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idp.ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to scan identity provider: %w", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(configJSON, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provider config: %w", err)
	}

	p.Type = idp.ProviderType(providerType)
	cfg, err := idp.ParseConfig(p.Type, fields)
	if err != nil {
		return nil, fmt.Errorf("stored provider config is invalid: %w", err)
	}
	p.Config = cfg

	return &p, nil
}

func (r *ProviderRepository) list(ctx context.Context, query string, args ...any) ([]*idp.Provider, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity providers: %w", err)
	}
	defer rows.Close()

	var providers []*idp.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
