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
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse-io/gatehouse/internal/tenant"
)

// ErrTenantNotFound is returned when a tenant row does not exist
var ErrTenantNotFound = errors.New("tenant not found")

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create creates a new tenant
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, email_domain, auth_strategy, auto_provision, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		t.ID, t.Name, t.EmailDomain, string(t.AuthStrategy), t.AutoProvision, t.Status,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByEmailDomain retrieves a tenant by its corporate email domain
func (r *TenantRepository) GetByEmailDomain(ctx context.Context, domain string) (*tenant.Tenant, error) {
	return r.get(ctx, `WHERE email_domain = $1`, domain)
}

func (r *TenantRepository) get(ctx context.Context, where string, arg any) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var strategy string

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, email_domain, auth_strategy, auto_provision, status, created_at, updated_at
		FROM tenants `+where,
		arg,
	).Scan(
		&t.ID, &t.Name, &t.EmailDomain, &strategy, &t.AutoProvision, &t.Status,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	t.AuthStrategy = tenant.AuthStrategy(strategy)
	return &t, nil
}

// Update updates tenant information
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants SET
			name = $2,
			email_domain = $3,
			auth_strategy = $4,
			auto_provision = $5,
			status = $6,
			updated_at = $7
		WHERE id = $1
	`,
		t.ID, t.Name, t.EmailDomain, string(t.AuthStrategy), t.AutoProvision, t.Status, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// List retrieves tenants with pagination
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, email_domain, auth_strategy, auto_provision, status, created_at, updated_at
		FROM tenants
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		var t tenant.Tenant
		var strategy string
		if err := rows.Scan(
			&t.ID, &t.Name, &t.EmailDomain, &strategy, &t.AutoProvision, &t.Status,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		t.AuthStrategy = tenant.AuthStrategy(strategy)
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}
