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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse-io/gatehouse/internal/authz"
)

// RoleRepository implements authz.RoleRepository. Role rows and their
// role_permissions grants are written inside one transaction so a role is
// never observable with a partial permission set.
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create persists a role together with its permission grants
func (r *RoleRepository) Create(ctx context.Context, role *authz.Role) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO roles (id, tenant_id, name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		role.ID, role.TenantID, role.Name, role.Description, role.IsSystem, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert role: %w", err)
	}

	if err := grantPermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now

	return nil
}

// GetByID retrieves a role with its permission names populated
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*authz.Role, error) {
	role, err := r.scanRole(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if err := r.loadPermissions(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// GetByName retrieves a role by name within a tenant. System roles are
// visible to every tenant.
func (r *RoleRepository) GetByName(ctx context.Context, tenantID, name string) (*authz.Role, error) {
	role, err := r.scanRole(ctx, `
		WHERE name = $2 AND (tenant_id = $1 OR tenant_id IS NULL)
		ORDER BY tenant_id NULLS LAST
		LIMIT 1
	`, tenantID, name)
	if err != nil {
		return nil, err
	}
	if err := r.loadPermissions(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// ListByTenant retrieves the tenant's custom roles plus all system roles
func (r *RoleRepository) ListByTenant(ctx context.Context, tenantID string) ([]*authz.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, tenant_id, name, description, is_system, created_at, updated_at
		FROM roles
		WHERE tenant_id = $1 OR tenant_id IS NULL
		ORDER BY is_system DESC, name
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*authz.Role
	for rows.Next() {
		var role authz.Role
		if err := rows.Scan(
			&role.ID, &role.TenantID, &role.Name, &role.Description, &role.IsSystem,
			&role.CreatedAt, &role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, role := range roles {
		if err := r.loadPermissions(ctx, role); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// ReplacePermissions atomically swaps the role's permission set
func (r *RoleRepository) ReplacePermissions(ctx context.Context, roleID string, permissions []string) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE roles SET updated_at = NOW() WHERE id = $1
	`, roleID)
	if err != nil {
		return fmt.Errorf("failed to touch role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1
	`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	if err := grantPermissions(ctx, tx, roleID, permissions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit permission replacement: %w", err)
	}
	return nil
}

// Delete removes a role and its permission grants
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM roles WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}
	return nil
}

// CountAssignedUsers reports how many users currently hold the role
func (r *RoleRepository) CountAssignedUsers(ctx context.Context, roleID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM users
		WHERE role_id = $1 AND deleted_at IS NULL
	`, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count role assignments: %w", err)
	}
	return count, nil
}

func (r *RoleRepository) scanRole(ctx context.Context, where string, args ...any) (*authz.Role, error) {
	var role authz.Role
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, description, is_system, created_at, updated_at
		FROM roles `+where,
		args...,
	).Scan(
		&role.ID, &role.TenantID, &role.Name, &role.Description, &role.IsSystem,
		&role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authz.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func (r *RoleRepository) loadPermissions(ctx context.Context, role *authz.Role) error {
	rows, err := r.db.pool.Query(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, role.ID)
	if err != nil {
		return fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan permission name: %w", err)
		}
		role.Permissions = append(role.Permissions, name)
	}
	return rows.Err()
}

// grantPermissions inserts role_permissions rows by catalog name. An unknown
// name inserts nothing, which the count check turns into an error so the
// transaction rolls back whole.
func grantPermissions(ctx context.Context, tx pgx.Tx, roleID string, permissions []string) error {
	for _, name := range permissions {
		result, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE name = $2
		`, roleID, name)
		if err != nil {
			return fmt.Errorf("failed to grant permission %q: %w", name, err)
		}
		if result.RowsAffected() == 0 {
			return authz.ErrPermissionNotFound
		}
	}
	return nil
}

// PermissionRepository implements authz.PermissionRepository
type PermissionRepository struct {
	db *DB
}

// NewPermissionRepository creates a new permission catalog repository
func NewPermissionRepository(db *DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// List retrieves the full catalog
func (r *PermissionRepository) List(ctx context.Context) ([]*authz.Permission, error) {
	return r.query(ctx, `
		SELECT id, name, description, created_at
		FROM permissions
		ORDER BY name
	`)
}

// GetByNames resolves catalog entries by name
func (r *PermissionRepository) GetByNames(ctx context.Context, names []string) ([]*authz.Permission, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return r.query(ctx, `
		SELECT id, name, description, created_at
		FROM permissions
		WHERE name = ANY($1)
		ORDER BY name
	`, names)
}

func (r *PermissionRepository) query(ctx context.Context, query string, args ...any) ([]*authz.Permission, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var perms []*authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}
