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

package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/audit"
)

// RoleStore manages the role catalog for tenants.
type RoleStore struct {
	roles       RoleRepository
	permissions PermissionRepository
	auditLogger audit.Logger
}

// NewRoleStore creates a new role store
func NewRoleStore(roles RoleRepository, permissions PermissionRepository, auditLogger audit.Logger) *RoleStore {
	return &RoleStore{
		roles:       roles,
		permissions: permissions,
		auditLogger: auditLogger,
	}
}

// CreateRole creates a tenant-scoped custom role. Every permission name must
// exist in the catalog or nothing is created. Role names are unique within a
// tenant, counting the system roles the tenant also sees.
func (s *RoleStore) CreateRole(ctx context.Context, tenantID, name, description string, permissions []string, actorID string) (*Role, error) {
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}

	if existing, err := s.roles.GetByName(ctx, tenantID, name); err == nil && existing != nil {
		return nil, apperr.Newf(apperr.CodeConflict, "role %q already exists", name)
	}

	resolved, err := s.resolveCatalog(ctx, permissions)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	role := &Role{
		ID:          uuid.NewString(),
		TenantID:    &tenantID,
		Name:        name,
		Description: description,
		IsSystem:    false,
		Permissions: resolved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleCreated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: role.ID,
		Metadata: map[string]any{audit.AttrPermissions: resolved},
	})

	return role, nil
}

// ReplacePermissions swaps a role's permission set in one shot. Users holding
// the role observe the new set on their next session issuance; existing
// sessions keep their snapshot. System roles cannot be modified.
func (s *RoleStore) ReplacePermissions(ctx context.Context, roleID string, permissions []string, actorID string) (*Role, error) {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, apperr.Newf(apperr.CodePermissionDenied, "system role %q cannot be modified", role.Name)
	}

	resolved, err := s.resolveCatalog(ctx, permissions)
	if err != nil {
		return nil, err
	}

	if err := s.roles.ReplacePermissions(ctx, roleID, resolved); err != nil {
		return nil, fmt.Errorf("failed to replace role permissions: %w", err)
	}

	role.Permissions = resolved
	role.UpdatedAt = time.Now()

	tenantID := ""
	if role.TenantID != nil {
		tenantID = *role.TenantID
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePermissionsReplaced,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: role.ID,
		Metadata: map[string]any{audit.AttrPermissions: resolved},
	})

	return role, nil
}

// DeleteRole removes a custom role. System roles are not deletable, and a
// role still assigned to users is not deletable either: the caller must move
// those users to another role first.
func (s *RoleStore) DeleteRole(ctx context.Context, roleID string, actorID string) error {
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apperr.Newf(apperr.CodePermissionDenied, "system role %q cannot be deleted", role.Name)
	}

	assigned, err := s.roles.CountAssignedUsers(ctx, roleID)
	if err != nil {
		return fmt.Errorf("failed to count role assignments: %w", err)
	}
	if assigned > 0 {
		return apperr.Newf(apperr.CodeConflict, "role %q is assigned to %d user(s)", role.Name, assigned)
	}

	if err := s.roles.Delete(ctx, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	tenantID := ""
	if role.TenantID != nil {
		tenantID = *role.TenantID
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleDeleted,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: role.ID,
	})

	return nil
}

// GetRole retrieves a role by ID
func (s *RoleStore) GetRole(ctx context.Context, roleID string) (*Role, error) {
	return s.roles.GetByID(ctx, roleID)
}

// GetRoleByName retrieves a role by name within a tenant
func (s *RoleStore) GetRoleByName(ctx context.Context, tenantID, name string) (*Role, error) {
	return s.roles.GetByName(ctx, tenantID, name)
}

// ListRoles lists the tenant's custom roles plus the system roles.
func (s *RoleStore) ListRoles(ctx context.Context, tenantID string) ([]*Role, error) {
	return s.roles.ListByTenant(ctx, tenantID)
}

// ListPermissions returns the global permission catalog.
func (s *RoleStore) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.permissions.List(ctx)
}

// resolveCatalog validates permission names against the catalog and returns
// the deduplicated set. Any unknown name fails the whole call.
func (s *RoleStore) resolveCatalog(ctx context.Context, names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		unique = append(unique, n)
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("at least one permission is required")
	}

	entries, err := s.permissions.GetByNames(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	known := make(map[string]bool, len(entries))
	for _, p := range entries {
		known[p.Name] = true
	}
	for _, n := range unique {
		if !known[n] {
			return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, n)
		}
	}

	return unique, nil
}
