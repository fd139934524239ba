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

// Package authz holds the role store and the permission evaluator. A
// permission is a flat "resource:action" string from a global catalog; roles
// bundle permissions and are assigned to users one per user.
package authz

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleAlreadyExists  = errors.New("role already exists")
	ErrPermissionNotFound = errors.New("permission not found")
)

// Permission is a catalog entry. Name is "resource:action" and unique across
// the platform; tenants share the catalog, only role composition is
// tenant-local.
type Permission struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Role bundles catalog permissions. System roles ship with the platform,
// apply to every tenant (TenantID nil), and are immutable. Custom roles
// belong to exactly one tenant.
type Role struct {
	ID          string
	TenantID    *string // nil for system roles
	Name        string
	Description string
	IsSystem    bool
	Permissions []string // catalog permission names
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasPermission checks if the role grants a specific permission
func (r *Role) HasPermission(permission string) bool {
	for _, p := range r.Permissions {
		if p == PermWildcard || p == permission {
			return true
		}
	}
	return false
}

// RoleRepository defines the interface for role persistence
type RoleRepository interface {
	// Create persists a role together with its permission grants.
	Create(ctx context.Context, role *Role) error

	// GetByID retrieves a role with its permission names populated
	GetByID(ctx context.Context, id string) (*Role, error)

	// GetByName retrieves a role by name within a tenant. System roles are
	// visible to every tenant.
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)

	// ListByTenant retrieves the tenant's custom roles plus all system roles
	ListByTenant(ctx context.Context, tenantID string) ([]*Role, error)

	// ReplacePermissions atomically swaps the role's permission set. The
	// previous set must remain intact if the swap fails partway.
	ReplacePermissions(ctx context.Context, roleID string, permissions []string) error

	// Delete removes a role and its permission grants
	Delete(ctx context.Context, id string) error

	// CountAssignedUsers reports how many users currently hold the role
	CountAssignedUsers(ctx context.Context, roleID string) (int, error)
}

// PermissionRepository defines the interface for the permission catalog
type PermissionRepository interface {
	// List retrieves the full catalog
	List(ctx context.Context) ([]*Permission, error)

	// GetByNames resolves catalog entries by name. A name with no entry is
	// simply absent from the result; the caller decides whether that is an
	// error.
	GetByNames(ctx context.Context, names []string) ([]*Permission, error)
}
