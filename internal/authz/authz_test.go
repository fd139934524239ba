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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/audit"
)

// --- Mocks ---

type mockRoleRepo struct {
	byID      map[string]*Role
	byName    map[string]*Role // key: tenantID + "/" + name
	assigned  map[string]int
	replaced  map[string][]string
	deleted   []string
	createErr error
}

func newMockRoleRepo() *mockRoleRepo {
	return &mockRoleRepo{
		byID:     make(map[string]*Role),
		byName:   make(map[string]*Role),
		assigned: make(map[string]int),
		replaced: make(map[string][]string),
	}
}

func (m *mockRoleRepo) add(role *Role, tenantID string) {
	m.byID[role.ID] = role
	m.byName[tenantID+"/"+role.Name] = role
}

func (m *mockRoleRepo) Create(_ context.Context, role *Role) error {
	if m.createErr != nil {
		return m.createErr
	}
	tenantID := ""
	if role.TenantID != nil {
		tenantID = *role.TenantID
	}
	m.add(role, tenantID)
	return nil
}

func (m *mockRoleRepo) GetByID(_ context.Context, id string) (*Role, error) {
	role, ok := m.byID[id]
	if !ok {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

func (m *mockRoleRepo) GetByName(_ context.Context, tenantID, name string) (*Role, error) {
	if role, ok := m.byName[tenantID+"/"+name]; ok {
		return role, nil
	}
	if role, ok := m.byName["/"+name]; ok { // system roles, no tenant
		return role, nil
	}
	return nil, ErrRoleNotFound
}

func (m *mockRoleRepo) ListByTenant(_ context.Context, tenantID string) ([]*Role, error) {
	var out []*Role
	for _, r := range m.byID {
		if r.IsSystem || (r.TenantID != nil && *r.TenantID == tenantID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRoleRepo) ReplacePermissions(_ context.Context, roleID string, permissions []string) error {
	m.replaced[roleID] = permissions
	return nil
}

func (m *mockRoleRepo) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.byID, id)
	return nil
}

func (m *mockRoleRepo) CountAssignedUsers(_ context.Context, roleID string) (int, error) {
	return m.assigned[roleID], nil
}

type mockPermissionRepo struct {
	catalog map[string]*Permission
}

func newMockPermissionRepo(names ...string) *mockPermissionRepo {
	m := &mockPermissionRepo{catalog: make(map[string]*Permission)}
	for _, n := range names {
		m.catalog[n] = &Permission{ID: "perm-" + n, Name: n}
	}
	return m
}

func (m *mockPermissionRepo) List(_ context.Context) ([]*Permission, error) {
	out := make([]*Permission, 0, len(m.catalog))
	for _, p := range m.catalog {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockPermissionRepo) GetByNames(_ context.Context, names []string) ([]*Permission, error) {
	var out []*Permission
	for _, n := range names {
		if p, ok := m.catalog[n]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestRoleStore(perms ...string) (*RoleStore, *mockRoleRepo) {
	roleRepo := newMockRoleRepo()
	permRepo := newMockPermissionRepo(perms...)
	return NewRoleStore(roleRepo, permRepo, audit.NewNopLogger()), roleRepo
}

// --- Evaluator tests ---

func TestEvaluateExactMatch(t *testing.T) {
	subject := Subject{
		RoleName:    RoleReceptionist,
		Permissions: ReceptionistPermissions,
	}

	assert.True(t, Evaluate(subject, PermVisitsCheckIn))
	assert.True(t, Evaluate(subject, PermVisitsCheckOut))
	assert.True(t, Evaluate(subject, PermVisitorsView))
	assert.False(t, Evaluate(subject, PermFacilitiesEdit))
	assert.False(t, Evaluate(subject, PermRolesManage))
}

func TestEvaluateSuperAdminBypass(t *testing.T) {
	subject := Subject{RoleName: RoleSuperAdmin}

	// No snapshot at all, still allowed.
	assert.True(t, Evaluate(subject, PermFacilitiesEdit))
	assert.True(t, Evaluate(subject, "anything:at_all"))
}

func TestEvaluateWildcard(t *testing.T) {
	subject := Subject{
		RoleName:    "custom_admin",
		Permissions: []string{PermWildcard},
	}
	assert.True(t, Evaluate(subject, PermVisitsCheckIn))
	// Wildcard still requires a well-formed permission string.
	assert.False(t, Evaluate(subject, "not-a-permission"))
}

func TestEvaluateFailClosed(t *testing.T) {
	subject := Subject{
		RoleName:    RoleFacilityManager,
		Permissions: FacilityManagerPermissions,
	}

	tests := []struct {
		name     string
		required string
	}{
		{"empty string", ""},
		{"no separator", "visits"},
		{"empty action", "visits:"},
		{"empty resource", ":check_in"},
		{"bare separator", ":"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Evaluate(subject, tt.required))
		})
	}
}

func TestEvaluateEmptySnapshot(t *testing.T) {
	subject := Subject{RoleName: RoleViewer}
	assert.False(t, Evaluate(subject, PermVisitsView))
}

func TestEvaluateAny(t *testing.T) {
	subject := Subject{
		RoleName:    RoleViewer,
		Permissions: ViewerPermissions,
	}

	assert.True(t, EvaluateAny(subject, PermFacilitiesEdit, PermReportsView))
	assert.False(t, EvaluateAny(subject, PermFacilitiesEdit, PermRolesManage))
	assert.False(t, EvaluateAny(subject))
}

func TestEvaluateAll(t *testing.T) {
	subject := Subject{
		RoleName:    RoleReceptionist,
		Permissions: ReceptionistPermissions,
	}

	assert.True(t, EvaluateAll(subject, PermVisitsCheckIn, PermVisitsCheckOut))
	assert.False(t, EvaluateAll(subject, PermVisitsCheckIn, PermFacilitiesEdit))
	assert.False(t, EvaluateAll(subject))
}

// --- RoleStore tests ---

func TestCreateRoleValidatesCatalog(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView, PermVisitsCheckIn)

	role, err := store.CreateRole(context.Background(), "tenant-1", "front_desk", "", []string{PermVisitsView, PermVisitsCheckIn}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{PermVisitsView, PermVisitsCheckIn}, role.Permissions)
	assert.False(t, role.IsSystem)
	require.NotNil(t, role.TenantID)
	assert.Equal(t, "tenant-1", *role.TenantID)
	assert.Contains(t, repo.byID, role.ID)
}

func TestCreateRoleUnknownPermission(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)

	_, err := store.CreateRole(context.Background(), "tenant-1", "front_desk", "", []string{PermVisitsView, "visits:launch_rocket"}, "admin-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionNotFound)
	assert.Empty(t, repo.byID, "nothing persisted when any name is unknown")
}

func TestCreateRoleDuplicateName(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	tenantID := "tenant-1"
	repo.add(&Role{ID: "r1", TenantID: &tenantID, Name: "front_desk"}, tenantID)

	_, err := store.CreateRole(context.Background(), tenantID, "front_desk", "", []string{PermVisitsView}, "admin-1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestCreateRoleNameCollidesWithSystemRole(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	repo.add(&Role{ID: "sys-1", Name: RoleReceptionist, IsSystem: true}, "")

	_, err := store.CreateRole(context.Background(), "tenant-1", RoleReceptionist, "", []string{PermVisitsView}, "admin-1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
}

func TestReplacePermissions(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView, PermVisitsCheckIn, PermVisitsCheckOut)
	tenantID := "tenant-1"
	repo.add(&Role{
		ID:          "r1",
		TenantID:    &tenantID,
		Name:        "front_desk",
		Permissions: []string{PermVisitsView},
		CreatedAt:   time.Now(),
	}, tenantID)

	role, err := store.ReplacePermissions(context.Background(), "r1", []string{PermVisitsCheckIn, PermVisitsCheckOut}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{PermVisitsCheckIn, PermVisitsCheckOut}, role.Permissions)
	assert.Equal(t, []string{PermVisitsCheckIn, PermVisitsCheckOut}, repo.replaced["r1"])
}

func TestReplacePermissionsUnknownNameLeavesRoleUntouched(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	tenantID := "tenant-1"
	repo.add(&Role{ID: "r1", TenantID: &tenantID, Name: "front_desk", Permissions: []string{PermVisitsView}}, tenantID)

	_, err := store.ReplacePermissions(context.Background(), "r1", []string{PermVisitsView, "bogus:perm"}, "admin-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionNotFound)
	assert.Empty(t, repo.replaced, "no partial write on validation failure")
}

func TestReplacePermissionsSystemRole(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	repo.add(&Role{ID: "sys-1", Name: RoleSuperAdmin, IsSystem: true}, "")

	_, err := store.ReplacePermissions(context.Background(), "sys-1", []string{PermVisitsView}, "admin-1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodePermissionDenied))
}

func TestDeleteRole(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	tenantID := "tenant-1"
	repo.add(&Role{ID: "r1", TenantID: &tenantID, Name: "front_desk"}, tenantID)

	err := store.DeleteRole(context.Background(), "r1", "admin-1")
	require.NoError(t, err)
	assert.Contains(t, repo.deleted, "r1")
}

func TestDeleteRoleBlockedWhileAssigned(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	tenantID := "tenant-1"
	repo.add(&Role{ID: "r1", TenantID: &tenantID, Name: "front_desk"}, tenantID)
	repo.assigned["r1"] = 3

	err := store.DeleteRole(context.Background(), "r1", "admin-1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeConflict))
	assert.Empty(t, repo.deleted)
}

func TestDeleteSystemRole(t *testing.T) {
	store, repo := newTestRoleStore(PermVisitsView)
	repo.add(&Role{ID: "sys-1", Name: RoleTenantAdmin, IsSystem: true}, "")

	err := store.DeleteRole(context.Background(), "sys-1", "admin-1")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodePermissionDenied))
}
