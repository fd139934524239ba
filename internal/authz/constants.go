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

// -----------------------------------------------------------------------------
// Permission Name Constants
// Canonical "resource:action" names seeded into the permission catalog by the
// initial schema migration. These must remain stable.
// -----------------------------------------------------------------------------

const (
	// PermWildcard grants every permission. Held only by super_admin.
	PermWildcard = "*"

	// Visit lifecycle
	PermVisitsCheckIn  = "visits:check_in"
	PermVisitsCheckOut = "visits:check_out"
	PermVisitsView     = "visits:view"
	PermVisitsEdit     = "visits:edit"
	PermVisitsExport   = "visits:export"

	// Visitor records
	PermVisitorsView   = "visitors:view"
	PermVisitorsEdit   = "visitors:edit"
	PermVisitorsDelete = "visitors:delete"

	// Facility configuration
	PermFacilitiesView = "facilities:view"
	PermFacilitiesEdit = "facilities:edit"

	// Watchlist screening
	PermWatchlistsView = "watchlists:view"
	PermWatchlistsEdit = "watchlists:edit"

	// Reporting
	PermReportsView   = "reports:view"
	PermReportsExport = "reports:export"

	// Tenant administration
	PermUsersView       = "users:view"
	PermUsersManage     = "users:manage"
	PermRolesView       = "roles:view"
	PermRolesManage     = "roles:manage"
	PermProvidersView   = "providers:view"
	PermProvidersManage = "providers:manage"
	PermTenantSettings  = "tenant:settings"
	PermAuditView       = "audit:view"
)

// -----------------------------------------------------------------------------
// System Role Name Constants
// Canonical names for the roles seeded by the initial schema migration.
// System roles are global, immutable, and visible to every tenant.
// -----------------------------------------------------------------------------

const (
	// RoleSuperAdmin bypasses permission evaluation entirely.
	RoleSuperAdmin = "super_admin"

	// RoleTenantAdmin manages users, roles, providers, and settings within
	// one tenant.
	RoleTenantAdmin = "tenant_admin"

	// RoleFacilityManager runs day-to-day facility and visit operations.
	RoleFacilityManager = "facility_manager"

	// RoleReceptionist handles the front desk: check-in, check-out, and
	// visitor lookups.
	RoleReceptionist = "receptionist"

	// RoleViewer is read-only access to visits and reports.
	RoleViewer = "viewer"
)

// -----------------------------------------------------------------------------
// System Role Permission Mappings
// Default permission sets for seeding and validation.
// -----------------------------------------------------------------------------

// SuperAdminPermissions defines permissions for the super_admin role.
var SuperAdminPermissions = []string{
	PermWildcard,
}

// TenantAdminPermissions defines permissions for the tenant_admin role.
var TenantAdminPermissions = []string{
	PermUsersView,
	PermUsersManage,
	PermRolesView,
	PermRolesManage,
	PermProvidersView,
	PermProvidersManage,
	PermTenantSettings,
	PermAuditView,
	PermFacilitiesView,
	PermFacilitiesEdit,
	PermWatchlistsView,
	PermWatchlistsEdit,
	PermReportsView,
	PermReportsExport,
	PermVisitsView,
	PermVisitsEdit,
	PermVisitorsView,
	PermVisitorsEdit,
}

// FacilityManagerPermissions defines permissions for the facility_manager role.
var FacilityManagerPermissions = []string{
	PermVisitsCheckIn,
	PermVisitsCheckOut,
	PermVisitsView,
	PermVisitsEdit,
	PermVisitsExport,
	PermVisitorsView,
	PermVisitorsEdit,
	PermFacilitiesView,
	PermFacilitiesEdit,
	PermWatchlistsView,
	PermReportsView,
}

// ReceptionistPermissions defines permissions for the receptionist role.
var ReceptionistPermissions = []string{
	PermVisitsCheckIn,
	PermVisitsCheckOut,
	PermVisitsView,
	PermVisitorsView,
}

// ViewerPermissions defines permissions for the viewer role.
var ViewerPermissions = []string{
	PermVisitsView,
	PermVisitorsView,
	PermReportsView,
}
