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

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/identity"
	"github.com/gatehouse-io/gatehouse/internal/idp"
	"github.com/gatehouse-io/gatehouse/internal/observability/logger"
	"github.com/gatehouse-io/gatehouse/internal/tenant"
)

// Admin handlers operate strictly on the caller's tenant. Resource IDs from
// the URL are re-checked against the session tenant so a tenant admin cannot
// manage another tenant's objects by guessing IDs.

// ---------------------------------------------------------------------------
// Identity providers
// ---------------------------------------------------------------------------

// ProviderRequest carries provider configuration fields
type ProviderRequest struct {
	ProviderType string            `json:"provider_type"`
	Config       map[string]string `json:"config"`
}

// CreateProvider registers a new external identity provider for the caller's
// tenant. Providers start inactive; activation is a separate deliberate step.
func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())

	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pt := idp.ProviderType(req.ProviderType)
	if !pt.Valid() {
		respondError(w, http.StatusBadRequest, "unknown provider type")
		return
	}

	provider, err := h.providerService.Create(r.Context(), ac.User.TenantID, pt, req.Config, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to create identity provider")
		return
	}

	respondJSON(w, http.StatusCreated, providerPayload(provider))
}

// ListProviders lists the caller's tenant providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())

	providers, err := h.providerService.List(r.Context(), ac.User.TenantID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to list identity providers")
		return
	}

	payload := make([]map[string]any, 0, len(providers))
	for _, p := range providers {
		payload = append(payload, providerPayload(p))
	}
	respondJSON(w, http.StatusOK, map[string]any{"providers": payload})
}

// UpdateProvider replaces a provider's configuration
func (h *Handler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	providerID := chi.URLParam(r, "providerID")

	if !h.providerBelongsToTenant(w, r, providerID, ac.User.TenantID) {
		return
	}

	var req ProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	provider, err := h.providerService.Update(r.Context(), providerID, req.Config, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to update identity provider")
		return
	}

	respondJSON(w, http.StatusOK, providerPayload(provider))
}

// ActivateProvider turns a provider on for logins
func (h *Handler) ActivateProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderActive(w, r, true)
}

// DeactivateProvider removes a provider from login flows without losing its
// configuration
func (h *Handler) DeactivateProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderActive(w, r, false)
}

func (h *Handler) setProviderActive(w http.ResponseWriter, r *http.Request, active bool) {
	ac := GetAuthContext(r.Context())
	providerID := chi.URLParam(r, "providerID")

	if !h.providerBelongsToTenant(w, r, providerID, ac.User.TenantID) {
		return
	}

	provider, err := h.providerService.SetActive(r.Context(), providerID, active, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to update identity provider")
		return
	}

	respondJSON(w, http.StatusOK, providerPayload(provider))
}

// DeleteProvider removes a provider configuration
func (h *Handler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	providerID := chi.URLParam(r, "providerID")

	if !h.providerBelongsToTenant(w, r, providerID, ac.User.TenantID) {
		return
	}

	if err := h.providerService.Delete(r.Context(), providerID, ac.User.ID); err != nil {
		h.respondAdminError(w, r, err, "failed to delete identity provider")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "identity provider deleted"})
}

func (h *Handler) providerBelongsToTenant(w http.ResponseWriter, r *http.Request, providerID, tenantID string) bool {
	provider, err := h.providerService.Get(r.Context(), providerID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to load identity provider")
		return false
	}
	if provider.TenantID != tenantID {
		// Same response as not-found; existence of another tenant's
		// provider is not disclosed.
		respondError(w, http.StatusNotFound, "identity provider not found")
		return false
	}
	return true
}

func providerPayload(p *idp.Provider) map[string]any {
	return map[string]any{
		"provider_id":   p.ID,
		"tenant_id":     p.TenantID,
		"provider_type": string(p.Type),
		"config":        p.Config.Fields(),
		"is_active":     p.IsActive,
	}
}

// ---------------------------------------------------------------------------
// Roles and permissions
// ---------------------------------------------------------------------------

// CreateRoleRequest carries a custom role definition
type CreateRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// CreateRole creates a tenant-scoped custom role
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())

	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "role name is required")
		return
	}

	role, err := h.roleStore.CreateRole(r.Context(), ac.User.TenantID, req.Name, req.Description, req.Permissions, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to create role")
		return
	}

	respondJSON(w, http.StatusCreated, rolePayload(role))
}

// ListRoles lists system roles plus the tenant's custom roles
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())

	roles, err := h.roleStore.ListRoles(r.Context(), ac.User.TenantID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to list roles")
		return
	}

	payload := make([]map[string]any, 0, len(roles))
	for _, role := range roles {
		payload = append(payload, rolePayload(role))
	}
	respondJSON(w, http.StatusOK, map[string]any{"roles": payload})
}

// ListPermissions returns the platform permission catalog
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.roleStore.ListPermissions(r.Context())
	if err != nil {
		h.respondAdminError(w, r, err, "failed to list permissions")
		return
	}

	payload := make([]map[string]string, 0, len(perms))
	for _, p := range perms {
		payload = append(payload, map[string]string{
			"name":        p.Name,
			"description": p.Description,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"permissions": payload})
}

// ReplacePermissionsRequest carries the new permission set for a role
type ReplacePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// ReplaceRolePermissions atomically swaps a custom role's permission set.
// Users holding the role pick up the change on their next permission refresh.
func (h *Handler) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	roleID := chi.URLParam(r, "roleID")

	if !h.roleBelongsToTenant(w, r, roleID, ac.User.TenantID) {
		return
	}

	var req ReplacePermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := h.roleStore.ReplacePermissions(r.Context(), roleID, req.Permissions, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to replace role permissions")
		return
	}

	respondJSON(w, http.StatusOK, rolePayload(role))
}

// DeleteRole deletes an unassigned custom role
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	roleID := chi.URLParam(r, "roleID")

	if !h.roleBelongsToTenant(w, r, roleID, ac.User.TenantID) {
		return
	}

	if err := h.roleStore.DeleteRole(r.Context(), roleID, ac.User.ID); err != nil {
		h.respondAdminError(w, r, err, "failed to delete role")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "role deleted"})
}

func (h *Handler) roleBelongsToTenant(w http.ResponseWriter, r *http.Request, roleID, tenantID string) bool {
	role, err := h.roleStore.GetRole(r.Context(), roleID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to load role")
		return false
	}
	// System roles pass through here; the store rejects mutations on them
	// with PERMISSION_DENIED.
	if role.TenantID != nil && *role.TenantID != tenantID {
		respondError(w, http.StatusNotFound, "role not found")
		return false
	}
	return true
}

func rolePayload(role *authz.Role) map[string]any {
	permissions := role.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	return map[string]any{
		"role_id":     role.ID,
		"name":        role.Name,
		"description": role.Description,
		"is_system":   role.IsSystem,
		"permissions": permissions,
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ProvisionUserRequest carries a new staff account
type ProvisionUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RoleID     string `json:"role_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// ProvisionUser creates a staff account in the caller's tenant
func (h *Handler) ProvisionUser(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())

	var req ProvisionUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.RoleID == "" {
		respondError(w, http.StatusBadRequest, "email and role_id are required")
		return
	}

	profile := identity.Profile{
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		FullName:   req.GivenName + " " + req.FamilyName,
	}

	user, err := h.identityService.ProvisionIdentity(r.Context(), ac.User.TenantID, req.Email, req.RoleID, profile)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		default:
			h.respondAdminError(w, r, err, "failed to create user")
		}
		return
	}

	if req.Password != "" {
		if err := h.identityService.AddPassword(r.Context(), user.ID, req.Password); err != nil {
			if errors.Is(err, identity.ErrWeakPassword) {
				respondError(w, http.StatusBadRequest, "password does not meet security requirements")
				return
			}
			h.respondAdminError(w, r, err, "failed to set password")
			return
		}
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.RoleName,
	})
}

// DeactivateUser disables an account. The security stamp rotates, so every
// live session dies on its next validation; stored sessions are revoked too.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	userID := chi.URLParam(r, "userID")

	if !h.userBelongsToTenant(w, r, userID, ac.User.TenantID) {
		return
	}

	if err := h.identityService.Deactivate(r.Context(), userID, ac.User.ID); err != nil {
		h.respondAdminError(w, r, err, "failed to deactivate user")
		return
	}

	if err := h.issuer.RevokeAllForUser(r.Context(), userID, ac.User.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke sessions of deactivated user",
			logger.Error(err),
			logger.UserID(userID),
		)
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "user deactivated"})
}

// AssignRoleRequest carries a role change
type AssignRoleRequest struct {
	RoleID string `json:"role_id"`
}

// AssignUserRole moves a user to a different role and refreshes their
// permission snapshot.
func (h *Handler) AssignUserRole(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	userID := chi.URLParam(r, "userID")

	if !h.userBelongsToTenant(w, r, userID, ac.User.TenantID) {
		return
	}

	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoleID == "" {
		respondError(w, http.StatusBadRequest, "role_id is required")
		return
	}

	user, err := h.identityService.AssignRole(r.Context(), userID, req.RoleID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to assign role")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"role":        user.RoleName,
		"permissions": user.Permissions,
	})
}

// RevokeUserSessions force-logs-out a user everywhere
func (h *Handler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	userID := chi.URLParam(r, "userID")

	if !h.userBelongsToTenant(w, r, userID, ac.User.TenantID) {
		return
	}

	if err := h.issuer.RevokeAllForUser(r.Context(), userID, ac.User.ID); err != nil {
		h.respondAdminError(w, r, err, "failed to revoke sessions")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "sessions revoked"})
}

func (h *Handler) userBelongsToTenant(w http.ResponseWriter, r *http.Request, userID, tenantID string) bool {
	user, err := h.identityService.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return false
		}
		h.respondAdminError(w, r, err, "failed to load user")
		return false
	}
	if user.TenantID != tenantID {
		respondError(w, http.StatusNotFound, "user not found")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// CreateTenantRequest carries a new tenant registration
type CreateTenantRequest struct {
	Name        string `json:"name"`
	EmailDomain string `json:"email_domain"`
}

// CreateTenant registers a new tenant with the default traditional strategy
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())

	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.EmailDomain == "" {
		respondError(w, http.StatusBadRequest, "name and email_domain are required")
		return
	}

	t, err := h.tenantService.CreateTenant(r.Context(), req.Name, req.EmailDomain, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to create tenant")
		return
	}

	respondJSON(w, http.StatusCreated, tenantPayload(t))
}

// SetStrategyRequest carries a tenant auth strategy change
type SetStrategyRequest struct {
	AuthStrategy string `json:"auth_strategy"`
}

// SetTenantStrategy changes how a tenant's users authenticate. Switching to
// an external strategy requires an active provider of that type; the service
// refuses otherwise rather than locking the tenant out.
func (h *Handler) SetTenantStrategy(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	tenantID := chi.URLParam(r, "tenantID")

	var req SetStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	strategy := tenant.AuthStrategy(req.AuthStrategy)
	if !strategy.Valid() {
		respondError(w, http.StatusBadRequest, "unknown auth strategy")
		return
	}

	t, err := h.tenantService.SetStrategy(r.Context(), tenantID, strategy, ac.User.ID)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to set auth strategy")
		return
	}

	respondJSON(w, http.StatusOK, tenantPayload(t))
}

// AutoProvisionRequest toggles auto-provisioning
type AutoProvisionRequest struct {
	Enabled bool `json:"enabled"`
}

// SetTenantAutoProvision toggles creation of accounts for unknown external
// subjects. Off by default: a verified provider token alone should not mint
// accounts unless the tenant opted in.
func (h *Handler) SetTenantAutoProvision(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req AutoProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.tenantService.SetAutoProvision(r.Context(), tenantID, req.Enabled)
	if err != nil {
		h.respondAdminError(w, r, err, "failed to set auto-provisioning")
		return
	}

	respondJSON(w, http.StatusOK, tenantPayload(t))
}

func tenantPayload(t *tenant.Tenant) map[string]any {
	return map[string]any{
		"tenant_id":      t.ID,
		"name":           t.Name,
		"email_domain":   t.EmailDomain,
		"auth_strategy":  string(t.AuthStrategy),
		"auto_provision": t.AutoProvision,
		"status":         t.Status,
	}
}

// ---------------------------------------------------------------------------
// Shared error mapping
// ---------------------------------------------------------------------------

// respondAdminError maps typed errors to statuses. Admin endpoints may be
// more specific than login paths; the caller is already authenticated and
// authorized to manage these resources.
func (h *Handler) respondAdminError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	code := apperr.CodeOf(err)

	switch {
	case errors.Is(err, authz.ErrRoleNotFound):
		respondError(w, http.StatusNotFound, "role not found")
		return
	case errors.Is(err, authz.ErrPermissionNotFound):
		respondError(w, http.StatusBadRequest, "unknown permission name")
		return
	case errors.Is(err, idp.ErrProviderNotFound):
		respondError(w, http.StatusNotFound, "identity provider not found")
		return
	}

	switch code {
	case apperr.CodeConflict:
		respondErrorCode(w, http.StatusConflict, code, "resource conflicts with existing state")
	case apperr.CodePermissionDenied:
		respondErrorCode(w, http.StatusForbidden, code, "operation not permitted")
	case apperr.CodeInvalidProviderConfig:
		respondErrorCode(w, http.StatusBadRequest, code, "provider configuration is invalid")
	case apperr.CodeProviderNotConfigured:
		respondErrorCode(w, http.StatusConflict, code, "no active provider supports this strategy")
	case apperr.CodeTenantNotFound:
		respondErrorCode(w, http.StatusNotFound, code, "tenant not found")
	case apperr.CodeUserNotFound:
		respondErrorCode(w, http.StatusNotFound, code, "user not found")
	default:
		slog.ErrorContext(r.Context(), fallback, logger.Error(err), logger.ErrorCode(string(code)))
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
