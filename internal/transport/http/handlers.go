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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/identity"
	"github.com/gatehouse-io/gatehouse/internal/idp"
	"github.com/gatehouse-io/gatehouse/internal/observability/logger"
	"github.com/gatehouse-io/gatehouse/internal/session"
	"github.com/gatehouse-io/gatehouse/internal/tenant"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	issuer          *session.Issuer
	identityService *identity.Service
	tenantService   *tenant.Service
	providerService *idp.Service
	roleStore       *authz.RoleStore

	// mfaIssuerName labels TOTP enrollments in authenticator apps.
	mfaIssuerName string
}

// NewHandler creates a new HTTP handler
func NewHandler(
	issuer *session.Issuer,
	identityService *identity.Service,
	tenantService *tenant.Service,
	providerService *idp.Service,
	roleStore *authz.RoleStore,
	mfaIssuerName string,
) *Handler {
	return &Handler{
		issuer:          issuer,
		identityService: identityService,
		tenantService:   tenantService,
		providerService: providerService,
		roleStore:       roleStore,
		mfaIssuerName:   mfaIssuerName,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Public endpoints. Tenant discovery is what a login page calls
		// before it knows who the user is.
		r.Get("/tenant-discovery/config", h.TenantDiscovery)

		r.Post("/auth/login", h.Login)
		r.Post("/auth/mfa/verify", h.VerifyMFA)
		r.Post("/auth/external/login", h.ExternalLogin)

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/profile", h.GetProfile)
			r.Post("/auth/logout", h.Logout)
			r.Post("/auth/change-password", h.ChangePassword)

			r.Post("/auth/mfa/initiate", h.InitiateMFA)
			r.Post("/auth/mfa/enable", h.EnableMFA)
			r.Post("/auth/mfa/disable", h.DisableMFA)

			// Admin endpoints, permission-gated per resource
			r.Route("/admin", func(r chi.Router) {
				r.With(RequirePermission(authz.PermProvidersView)).Get("/identity-providers", h.ListProviders)
				r.Group(func(r chi.Router) {
					r.Use(RequirePermission(authz.PermProvidersManage))
					r.Post("/identity-providers", h.CreateProvider)
					r.Put("/identity-providers/{providerID}", h.UpdateProvider)
					r.Post("/identity-providers/{providerID}/activate", h.ActivateProvider)
					r.Post("/identity-providers/{providerID}/deactivate", h.DeactivateProvider)
					r.Delete("/identity-providers/{providerID}", h.DeleteProvider)
				})

				r.With(RequirePermission(authz.PermRolesView)).Get("/roles", h.ListRoles)
				r.With(RequirePermission(authz.PermRolesView)).Get("/permissions", h.ListPermissions)
				r.Group(func(r chi.Router) {
					r.Use(RequirePermission(authz.PermRolesManage))
					r.Post("/roles", h.CreateRole)
					r.Put("/roles/{roleID}/permissions", h.ReplaceRolePermissions)
					r.Delete("/roles/{roleID}", h.DeleteRole)
				})

				r.Group(func(r chi.Router) {
					r.Use(RequirePermission(authz.PermUsersManage))
					r.Post("/users", h.ProvisionUser)
					r.Post("/users/{userID}/deactivate", h.DeactivateUser)
					r.Post("/users/{userID}/role", h.AssignUserRole)
					r.Post("/users/{userID}/sessions/revoke", h.RevokeUserSessions)
				})

				r.Group(func(r chi.Router) {
					r.Use(RequirePermission(authz.PermTenantSettings))
					r.Post("/tenants", h.CreateTenant)
					r.Put("/tenants/{tenantID}/strategy", h.SetTenantStrategy)
					r.Put("/tenants/{tenantID}/auto-provision", h.SetTenantAutoProvision)
				})
			})
		})
	})

	return r
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: "gatehouse",
	})
}

// TenantDiscovery resolves a login identifier (email, domain, or tenant ID)
// to the tenant's authentication posture, so the login page knows whether to
// show a password form, a provider redirect, or both.
func (h *Handler) TenantDiscovery(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		respondError(w, http.StatusBadRequest, "identifier query parameter is required")
		return
	}

	info, err := h.tenantService.ResolveStrategy(r.Context(), identifier)
	if err != nil {
		code := apperr.CodeOf(err)
		slog.WarnContext(r.Context(), "tenant discovery failed",
			logger.Error(err),
			logger.ErrorCode(string(code)),
		)
		switch code {
		case apperr.CodeTenantNotFound:
			respondErrorCode(w, http.StatusNotFound, code, "no tenant matches this identifier")
		case apperr.CodeProviderNotConfigured, apperr.CodeProviderInactive:
			respondErrorCode(w, http.StatusConflict, code, "tenant login is misconfigured; contact your administrator")
		default:
			respondError(w, http.StatusInternalServerError, "failed to resolve tenant")
		}
		return
	}

	providers := make([]map[string]string, 0, len(info.ActiveProviders))
	for _, p := range info.ActiveProviders {
		providers = append(providers, map[string]string{
			"provider_id":   p.ID,
			"provider_type": string(p.Type),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id":           info.Tenant.ID,
		"tenant_name":         info.Tenant.Name,
		"auth_strategy":       string(info.AuthStrategy),
		"password_login":      info.AuthStrategy.AllowsPassword(),
		"azure_ad_enabled":    info.HasProvider(idp.TypeAzureAD),
		"okta_enabled":        info.HasProvider(idp.TypeOkta),
		"auth0_enabled":       info.HasProvider(idp.TypeAuth0),
		"aws_cognito_enabled": info.HasProvider(idp.TypeAWSCognito),
		"providers":           providers,
	})
}

// LoginRequest represents login credentials. Either email+password or
// id_token+auth_provider_type; the provider-token shape is also served by
// the dedicated external login endpoint.
type LoginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	IDToken          string `json:"id_token"`
	AuthProviderType string `json:"auth_provider_type"`
}

// Login handles login. For the password shape the tenant is resolved from
// the email's domain. Credential failures all collapse to one generic
// message; the audit trail keeps the real reason.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.IDToken != "" || req.AuthProviderType != "" {
		h.externalLogin(w, r, req.Email, req.AuthProviderType, req.IDToken)
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.issuer.LoginLocal(r.Context(), req.Email, req.Password, getIPAddress(r), r.UserAgent())
	if err != nil {
		h.respondLoginError(w, r, err)
		return
	}

	if result.MFARequired {
		respondJSON(w, http.StatusOK, mfaPendingPayload(result))
		return
	}

	respondJSON(w, http.StatusOK, loginPayload(result))
}

// VerifyMFARequest carries the second phase of an MFA login
type VerifyMFARequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

// VerifyMFA completes a pending MFA login. A wrong code leaves the pending
// session intact so the user can retry without re-entering the password.
func (h *Handler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, "session_id and code are required")
		return
	}

	result, err := h.issuer.VerifyMFA(r.Context(), req.SessionID, req.Code, getIPAddress(r), r.UserAgent())
	if err != nil {
		h.respondLoginError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, loginPayload(result))
}

// ExternalLoginRequest carries a provider-issued ID token
type ExternalLoginRequest struct {
	Identifier   string `json:"identifier"`
	ProviderType string `json:"provider_type"`
	IDToken      string `json:"id_token"`
}

// ExternalLogin exchanges a verified provider ID token for a Gatehouse
// session.
func (h *Handler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	var req ExternalLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.externalLogin(w, r, req.Identifier, req.ProviderType, req.IDToken)
}

func (h *Handler) externalLogin(w http.ResponseWriter, r *http.Request, identifier, providerType, idToken string) {
	if identifier == "" || providerType == "" || idToken == "" {
		respondError(w, http.StatusBadRequest, "identifier, provider_type and id_token are required")
		return
	}

	pt := idp.ProviderType(providerType)
	if !pt.Valid() {
		respondError(w, http.StatusBadRequest, "unknown provider type")
		return
	}

	result, err := h.issuer.LoginExternal(r.Context(), identifier, pt, idToken, getIPAddress(r), r.UserAgent())
	if err != nil {
		h.respondLoginError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, loginPayload(result))
}

// GetProfile returns the current user with the permission snapshot the
// frontend uses to hide UI it may not call.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	permissions := ac.User.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     ac.User.ID,
		"tenant_id":   ac.User.TenantID,
		"email":       ac.User.Email,
		"full_name":   ac.User.Profile.FullName,
		"role":        ac.User.RoleName,
		"permissions": permissions,
		"mfa_enabled": ac.User.MFAEnabled,
	})
}

// Logout revokes the current session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.issuer.Revoke(r.Context(), ac.Session.ID, ac.User.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to revoke session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword updates the password and rotates the security stamp, which
// revokes every other session the user holds.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.identityService.ChangePassword(r.Context(), ac.User.ID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case errors.Is(err, identity.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			slog.ErrorContext(r.Context(), "failed to change password", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// InitiateMFA starts TOTP enrollment for the current user
func (h *Handler) InitiateMFA(w http.ResponseWriter, r *http.Request) {
	ac := GetAuthContext(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	enrollment, err := h.identityService.InitiateMFA(r.Context(), ac.User.ID, h.mfaIssuerName)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to initiate mfa enrollment", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to start MFA enrollment")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"secret":      enrollment.Secret,
		"otpauth_url": enrollment.OTPAuthURL,
	})
}

// MFACodeRequest carries a TOTP code
type MFACodeRequest struct {
	Code string `json:"code"`
}

// EnableMFA confirms enrollment with a valid code
func (h *Handler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	h.toggleMFA(w, r, true)
}

// DisableMFA turns MFA off after re-proving code possession
func (h *Handler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	h.toggleMFA(w, r, false)
}

func (h *Handler) toggleMFA(w http.ResponseWriter, r *http.Request, enable bool) {
	ac := GetAuthContext(r.Context())
	if ac == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req MFACodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	var err error
	if enable {
		err = h.identityService.EnableMFA(r.Context(), ac.User.ID, req.Code)
	} else {
		err = h.identityService.DisableMFA(r.Context(), ac.User.ID, req.Code)
	}
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid verification code")
		case errors.Is(err, identity.ErrMFANotEnabled):
			respondError(w, http.StatusBadRequest, "MFA is not enabled")
		default:
			slog.ErrorContext(r.Context(), "failed to toggle mfa", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to update MFA settings")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "MFA settings updated",
	})
}

// respondLoginError collapses every authentication failure into a generic
// message. The typed code goes to the log; an attacker probing the login
// endpoint learns nothing about which check failed.
func (h *Handler) respondLoginError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	slog.WarnContext(r.Context(), "login rejected",
		logger.ErrorCode(string(code)),
		logger.Error(err),
	)

	switch code {
	case apperr.CodeAccountLocked:
		respondErrorCode(w, http.StatusForbidden, code, "account is temporarily locked")
	case apperr.CodeMFAInvalidCode:
		respondErrorCode(w, http.StatusUnauthorized, code, "invalid verification code")
	case apperr.CodeProviderNotConfigured, apperr.CodeProviderInactive:
		respondErrorCode(w, http.StatusConflict, code, "this login method is not available for your organization")
	case apperr.CodeJWKSFetchTimeout, apperr.CodeJWKSFetchFailed:
		respondError(w, http.StatusServiceUnavailable, "identity provider is unreachable, try again")
	case apperr.CodeInternal:
		respondError(w, http.StatusInternalServerError, "authentication failed")
	default:
		respondError(w, http.StatusUnauthorized, "authentication failed")
	}
}

// mfaPendingPayload is the first-phase login response. No token yet; the
// user object lets the client greet the user while prompting for the code.
func mfaPendingPayload(result *session.LoginResult) map[string]any {
	return map[string]any{
		"mfa_required": true,
		"session_id":   result.SessionID,
		"user": map[string]any{
			"user_id": result.User.ID,
			"email":   result.User.Email,
			"role":    result.User.RoleName,
		},
	}
}

func loginPayload(result *session.LoginResult) map[string]any {
	return map[string]any{
		"access_token": result.Token,
		"token_type":   "Bearer",
		"expires_at":   result.ExpiresAt.UTC().Format(time.RFC3339),
		"session_id":   result.SessionID,
		"user_id":      result.User.ID,
		"email":        result.User.Email,
		"role":         result.User.RoleName,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondErrorCode includes a stable machine-readable code so clients can
// branch without parsing prose.
func respondErrorCode(w http.ResponseWriter, status int, code apperr.Code, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
