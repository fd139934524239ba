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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/identity"
	"github.com/gatehouse-io/gatehouse/internal/session"
)

// =============================================================================
// AUTH API INPUT VALIDATION TESTS
// Category: Auth API - Input Validation & HTTP Behavior
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that empty request bodies for login are rejected with 400 Bad Request.
// Scope: Unit Test
// Security: Request body parsing and validation
// Expected: Returns HTTP 400 Bad Request for empty bodies.
// Test Case ID: LGN-05
func TestAuth_Login_EmptyBody_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte{}))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"LGN-05: Empty body should return 400 Bad Request")
}

// TestPurpose: Validates that malformed JSON in the login request is rejected safely.
// Scope: Unit Test
// Security: JSON parsing safety (prevents parser exploits)
// Expected: Returns HTTP 400 Bad Request for malformed JSON.
// Test Case ID: LGN-06B
func TestAuth_Login_MalformedJSON_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte(`{invalid_json}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"LGN-06B: Malformed JSON should return 400 Bad Request")
}

// TestPurpose: Validates that login requires both email and password fields.
// Scope: Unit Test
// Security: Input validation
// Expected: Returns HTTP 400 Bad Request when either field is missing.
// Test Case ID: LGN-07
func TestAuth_Login_MissingFields_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	body, _ := json.Marshal(LoginRequest{Email: "user@acme.example.com"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"LGN-07: Missing password should return 400 Bad Request")
}

// TestPurpose: Validates that the MFA verification endpoint requires a session ID and a code.
// Scope: Unit Test
// Security: Input validation on the second login phase
// Expected: Returns HTTP 400 Bad Request when fields are missing.
// Test Case ID: MFA-08
func TestAuth_VerifyMFA_MissingFields_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	body, _ := json.Marshal(VerifyMFARequest{SessionID: "some-session"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/mfa/verify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.VerifyMFA(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"MFA-08: Missing code should return 400 Bad Request")
}

// TestPurpose: Validates that the first-phase MFA login response names the user alongside the pending session, without issuing a token.
// Scope: Unit Test
// Security: No credential material before the second factor; client still learns who is logging in.
// Expected: Payload carries mfa_required, session_id, and a user object; no access_token key.
// Test Case ID: MFA-09
func TestAuth_Login_MFAPendingPayload_IncludesUser(t *testing.T) {
	result := &session.LoginResult{
		MFARequired: true,
		SessionID:   "pending-session",
		User: &identity.User{
			ID:       "user-1",
			Email:    "alice@acme.example.com",
			RoleName: "receptionist",
		},
	}

	payload := mfaPendingPayload(result)

	assert.Equal(t, true, payload["mfa_required"])
	assert.Equal(t, "pending-session", payload["session_id"])
	assert.NotContains(t, payload, "access_token",
		"MFA-09: no token may be issued before the second factor")

	user, ok := payload["user"].(map[string]any)
	assert.True(t, ok, "MFA-09: payload must carry a user object")
	assert.Equal(t, "user-1", user["user_id"])
	assert.Equal(t, "alice@acme.example.com", user["email"])
	assert.Equal(t, "receptionist", user["role"])
}

// TestPurpose: Validates that external login rejects unknown provider types before any lookup.
// Scope: Unit Test
// Security: Input validation on the external login path
// Expected: Returns HTTP 400 Bad Request for an unrecognized provider type.
// Test Case ID: EXT-09
func TestAuth_ExternalLogin_UnknownProviderType_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	body, _ := json.Marshal(ExternalLoginRequest{
		Identifier:   "acme.example.com",
		ProviderType: "not_a_provider",
		IDToken:      "some-token",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/external/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.ExternalLogin(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"EXT-09: Unknown provider type should return 400 Bad Request")
}

// TestPurpose: Validates that tenant discovery requires the identifier query parameter.
// Scope: Unit Test
// Security: Input validation
// Expected: Returns HTTP 400 Bad Request with no identifier.
// Test Case ID: DSC-01
func TestTenantDiscovery_MissingIdentifier_ReturnsBadRequest(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tenant-discovery/config", nil)
	w := httptest.NewRecorder()

	h.TenantDiscovery(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code,
		"DSC-01: Missing identifier should return 400 Bad Request")
}

// =============================================================================
// SECURITY TESTS - Error Message Safety
// Category: Security - Error Handling
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that error responses do not leak sensitive internal details (stack traces, paths).
// Scope: Unit Test
// Security: Information disclosure prevention (CWE-209)
// Expected: Response body does not contain patterns like "panic", "/Users/", "goroutine", etc.
// Test Case ID: SEC-02
func TestSecurity_ErrorHandling_NoSensitiveDataIsLeaked(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte(`{invalid}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Login(w, req)

	body := w.Body.String()

	sensitivePatterns := []string{
		"panic",
		"/Users/",
		"/home/",
		"goroutine",
		"runtime.",
		".go:",
		"stack trace",
	}

	for _, pattern := range sensitivePatterns {
		assert.NotContains(t, strings.ToLower(body), strings.ToLower(pattern),
			"SEC-02 SECURITY: Response should not contain '%s'", pattern)
	}
}

// TestPurpose: Validates that JSON responses include the application/json Content-Type header.
// Scope: Unit Test
// Security: Prevents MIME sniffing attacks
// Expected: Content-Type header contains "application/json".
// Test Case ID: SEC-10
func TestSecurity_Headers_JSONContentTypeIsSet(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	contentType := w.Header().Get("Content-Type")
	assert.Contains(t, contentType, "application/json",
		"SEC-10: JSON responses must have application/json content type")
}

// TestPurpose: Validates that the health check endpoint returns valid JSON with the expected structure.
// Scope: Unit Test
// Security: Validates safe response format
// Expected: Returns 200 OK with valid JSON structure {"status": "..."}.
// Test Case ID: SEC-05B
func TestSecurity_HealthCheck_ReturnsValidJSON(t *testing.T) {
	h := createMinimalHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code, "Health check should return 200")

	var resp HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Health response should be valid JSON")
	assert.NotEmpty(t, resp.Status, "Health response should have status")
}

// =============================================================================
// AUTHORIZATION MIDDLEWARE TESTS
// Category: Security - Permission Gating
// Type: Unit Test (UT)
// =============================================================================

// TestPurpose: Validates that permission-gated routes deny requests with no authenticated context.
// Scope: Unit Test
// Security: Fail-closed authorization (CWE-862)
// Expected: Returns 401 Unauthorized when no auth context is present.
// Test Case ID: PRM-05
func TestRequirePermission_NoAuthContext_ReturnsUnauthorized(t *testing.T) {
	gated := RequirePermission(authz.PermRolesManage)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/roles", nil)
	w := httptest.NewRecorder()

	gated.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"PRM-05: Missing auth context must deny, not pass through")
}

// TestPurpose: Validates that a subject lacking the required permission is denied with 403.
// Scope: Unit Test
// Security: Least-privilege enforcement
// Expected: Returns 403 Forbidden with the PERMISSION_DENIED code.
// Test Case ID: PRM-06
func TestRequirePermission_MissingPermission_ReturnsForbidden(t *testing.T) {
	gated := RequirePermission(authz.PermRolesManage)(okHandler())

	req := authenticatedRequest(http.MethodPost, "/api/admin/roles", "receptionist",
		[]string{authz.PermVisitsCheckIn, authz.PermVisitsView})
	w := httptest.NewRecorder()

	gated.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code,
		"PRM-06: Subject without roles:manage must be denied")
	assert.Contains(t, w.Body.String(), "PERMISSION_DENIED")
}

// TestPurpose: Validates that a subject holding the required permission passes the gate.
// Scope: Unit Test
// Security: Authorization correctness
// Expected: The wrapped handler runs and returns 200.
// Test Case ID: PRM-07
func TestRequirePermission_GrantedPermission_PassesThrough(t *testing.T) {
	gated := RequirePermission(authz.PermRolesManage)(okHandler())

	req := authenticatedRequest(http.MethodPost, "/api/admin/roles", "tenant_admin",
		[]string{authz.PermRolesView, authz.PermRolesManage})
	w := httptest.NewRecorder()

	gated.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code,
		"PRM-07: Subject with roles:manage must pass the gate")
}

// TestPurpose: Validates that the super_admin role bypasses the permission gate regardless of snapshot contents.
// Scope: Unit Test
// Security: Platform operator escape hatch is role-name based, not snapshot based
// Expected: The wrapped handler runs and returns 200 with an empty snapshot.
// Test Case ID: PRM-08
func TestRequirePermission_SuperAdmin_Bypasses(t *testing.T) {
	gated := RequirePermission(authz.PermTenantSettings)(okHandler())

	req := authenticatedRequest(http.MethodPost, "/api/admin/tenants", authz.RoleSuperAdmin, nil)
	w := httptest.NewRecorder()

	gated.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code,
		"PRM-08: super_admin must bypass permission evaluation")
}

// TestPurpose: Validates Authorization header parsing accepts only well-formed bearer tokens.
// Scope: Unit Test
// Security: Credential parsing robustness
// Expected: Empty, non-bearer, and prefix-only headers yield no token.
// Test Case ID: TKN-12
func TestBearerToken_Parsing(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"Bearer ", ""},
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer abc.def.ghi", "abc.def.ghi"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		assert.Equal(t, tc.want, bearerToken(req), "header %q", tc.header)
	}
}

// =============================================================================
// TEST HELPERS
// =============================================================================

// createMinimalHandler creates a Handler with nil services for input
// validation testing. Suitable only for tests that never reach a service
// call.
func createMinimalHandler(t *testing.T) *Handler {
	t.Helper()
	return &Handler{mfaIssuerName: "Gatehouse"}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
}

func authenticatedRequest(method, target, roleName string, permissions []string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ac := &session.AuthContext{
		User: &identity.User{
			ID:          "user-1",
			TenantID:    "tenant-1",
			RoleName:    roleName,
			Permissions: permissions,
		},
		Session: &session.Session{ID: "session-1"},
	}
	return req.WithContext(WithAuthContext(req.Context(), ac))
}
