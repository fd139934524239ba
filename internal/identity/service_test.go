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

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/authz"
)

// MockUserRepository is a simple in-memory implementation of UserRepository
type MockUserRepository struct {
	users       map[string]*User
	credentials map[string]*Credentials
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users:       make(map[string]*User),
		credentials: make(map[string]*Credentials),
	}
}

func (m *MockUserRepository) Create(_ context.Context, user *User) error {
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) AddCredentials(_ context.Context, credentials *Credentials) error {
	m.credentials[credentials.UserID] = credentials
	return nil
}

func (m *MockUserRepository) GetByID(_ context.Context, id string) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (m *MockUserRepository) GetByEmail(_ context.Context, tenantID, email string) (*User, error) {
	for _, u := range m.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) GetByExternalSubject(_ context.Context, tenantID, provider, subject string) (*User, error) {
	for _, u := range m.users {
		if u.TenantID == tenantID && u.ExternalProvider == provider && u.ExternalSubject == subject {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MockUserRepository) Update(_ context.Context, user *User) error {
	m.users[user.ID] = user
	return nil
}

func (m *MockUserRepository) UpdateLockout(_ context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.FailedLoginAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	return nil
}

func (m *MockUserRepository) GetCredentials(_ context.Context, userID string) (*Credentials, error) {
	c, ok := m.credentials[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return c, nil
}

func (m *MockUserRepository) UpdatePassword(_ context.Context, userID string, passwordHash string) error {
	c, ok := m.credentials[userID]
	if !ok {
		return ErrUserNotFound
	}
	c.PasswordHash = passwordHash
	return nil
}

func (m *MockUserRepository) UpdatePermissions(_ context.Context, userID string, permissions []string) error {
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Permissions = permissions
	return nil
}

func (m *MockUserRepository) ListByRole(_ context.Context, tenantID, roleID string) ([]*User, error) {
	var out []*User
	for _, u := range m.users {
		if u.TenantID == tenantID && u.RoleID == roleID {
			out = append(out, u)
		}
	}
	return out, nil
}

// MockRoleSource serves a fixed role set
type MockRoleSource struct {
	roles map[string]*authz.Role
}

func NewMockRoleSource() *MockRoleSource {
	return &MockRoleSource{roles: map[string]*authz.Role{
		"role-reception": {
			ID:          "role-reception",
			Name:        authz.RoleReceptionist,
			Permissions: authz.ReceptionistPermissions,
		},
		"role-viewer": {
			ID:          "role-viewer",
			Name:        authz.RoleViewer,
			Permissions: authz.ViewerPermissions,
		},
	}}
}

func (m *MockRoleSource) GetRole(_ context.Context, roleID string) (*authz.Role, error) {
	role, ok := m.roles[roleID]
	if !ok {
		return nil, authz.ErrRoleNotFound
	}
	return role, nil
}

func newTestService() (*Service, *MockUserRepository) {
	repo := NewMockUserRepository()
	hasher := NewPasswordHasher(65536, 3, 4, 16, 32)
	s := NewService(repo, NewMockRoleSource(), hasher, audit.NewNopLogger(), 3, 5*time.Minute)
	return s, repo
}

// TestPurpose: Validates the user authentication flow, including success, failure, and account lockout after multiple failed attempts.
// Scope: Unit Test
// Security: Authentication mechanisms and Brute-force protection (lockout)
// Expected: Successful login for correct credentials, error for wrong credentials, and account lockout after the threshold.
// Test Case ID: IDN-01
func TestIdentity_Service_Authenticate(t *testing.T) {
	s, _ := newTestService()

	ctx := context.Background()
	tenantID := "tenant-1"
	email := "test@example.com"
	password := "SecurePassword123"

	// 1. Provision user
	user, err := s.ProvisionIdentity(ctx, tenantID, email, "role-reception", Profile{FullName: "Test User"})
	if err != nil {
		t.Fatalf("failed to provision: %v", err)
	}
	if user.RoleName != authz.RoleReceptionist {
		t.Errorf("expected role %s, got %s", authz.RoleReceptionist, user.RoleName)
	}
	if len(user.Permissions) == 0 {
		t.Error("expected permission snapshot on provisioned user")
	}
	if user.SecurityStamp == "" {
		t.Error("expected security stamp on provisioned user")
	}

	// 2. Add password
	err = s.AddPassword(ctx, user.ID, password)
	if err != nil {
		t.Fatalf("failed to add password: %v", err)
	}

	// 3. Success authentication
	authSet, err := s.Authenticate(ctx, tenantID, email, password)
	if err != nil {
		t.Fatalf("expected success, got err: %v", err)
	}
	if authSet.ID != user.ID {
		t.Errorf("expected user ID %s, got %s", user.ID, authSet.ID)
	}

	// 4. Failed authentication (wrong password)
	_, err = s.Authenticate(ctx, tenantID, email, "WrongPassword")
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	// 5. Account lockout
	s.Authenticate(ctx, tenantID, email, "WrongPassword")          // Total failed: 2
	_, err = s.Authenticate(ctx, tenantID, email, "WrongPassword") // Total failed: 3 (Threshold met)
	if err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for 3rd failed attempt, got %v", err)
	}

	// 4th attempt should be locked out even with the right password
	_, err = s.Authenticate(ctx, tenantID, email, password)
	if err != ErrAccountLocked {
		t.Errorf("expected ErrAccountLocked, got %v", err)
	}
}

// TestPurpose: Validates that provisioning an identity fails if a user with the same email already exists in the same tenant.
// Scope: Unit Test
// Security: Data Integrity and Unique Constraint Enforcement
// Expected: ErrUserAlreadyExists when email is already registered in the same tenant.
// Test Case ID: IDN-02
func TestIdentity_Service_ProvisionIdentity_Conflict(t *testing.T) {
	s, _ := newTestService()

	ctx := context.Background()
	tenantID := "tenant-1"
	email := "conflict@example.com"

	s.ProvisionIdentity(ctx, tenantID, email, "role-viewer", Profile{})
	_, err := s.ProvisionIdentity(ctx, tenantID, email, "role-viewer", Profile{})
	if err != ErrUserAlreadyExists {
		t.Errorf("expected ErrUserAlreadyExists, got %v", err)
	}
}

// TestPurpose: Validates that changing a password rotates the security stamp so existing sessions die.
// Scope: Unit Test
// Security: Session invalidation on credential change
// Expected: New stamp after password change; old password rejected afterwards.
// Test Case ID: IDN-03
func TestIdentity_Service_ChangePassword_RotatesStamp(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	user, err := s.ProvisionIdentity(ctx, "tenant-1", "rotate@example.com", "role-viewer", Profile{})
	if err != nil {
		t.Fatalf("failed to provision: %v", err)
	}
	if err := s.AddPassword(ctx, user.ID, "OldPassword1"); err != nil {
		t.Fatalf("failed to add password: %v", err)
	}
	oldStamp := user.SecurityStamp

	if err := s.ChangePassword(ctx, user.ID, "OldPassword1", "NewPassword1"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	updated, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	if updated.SecurityStamp == oldStamp {
		t.Error("expected security stamp to rotate on password change")
	}

	if _, err := s.Authenticate(ctx, "tenant-1", "rotate@example.com", "OldPassword1"); err != ErrInvalidCredentials {
		t.Errorf("expected old password rejected, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "tenant-1", "rotate@example.com", "NewPassword1"); err != nil {
		t.Errorf("expected new password accepted, got %v", err)
	}
}

// TestPurpose: Validates TOTP enrollment: a pending secret does not gate login until a live code confirms it.
// Scope: Unit Test
// Security: MFA enrollment integrity
// Expected: MFA disabled after initiate, enabled only after a valid code, stamp rotated on enable.
// Test Case ID: IDN-04
func TestIdentity_Service_MFAEnrollment(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	user, err := s.ProvisionIdentity(ctx, "tenant-1", "mfa@example.com", "role-viewer", Profile{})
	if err != nil {
		t.Fatalf("failed to provision: %v", err)
	}
	oldStamp := user.SecurityStamp

	enrollment, err := s.InitiateMFA(ctx, user.ID, "Gatehouse")
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if enrollment.Secret == "" || enrollment.OTPAuthURL == "" {
		t.Fatal("expected secret and otpauth url")
	}

	pending, _ := s.GetUser(ctx, user.ID)
	if pending.MFAEnabled {
		t.Error("MFA must stay disabled until the code is confirmed")
	}

	// Wrong code does not enable.
	if err := s.EnableMFA(ctx, user.ID, "000000"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for bogus code, got %v", err)
	}

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	if err != nil {
		t.Fatalf("failed to generate code: %v", err)
	}
	if err := s.EnableMFA(ctx, user.ID, code); err != nil {
		t.Fatalf("enable failed: %v", err)
	}

	enabled, _ := s.GetUser(ctx, user.ID)
	if !enabled.MFAEnabled {
		t.Error("expected MFA enabled")
	}
	if enabled.SecurityStamp == oldStamp {
		t.Error("expected stamp rotation on MFA enable")
	}

	ok, err := s.VerifyMFACode(ctx, user.ID, code)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Error("expected current code to verify")
	}
}

// TestPurpose: Validates deactivation freezes the account and rotates the stamp.
// Scope: Unit Test
// Security: Admin-driven session revocation
// Expected: Deactivated user cannot authenticate; stamp changed.
// Test Case ID: IDN-05
func TestIdentity_Service_Deactivate(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	user, err := s.ProvisionIdentity(ctx, "tenant-1", "gone@example.com", "role-viewer", Profile{})
	if err != nil {
		t.Fatalf("failed to provision: %v", err)
	}
	if err := s.AddPassword(ctx, user.ID, "SomePassword1"); err != nil {
		t.Fatalf("failed to add password: %v", err)
	}
	oldStamp := user.SecurityStamp

	if err := s.Deactivate(ctx, user.ID, "admin-1"); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	updated, _ := s.GetUser(ctx, user.ID)
	if updated.Active() {
		t.Error("expected user inactive")
	}
	if updated.SecurityStamp == oldStamp {
		t.Error("expected stamp rotation on deactivation")
	}

	if _, err := s.Authenticate(ctx, "tenant-1", "gone@example.com", "SomePassword1"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for inactive user, got %v", err)
	}
}

// TestPurpose: Validates that a role permission edit reaches the stored user row at the next refresh, not just the in-memory struct.
// Scope: Unit Test
// Security: Authorization reads the persisted snapshot; a stale row would keep granting the old permission set.
// Expected: After the role gains a permission, RefreshPermissions writes the new set to the repository.
// Test Case ID: IDN-07
func TestIdentity_Service_RefreshPermissions_PersistsSnapshot(t *testing.T) {
	repo := NewMockUserRepository()
	roles := NewMockRoleSource()
	hasher := NewPasswordHasher(65536, 3, 4, 16, 32)
	s := NewService(repo, roles, hasher, audit.NewNopLogger(), 3, 5*time.Minute)
	ctx := context.Background()

	user, err := s.ProvisionIdentity(ctx, "tenant-1", "desk@example.com", "role-reception", Profile{})
	if err != nil {
		t.Fatalf("failed to provision: %v", err)
	}

	// Admin widens the role after the user was provisioned.
	widened := append(append([]string{}, authz.ReceptionistPermissions...), authz.PermReportsView)
	roles.roles["role-reception"].Permissions = widened

	// Refresh through a detached copy so the only path back to the stored
	// row is the repository write itself.
	loaded := *user
	if err := s.RefreshPermissions(ctx, &loaded); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	stored, err := repo.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	found := false
	for _, p := range stored.Permissions {
		if p == authz.PermReportsView {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("expected persisted snapshot to contain %s, got %v", authz.PermReportsView, stored.Permissions)
	}
	if len(loaded.Permissions) != len(widened) {
		t.Errorf("expected refreshed struct to carry %d permissions, got %d", len(widened), len(loaded.Permissions))
	}

	// A second refresh with nothing changed must be a no-op, not an error.
	if err := s.RefreshPermissions(ctx, &loaded); err != nil {
		t.Fatalf("idempotent refresh failed: %v", err)
	}
}

// TestPurpose: Validates external provisioning links the provider subject and snapshots the default role.
// Scope: Unit Test
// Security: External identity linkage
// Expected: User resolvable by (provider, subject); role snapshot applied.
// Test Case ID: IDN-06
func TestIdentity_Service_ProvisionExternal(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	user, err := s.ProvisionExternal(ctx, "tenant-1", "okta", "ext-sub-7", "Pat@Acme.example", "Pat Visitor", "role-viewer")
	if err != nil {
		t.Fatalf("provision external failed: %v", err)
	}
	if user.Email != "pat@acme.example" {
		t.Errorf("expected lowercased email, got %s", user.Email)
	}

	found, err := s.GetByExternalSubject(ctx, "tenant-1", "okta", "ext-sub-7")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found.ID != user.ID {
		t.Errorf("expected user %s, got %s", user.ID, found.ID)
	}
	if found.RoleName != authz.RoleViewer {
		t.Errorf("expected viewer role, got %s", found.RoleName)
	}
}
