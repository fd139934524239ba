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
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/authz"
)

// RoleSource resolves roles when materializing a user's permission snapshot.
// *authz.RoleStore satisfies it.
type RoleSource interface {
	GetRole(ctx context.Context, roleID string) (*authz.Role, error)
}

// Service provides identity-related business logic
type Service struct {
	repo               UserRepository
	roles              RoleSource
	hasher             *PasswordHasher
	auditLogger        audit.Logger
	lockoutMaxAttempts int
	lockoutDuration    time.Duration
}

// NewService creates a new identity service
func NewService(
	repo UserRepository,
	roles RoleSource,
	hasher *PasswordHasher,
	auditLogger audit.Logger,
	lockoutMaxAttempts int,
	lockoutDuration time.Duration,
) *Service {
	return &Service{
		repo:               repo,
		roles:              roles,
		hasher:             hasher,
		auditLogger:        auditLogger,
		lockoutMaxAttempts: lockoutMaxAttempts,
		lockoutDuration:    lockoutDuration,
	}
}

// ProvisionIdentity creates a new user with a role but no credentials yet.
// The role's permission set is snapshotted onto the user row.
func (s *Service) ProvisionIdentity(ctx context.Context, tenantID, email, roleID string, profile Profile) (*User, error) {
	if !isValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	email = strings.ToLower(email)

	if existing, err := s.repo.GetByEmail(ctx, tenantID, email); err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}

	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Email:         email,
		Profile:       profile,
		RoleID:        role.ID,
		RoleName:      role.Name,
		Permissions:   role.Permissions,
		SecurityStamp: newSecurityStamp(),
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserCreated,
		TenantID: tenantID,
		Resource: user.ID,
	})

	return user, nil
}

// ProvisionExternal creates a user from a verified external identity. Called
// only when the tenant allows auto-provisioning; the caller supplies the
// default role to assign.
func (s *Service) ProvisionExternal(ctx context.Context, tenantID, provider, subject, email, fullName, roleID string) (*User, error) {
	if subject == "" {
		return nil, fmt.Errorf("external subject is required")
	}

	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:               uuid.NewString(),
		TenantID:         tenantID,
		Email:            strings.ToLower(email),
		Profile:          Profile{FullName: fullName},
		RoleID:           role.ID,
		RoleName:         role.Name,
		Permissions:      role.Permissions,
		SecurityStamp:    newSecurityStamp(),
		ExternalSubject:  subject,
		ExternalProvider: provider,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to provision external identity: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserProvisioned,
		TenantID: tenantID,
		Resource: user.ID,
		Metadata: map[string]any{audit.AttrProviderType: provider},
	})

	return user, nil
}

// GetByExternalSubject resolves a user by provider-side subject.
func (s *Service) GetByExternalSubject(ctx context.Context, tenantID, provider, subject string) (*User, error) {
	user, err := s.repo.GetByExternalSubject(ctx, tenantID, provider, subject)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// AddPassword adds a password credential to an existing user
func (s *Service) AddPassword(ctx context.Context, userID, password string) error {
	if !isStrongPassword(password) {
		return ErrWeakPassword
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	credentials := &Credentials{
		UserID:       userID,
		PasswordHash: passwordHash,
	}

	if err := s.repo.AddCredentials(ctx, credentials); err != nil {
		return fmt.Errorf("failed to add credentials: %w", err)
	}

	return nil
}

// Authenticate verifies email+password for a tenant's user. Failures
// increment the lockout counter; enough of them lock the account for the
// configured duration. All outcomes are audited.
func (s *Service) Authenticate(ctx context.Context, tenantID, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, tenantID, strings.ToLower(email))
	if err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			TenantID: tenantID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "user_not_found"},
		})
		return nil, ErrInvalidCredentials
	}

	if !user.Active() {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			TenantID: tenantID,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "user_inactive"},
		})
		return nil, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && user.LockedUntil.After(time.Now()) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			TenantID: tenantID,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{audit.AttrReason: "locked_out"},
		})
		return nil, ErrAccountLocked
	}

	credentials, err := s.repo.GetCredentials(ctx, user.ID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	valid, err := s.hasher.Verify(password, credentials.PasswordHash)
	if err != nil || !valid {
		newAttempts := user.FailedLoginAttempts + 1
		var newLockedUntil *time.Time

		if newAttempts >= s.lockoutMaxAttempts {
			until := time.Now().Add(s.lockoutDuration)
			newLockedUntil = &until
			s.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeUserLocked,
				TenantID: tenantID,
				ActorID:  user.ID,
				Resource: "login",
				Metadata: map[string]any{audit.AttrAttempts: newAttempts},
			})
		}

		_ = s.repo.UpdateLockout(ctx, user.ID, newAttempts, newLockedUntil)

		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeLoginFailed,
			TenantID: tenantID,
			ActorID:  user.ID,
			Resource: "login",
			Metadata: map[string]any{
				audit.AttrReason:   "invalid_password",
				audit.AttrAttempts: newAttempts,
			},
		})

		return nil, ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		_ = s.repo.UpdateLockout(ctx, user.ID, 0, nil)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLoginSuccess,
		TenantID: tenantID,
		ActorID:  user.ID,
		Resource: "login",
	})

	return user, nil
}

// GetByEmail retrieves a user by email within a tenant
func (s *Service) GetByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, tenantID, strings.ToLower(email))
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile updates user profile information
func (s *Service) UpdateProfile(ctx context.Context, userID string, profile Profile) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	user.Profile = profile
	user.UpdatedAt = time.Now()
	return s.repo.Update(ctx, user)
}

// AssignRole moves the user to a different role and refreshes the permission
// snapshot. Existing sessions keep the old snapshot until they expire or the
// user logs in again.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) (*User, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	role, err := s.roles.GetRole(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}

	user.RoleID = role.ID
	user.RoleName = role.Name
	user.Permissions = role.Permissions
	user.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to assign role: %w", err)
	}
	return user, nil
}

// RefreshPermissions re-materializes the user's snapshot from their current
// role and persists it. Used at login so role edits are picked up at the next
// session: without the write, authorization keeps reading the stale snapshot
// from the user row.
func (s *Service) RefreshPermissions(ctx context.Context, user *User) error {
	role, err := s.roles.GetRole(ctx, user.RoleID)
	if err != nil {
		return fmt.Errorf("failed to resolve role: %w", err)
	}

	if user.RoleName == role.Name && slices.Equal(user.Permissions, role.Permissions) {
		return nil
	}

	if err := s.repo.UpdatePermissions(ctx, user.ID, role.Permissions); err != nil {
		return fmt.Errorf("failed to persist permission snapshot: %w", err)
	}
	user.RoleName = role.Name
	user.Permissions = role.Permissions
	return nil
}

// ChangePassword changes the user's password after verifying the old one,
// and rotates the security stamp so every other session dies.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	credentials, err := s.repo.GetCredentials(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	valid, err := s.hasher.Verify(oldPassword, credentials.PasswordHash)
	if err != nil || !valid {
		return ErrInvalidCredentials
	}

	if !isStrongPassword(newPassword) {
		return ErrWeakPassword
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, userID, newHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.rotateStamp(ctx, user); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePasswordChanged,
		TenantID: user.TenantID,
		ActorID:  userID,
		Resource: userID,
	})

	return nil
}

// Deactivate freezes the user and rotates the security stamp, invalidating
// every live session at its next request.
func (s *Service) Deactivate(ctx context.Context, userID, actorID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}

	user.Status = StatusInactive
	user.SecurityStamp = newSecurityStamp()
	user.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserDeactivated,
		TenantID: user.TenantID,
		ActorID:  actorID,
		Resource: userID,
	})

	return nil
}

func (s *Service) rotateStamp(ctx context.Context, user *User) error {
	user.SecurityStamp = newSecurityStamp()
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to rotate security stamp: %w", err)
	}
	return nil
}

func newSecurityStamp() string {
	return uuid.NewString()
}

// Helper functions
func isValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && len(email) < 255
}

func isStrongPassword(password string) bool {
	// Length is the only hard requirement; composition rules push users
	// toward predictable substitutions.
	return len(password) >= 8
}
