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
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
	ErrMFANotEnabled      = errors.New("mfa is not enabled for this user")
)

// User status values
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// User is a staff identity scoped to exactly one tenant. Users hold one role;
// Permissions is the denormalized snapshot of that role's permission set,
// refreshed whenever the role assignment changes.
//
// SecurityStamp changes on every credential-affecting event (password change,
// MFA enable/disable, deactivation). Sessions carry the stamp they were
// issued under, so a stale stamp invalidates them within one request.
type User struct {
	ID       string
	TenantID string
	Email    string
	Profile  Profile

	RoleID      string
	RoleName    string
	Permissions []string

	SecurityStamp string
	MFAEnabled    bool
	MFASecret     string // TOTP secret; set while MFA is pending or enabled

	// ExternalSubject links the user to a provider-side identity (sub claim)
	// when the account was provisioned through an external provider.
	ExternalSubject  string
	ExternalProvider string

	FailedLoginAttempts int
	LockedUntil         *time.Time

	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Active reports whether the user may authenticate.
func (u *User) Active() bool {
	return u.Status == StatusActive && u.DeletedAt == nil
}

// Profile represents user profile information
type Profile struct {
	GivenName  string
	FamilyName string
	FullName   string
	Locale     string
	Timezone   string
}

// Credentials represents user authentication credentials
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user identity
	Create(ctx context.Context, user *User) error

	// AddCredentials adds credentials for a user
	AddCredentials(ctx context.Context, credentials *Credentials) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail retrieves a user by email within a tenant
	GetByEmail(ctx context.Context, tenantID, email string) (*User, error)

	// GetByExternalSubject retrieves a user by provider subject within a tenant
	GetByExternalSubject(ctx context.Context, tenantID, provider, subject string) (*User, error)

	// Update updates user information
	Update(ctx context.Context, user *User) error

	// UpdateLockout updates user lockout status
	UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error

	// GetCredentials retrieves user credentials
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)

	// UpdatePassword updates user password
	UpdatePassword(ctx context.Context, userID string, passwordHash string) error

	// UpdatePermissions re-materializes the user's permission snapshot
	UpdatePermissions(ctx context.Context, userID string, permissions []string) error

	// ListByRole retrieves users holding a role within a tenant
	ListByRole(ctx context.Context, tenantID, roleID string) ([]*User, error)
}
