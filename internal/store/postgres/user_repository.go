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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gatehouse-io/gatehouse/internal/identity"
)

// UserRepository implements identity.UserRepository. RoleName is joined from
// the roles table; the permission snapshot lives on the user row itself so a
// single read is enough to build an authorization subject.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user identity
func (r *UserRepository) Create(ctx context.Context, user *identity.User) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO users (
			id, tenant_id, email,
			given_name, family_name, full_name, locale, timezone,
			role_id, permissions, security_stamp,
			mfa_enabled, mfa_secret,
			external_subject, external_provider,
			failed_login_attempts, locked_until, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`,
		user.ID, user.TenantID, user.Email,
		user.Profile.GivenName, user.Profile.FamilyName, user.Profile.FullName,
		user.Profile.Locale, user.Profile.Timezone,
		user.RoleID, user.Permissions, user.SecurityStamp,
		user.MFAEnabled, user.MFASecret,
		user.ExternalSubject, user.ExternalProvider,
		user.FailedLoginAttempts, user.LockedUntil, user.Status,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now

	return nil
}

// AddCredentials adds credentials for a user
func (r *UserRepository) AddCredentials(ctx context.Context, credentials *identity.Credentials) error {
	now := time.Now()

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
	`, credentials.UserID, credentials.PasswordHash, now)
	if err != nil {
		return fmt.Errorf("failed to insert credentials: %w", err)
	}

	credentials.UpdatedAt = now

	return nil
}

const selectUser = `
	SELECT u.id, u.tenant_id, u.email,
		u.given_name, u.family_name, u.full_name, u.locale, u.timezone,
		u.role_id, r.name, u.permissions, u.security_stamp,
		u.mfa_enabled, u.mfa_secret,
		u.external_subject, u.external_provider,
		u.failed_login_attempts, u.locked_until, u.status,
		u.created_at, u.updated_at, u.deleted_at
	FROM users u
	LEFT JOIN roles r ON r.id = u.role_id
`

func scanUser(row pgx.Row) (*identity.User, error) {
	var user identity.User
	var lockedUntil, deletedAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.TenantID, &user.Email,
		&user.Profile.GivenName, &user.Profile.FamilyName, &user.Profile.FullName,
		&user.Profile.Locale, &user.Profile.Timezone,
		&user.RoleID, &user.RoleName, &user.Permissions, &user.SecurityStamp,
		&user.MFAEnabled, &user.MFASecret,
		&user.ExternalSubject, &user.ExternalProvider,
		&user.FailedLoginAttempts, &lockedUntil, &user.Status,
		&user.CreatedAt, &user.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if lockedUntil.Valid {
		user.LockedUntil = &lockedUntil.Time
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}

	return &user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, selectUser+`
		WHERE u.id = $1 AND u.deleted_at IS NULL
	`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by email within a tenant
func (r *UserRepository) GetByEmail(ctx context.Context, tenantID, email string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, selectUser+`
		WHERE u.tenant_id = $1 AND u.email = $2 AND u.deleted_at IS NULL
	`, tenantID, email)
	return scanUser(row)
}

// GetByExternalSubject retrieves a user by provider subject within a tenant
func (r *UserRepository) GetByExternalSubject(ctx context.Context, tenantID, provider, subject string) (*identity.User, error) {
	row := r.db.pool.QueryRow(ctx, selectUser+`
		WHERE u.tenant_id = $1 AND u.external_provider = $2 AND u.external_subject = $3
			AND u.external_subject <> '' AND u.deleted_at IS NULL
	`, tenantID, provider, subject)
	return scanUser(row)
}

// Update updates user information
func (r *UserRepository) Update(ctx context.Context, user *identity.User) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET
			email = $3,
			given_name = $4,
			family_name = $5,
			full_name = $6,
			locale = $7,
			timezone = $8,
			role_id = $9,
			permissions = $10,
			security_stamp = $11,
			mfa_enabled = $12,
			mfa_secret = $13,
			external_subject = $14,
			external_provider = $15,
			status = $16,
			updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`,
		user.ID, user.TenantID, user.Email,
		user.Profile.GivenName, user.Profile.FamilyName, user.Profile.FullName,
		user.Profile.Locale, user.Profile.Timezone,
		user.RoleID, user.Permissions, user.SecurityStamp,
		user.MFAEnabled, user.MFASecret,
		user.ExternalSubject, user.ExternalProvider,
		user.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// UpdateLockout updates user lockout status
func (r *UserRepository) UpdateLockout(ctx context.Context, userID string, failedAttempts int, lockedUntil *time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update user lockout status: %w", err)
	}
	return nil
}

// GetCredentials retrieves user credentials
func (r *UserRepository) GetCredentials(ctx context.Context, userID string) (*identity.Credentials, error) {
	var creds identity.Credentials

	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at
		FROM credentials
		WHERE user_id = $1
	`, userID).Scan(&creds.UserID, &creds.PasswordHash, &creds.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return &creds, nil
}

// UpdatePassword updates user password
func (r *UserRepository) UpdatePassword(ctx context.Context, userID string, passwordHash string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE credentials SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// UpdatePermissions re-materializes the user's permission snapshot
func (r *UserRepository) UpdatePermissions(ctx context.Context, userID string, permissions []string) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE users SET permissions = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, userID, permissions)
	if err != nil {
		return fmt.Errorf("failed to update permissions: %w", err)
	}
	if result.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// ListByRole retrieves users holding a role within a tenant
func (r *UserRepository) ListByRole(ctx context.Context, tenantID, roleID string) ([]*identity.User, error) {
	rows, err := r.db.pool.Query(ctx, selectUser+`
		WHERE u.tenant_id = $1 AND u.role_id = $2 AND u.deleted_at IS NULL
		ORDER BY u.created_at
	`, tenantID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	var users []*identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
