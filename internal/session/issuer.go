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

// Package session issues and validates access tokens. Every token is backed
// by a server-side session row carrying the user's security stamp at
// issuance; validation re-reads both, so revocation takes effect within one
// request.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/extauth"
	"github.com/gatehouse-io/gatehouse/internal/identity"
	"github.com/gatehouse-io/gatehouse/internal/idp"
	"github.com/gatehouse-io/gatehouse/internal/observability/logger"
	"github.com/gatehouse-io/gatehouse/internal/tenant"
)

// UserDirectory is the slice of the identity service the issuer needs.
type UserDirectory interface {
	Authenticate(ctx context.Context, tenantID, email, password string) (*identity.User, error)
	VerifyMFACode(ctx context.Context, userID, code string) (bool, error)
	GetUser(ctx context.Context, userID string) (*identity.User, error)
	GetByExternalSubject(ctx context.Context, tenantID, provider, subject string) (*identity.User, error)
	ProvisionExternal(ctx context.Context, tenantID, provider, subject, email, fullName, roleID string) (*identity.User, error)
	RefreshPermissions(ctx context.Context, user *identity.User) error
}

// StrategyResolver resolves a login identifier to a tenant's auth posture.
// *tenant.Service satisfies it.
type StrategyResolver interface {
	ResolveStrategy(ctx context.Context, identifier string) (*tenant.StrategyInfo, error)
}

// ExternalVerifier verifies external provider ID tokens. *extauth.Verifier
// satisfies it.
type ExternalVerifier interface {
	Verify(ctx context.Context, tenantID string, pt idp.ProviderType, rawToken string) (*extauth.Claims, error)
}

// RoleDirectory resolves roles by name for auto-provisioning.
type RoleDirectory interface {
	GetRoleByName(ctx context.Context, tenantID, name string) (*authz.Role, error)
}

// LoginResult is the outcome of a successful credential check. When the user
// has MFA enabled, MFARequired is set, SessionID names the pending session,
// and no token is issued until VerifyMFA succeeds.
type LoginResult struct {
	MFARequired bool
	SessionID   string
	Token       string
	ExpiresAt   time.Time
	User        *identity.User
}

// AuthContext is the authenticated state attached to a validated request.
type AuthContext struct {
	User    *identity.User
	Session *Session
	Claims  *TokenClaims
}

// Subject converts the context into an authorization subject.
func (a *AuthContext) Subject() authz.Subject {
	return authz.Subject{
		UserID:      a.User.ID,
		TenantID:    a.User.TenantID,
		RoleName:    a.User.RoleName,
		Permissions: a.User.Permissions,
	}
}

// Issuer implements session issuance: local login with two-phase MFA,
// external login with optional auto-provisioning, validation, and
// revocation.
type Issuer struct {
	sessions    Repository
	users       UserDirectory
	tenants     StrategyResolver
	verifier    ExternalVerifier
	roles       RoleDirectory
	minter      *TokenMinter
	auditLogger audit.Logger

	mfaChallengeTTL time.Duration
	idleTimeout     time.Duration

	// defaultExternalRole is the role name auto-provisioned users receive.
	defaultExternalRole string
}

// NewIssuer creates a session issuer.
func NewIssuer(
	sessions Repository,
	users UserDirectory,
	tenants StrategyResolver,
	verifier ExternalVerifier,
	roles RoleDirectory,
	minter *TokenMinter,
	auditLogger audit.Logger,
	mfaChallengeTTL, idleTimeout time.Duration,
) *Issuer {
	return &Issuer{
		sessions:            sessions,
		users:               users,
		tenants:             tenants,
		verifier:            verifier,
		roles:               roles,
		minter:              minter,
		auditLogger:         auditLogger,
		mfaChallengeTTL:     mfaChallengeTTL,
		idleTimeout:         idleTimeout,
		defaultExternalRole: authz.RoleViewer,
	}
}

// LoginLocal authenticates email+password against the tenant resolved from
// the email's domain. With MFA enabled the result is a pending session and
// no token; the caller must follow up with VerifyMFA.
func (i *Issuer) LoginLocal(ctx context.Context, email, password, ipAddress, userAgent string) (*LoginResult, error) {
	info, err := i.tenants.ResolveStrategy(ctx, email)
	if err != nil {
		return nil, err
	}
	if !info.Tenant.Active() {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "tenant is deactivated")
	}
	if !info.AuthStrategy.AllowsPassword() {
		// The tenant mandated an external provider. Refusing here, rather
		// than quietly checking the password anyway, is what makes the
		// strategy enforceable.
		return nil, apperr.Newf(apperr.CodeInvalidCredentials, "password login is not enabled for this tenant")
	}

	user, err := i.users.Authenticate(ctx, info.Tenant.ID, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrAccountLocked) {
			return nil, apperr.Wrap(err, apperr.CodeAccountLocked, "account is temporarily locked")
		}
		return nil, apperr.Wrap(err, apperr.CodeInvalidCredentials, "authentication failed")
	}

	if err := i.users.RefreshPermissions(ctx, user); err != nil {
		return nil, err
	}

	if user.MFAEnabled {
		sess, err := i.createSession(ctx, user, ipAddress, userAgent, true)
		if err != nil {
			return nil, err
		}
		i.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeMFAChallenge,
			TenantID:  user.TenantID,
			ActorID:   user.ID,
			Resource:  sess.ID,
			IPAddress: ipAddress,
			UserAgent: userAgent,
		})
		return &LoginResult{MFARequired: true, SessionID: sess.ID, User: user}, nil
	}

	return i.issue(ctx, user, ipAddress, userAgent)
}

// VerifyMFA completes a pending login with a TOTP code. A wrong code leaves
// the pending session in place so the user can retry until it expires; only
// then does the whole login start over.
func (i *Issuer) VerifyMFA(ctx context.Context, sessionID, code, ipAddress, userAgent string) (*LoginResult, error) {
	sess, err := i.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeSessionExpired, "no pending login for this session")
	}
	if !sess.MFAPending || sess.Revoked {
		return nil, apperr.New(apperr.CodeTokenInvalid, "session is not awaiting verification")
	}
	if sess.IsExpired() {
		return nil, apperr.New(apperr.CodeSessionExpired, "verification window has closed")
	}

	ok, err := i.users.VerifyMFACode(ctx, sess.UserID, code)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to verify code")
	}
	if !ok {
		i.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeMFAFailed,
			TenantID:  sess.TenantID,
			ActorID:   sess.UserID,
			Resource:  sess.ID,
			IPAddress: ipAddress,
		})
		return nil, apperr.New(apperr.CodeMFAInvalidCode, "verification code is incorrect")
	}

	user, err := i.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeSessionRevoked, "user no longer exists")
	}
	if err := i.users.RefreshPermissions(ctx, user); err != nil {
		return nil, err
	}

	now := time.Now()
	sess.MFAPending = false
	sess.SecurityStamp = user.SecurityStamp
	sess.ExpiresAt = now.Add(i.minter.TTL())
	sess.LastSeenAt = now
	if err := i.sessions.Update(ctx, sess); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to promote session")
	}

	token, expiresAt, err := i.minter.Mint(user.ID, user.RoleName, sess)
	if err != nil {
		return nil, err
	}

	i.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeMFAVerified,
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Resource:  sess.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})

	return &LoginResult{SessionID: sess.ID, Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// LoginExternal exchanges a verified external ID token for a session. The
// tenant's strategy must permit the provider type; an unknown subject is
// auto-provisioned only when the tenant opted in, and rejected otherwise.
func (i *Issuer) LoginExternal(ctx context.Context, identifier string, pt idp.ProviderType, rawToken, ipAddress, userAgent string) (*LoginResult, error) {
	info, err := i.tenants.ResolveStrategy(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !info.Tenant.Active() {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "tenant is deactivated")
	}
	// Strategy gate only. Provider availability is the verifier's call: it
	// can tell a never-configured provider (PROVIDER_NOT_CONFIGURED) from a
	// deactivated one (PROVIDER_INACTIVE).
	if info.AuthStrategy == tenant.StrategyTraditional ||
		(info.AuthStrategy.External() && idp.ProviderType(info.AuthStrategy) != pt) {
		return nil, apperr.Newf(apperr.CodeProviderNotConfigured, "tenant does not accept %s logins", pt)
	}

	claims, err := i.verifier.Verify(ctx, info.Tenant.ID, pt, rawToken)
	if err != nil {
		i.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeExternalLoginFailed,
			TenantID:  info.Tenant.ID,
			Resource:  "login",
			IPAddress: ipAddress,
			Metadata: map[string]any{
				audit.AttrProviderType: string(pt),
				audit.AttrReason:       string(apperr.CodeOf(err)),
			},
		})
		return nil, err
	}

	user, err := i.users.GetByExternalSubject(ctx, info.Tenant.ID, string(pt), claims.Subject)
	if err != nil {
		if !info.Tenant.AutoProvision {
			i.auditLogger.Log(ctx, audit.Event{
				Type:      audit.TypeExternalLoginFailed,
				TenantID:  info.Tenant.ID,
				Resource:  "login",
				IPAddress: ipAddress,
				Metadata: map[string]any{
					audit.AttrProviderType: string(pt),
					audit.AttrReason:       "unknown_subject",
				},
			})
			return nil, apperr.New(apperr.CodeUserNotFound, "no account for this identity")
		}

		role, err := i.roles.GetRoleByName(ctx, info.Tenant.ID, i.defaultExternalRole)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "default provisioning role missing")
		}
		user, err = i.users.ProvisionExternal(ctx, info.Tenant.ID, string(pt), claims.Subject, claims.Email, claims.Name, role.ID)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to auto-provision user")
		}
	}

	if !user.Active() {
		return nil, apperr.New(apperr.CodeInvalidCredentials, "account is deactivated")
	}
	if err := i.users.RefreshPermissions(ctx, user); err != nil {
		return nil, err
	}

	result, err := i.issue(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	i.auditLogger.Log(ctx, audit.Event{
		Type:      audit.TypeExternalLoginSuccess,
		TenantID:  user.TenantID,
		ActorID:   user.ID,
		Resource:  result.SessionID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Metadata:  map[string]any{audit.AttrProviderType: string(pt)},
	})

	return result, nil
}

// Validate checks an access token end to end: signature and lifetime, then
// the backing session row (revocation, expiry, idleness), then the user's
// current security stamp. Any credential-affecting event since issuance
// rotated the stamp, so the comparison catches it here.
func (i *Issuer) Validate(ctx context.Context, rawToken string) (*AuthContext, error) {
	claims, err := i.minter.Parse(rawToken)
	if err != nil {
		return nil, err
	}

	sess, err := i.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, apperr.New(apperr.CodeSessionRevoked, "session no longer exists")
	}
	if sess.Revoked {
		return nil, apperr.New(apperr.CodeSessionRevoked, "session has been revoked")
	}
	if sess.MFAPending {
		return nil, apperr.New(apperr.CodeTokenInvalid, "session has not completed verification")
	}
	if sess.IsExpired() || sess.IsIdle(i.idleTimeout) {
		return nil, apperr.New(apperr.CodeSessionExpired, "session has expired")
	}

	user, err := i.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, apperr.New(apperr.CodeSessionRevoked, "user no longer exists")
	}
	if !user.Active() {
		return nil, apperr.New(apperr.CodeSessionRevoked, "account is deactivated")
	}
	if user.SecurityStamp != claims.SecurityStamp {
		return nil, apperr.New(apperr.CodeSessionRevoked, "credentials have changed since issuance")
	}

	sess.LastSeenAt = time.Now()
	if err := i.sessions.Update(ctx, sess); err != nil {
		// Losing a last-seen write is not worth failing the request.
		slog.WarnContext(ctx, "failed to update session last seen",
			logger.Component("session"),
			logger.SessionID(sess.ID),
			logger.Error(err),
		)
	}

	return &AuthContext{User: user, Session: sess, Claims: claims}, nil
}

// Revoke terminates a single session.
func (i *Issuer) Revoke(ctx context.Context, sessionID, actorID string) error {
	sess, err := i.sessions.Get(ctx, sessionID)
	if err != nil {
		return ErrSessionNotFound
	}
	sess.Revoked = true
	if err := i.sessions.Update(ctx, sess); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to revoke session")
	}

	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeLogout,
		TenantID: sess.TenantID,
		ActorID:  actorID,
		Resource: sess.ID,
	})
	return nil
}

// RevokeAllForUser terminates every session a user holds.
func (i *Issuer) RevokeAllForUser(ctx context.Context, userID, actorID string) error {
	if err := i.sessions.RevokeByUserID(ctx, userID); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to revoke sessions")
	}
	i.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSessionRevoked,
		ActorID:  actorID,
		Resource: userID,
	})
	return nil
}

// CleanupExpired removes expired sessions and stale pending logins.
func (i *Issuer) CleanupExpired(ctx context.Context) (int64, error) {
	return i.sessions.DeleteExpired(ctx)
}

// issue creates an active session row and mints its token.
func (i *Issuer) issue(ctx context.Context, user *identity.User, ipAddress, userAgent string) (*LoginResult, error) {
	sess, err := i.createSession(ctx, user, ipAddress, userAgent, false)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := i.minter.Mint(user.ID, user.RoleName, sess)
	if err != nil {
		return nil, err
	}

	return &LoginResult{SessionID: sess.ID, Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func (i *Issuer) createSession(ctx context.Context, user *identity.User, ipAddress, userAgent string, mfaPending bool) (*Session, error) {
	now := time.Now()
	ttl := i.minter.TTL()
	if mfaPending {
		ttl = i.mfaChallengeTTL
	}

	sess := &Session{
		ID:            uuid.NewString(),
		TenantID:      user.TenantID,
		UserID:        user.ID,
		SecurityStamp: user.SecurityStamp,
		MFAPending:    mfaPending,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		LastSeenAt:    now,
	}

	if err := i.sessions.Create(ctx, sess); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to create session")
	}
	return sess, nil
}
