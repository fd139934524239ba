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

// Package extauth verifies ID tokens minted by external identity providers
// (Azure AD, Okta, Auth0, AWS Cognito) against the tenant's configured
// provider. Verification is strictly fail-closed: any ambiguity about
// signature, issuer, audience, or lifetime rejects the token.
package extauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/idp"
)

// validMethods is the closed set of signature algorithms accepted from
// external providers. alg=none and all symmetric algorithms are rejected by
// construction.
var validMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}

// ProviderResolver resolves a tenant's active provider of a given type.
// *idp.Service satisfies it.
type ProviderResolver interface {
	ActiveByType(ctx context.Context, tenantID string, pt idp.ProviderType) (*idp.Provider, error)
}

// Claims is the verified identity extracted from an external ID token.
type Claims struct {
	// Subject is the provider's stable identifier for the user (sub).
	Subject string
	// Email as asserted by the provider; may be empty if the provider
	// issued the token without an email-bearing claim.
	Email string
	// Name is the display name, when present.
	Name string
	// Issuer the token was verified against.
	Issuer string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verifier validates external ID tokens against per-tenant provider
// configuration and the provider's published key set.
type Verifier struct {
	providers ProviderResolver
	cache     *Cache
	clockSkew time.Duration
}

// NewVerifier creates a verifier. clockSkew is the leeway applied to exp and
// nbf checks to absorb clock drift between this service and the provider.
func NewVerifier(providers ProviderResolver, cache *Cache, clockSkew time.Duration) *Verifier {
	return &Verifier{
		providers: providers,
		cache:     cache,
		clockSkew: clockSkew,
	}
}

// Verify validates rawToken as an ID token from the tenant's active provider
// of type pt and returns the verified claims.
//
// The checks, in order: the provider must exist and be active; the signature
// must verify against a key from the provider's JWKS endpoint; iss must equal
// the configured issuer (after template substitution); aud must contain the
// configured audience; exp and nbf are enforced with the configured leeway.
// Every failure carries a typed code so callers can distinguish an expired
// token from a misconfigured provider.
func (v *Verifier) Verify(ctx context.Context, tenantID string, pt idp.ProviderType, rawToken string) (*Claims, error) {
	provider, err := v.providers.ActiveByType(ctx, tenantID, pt)
	if err != nil {
		return nil, err
	}
	cfg := provider.Config

	keyfunc := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, apperr.New(apperr.CodeTokenInvalid, "token header missing kid")
		}
		return v.cache.Key(ctx, cfg.JWKSURI(), kid)
	}

	parsed, err := jwt.Parse(rawToken, keyfunc,
		jwt.WithValidMethods(validMethods),
		jwt.WithIssuer(cfg.Issuer()),
		jwt.WithAudience(cfg.Audience()),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !parsed.Valid {
		return nil, apperr.New(apperr.CodeTokenInvalid, "token failed validation")
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.New(apperr.CodeTokenInvalid, "unexpected claims format")
	}

	return claimsFromToken(mapClaims)
}

// classifyParseError maps golang-jwt and key-resolution failures onto the
// typed error taxonomy. apperr codes raised inside the keyfunc (JWKS fetch
// failures, unknown kid) pass through unchanged.
func classifyParseError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperr.Wrap(err, apperr.CodeTokenExpired, "token has expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperr.Wrap(err, apperr.CodeTokenIssuerMismatch, "token issuer does not match provider configuration")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperr.Wrap(err, apperr.CodeTokenAudienceMismatch, "token audience does not match provider configuration")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return apperr.Wrap(err, apperr.CodeTokenInvalid, "token is not valid yet")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperr.Wrap(err, apperr.CodeTokenInvalid, "token signature verification failed")
	default:
		return apperr.Wrap(err, apperr.CodeTokenInvalid, "token verification failed")
	}
}

// claimsFromToken extracts the identity claims. sub is mandatory; providers
// disagree on where the email lives, so the common claim names are tried in
// order (email, then Azure AD's preferred_username and upn).
func claimsFromToken(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, apperr.New(apperr.CodeTokenInvalid, "token missing sub claim")
	}

	claims := &Claims{Subject: sub}

	if iss, err := mc.GetIssuer(); err == nil {
		claims.Issuer = iss
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, apperr.New(apperr.CodeTokenInvalid, "token missing exp claim")
	}
	claims.ExpiresAt = exp.Time

	for _, key := range []string{"email", "preferred_username", "upn"} {
		if s, ok := mc[key].(string); ok && s != "" {
			claims.Email = s
			break
		}
	}
	if name, ok := mc["name"].(string); ok {
		claims.Name = name
	}

	return claims, nil
}

// VerifyAgainstConfig validates rawToken directly against a provider config,
// bypassing registry lookup. Used by admin-side config testing so a tenant
// operator can check a candidate config before activating it.
func (v *Verifier) VerifyAgainstConfig(ctx context.Context, cfg idp.Config, rawToken string) (*Claims, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keyfunc := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, apperr.New(apperr.CodeTokenInvalid, "token header missing kid")
		}
		return v.cache.Key(ctx, cfg.JWKSURI(), kid)
	}

	parsed, err := jwt.Parse(rawToken, keyfunc,
		jwt.WithValidMethods(validMethods),
		jwt.WithIssuer(cfg.Issuer()),
		jwt.WithAudience(cfg.Audience()),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	return claimsFromToken(mapClaims)
}
