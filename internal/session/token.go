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

package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
)

// TokenClaims is the payload of a Gatehouse access token. The token names a
// server-side session row; authorization decisions always go through the row
// and the user record, never through the token alone.
type TokenClaims struct {
	TenantID      string `json:"tid"`
	SessionID     string `json:"sid"`
	RoleName      string `json:"role"`
	SecurityStamp string `json:"stamp"`
	jwt.RegisteredClaims
}

// TokenMinter mints and parses HS256 access tokens.
type TokenMinter struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewTokenMinter creates a token minter. ttl is the access token lifetime.
func NewTokenMinter(signingKey []byte, issuer string, ttl time.Duration) *TokenMinter {
	return &TokenMinter{
		signingKey: signingKey,
		issuer:     issuer,
		ttl:        ttl,
	}
}

// TTL returns the access token lifetime.
func (m *TokenMinter) TTL() time.Duration { return m.ttl }

// Mint signs an access token for the session. Returns the token and its
// expiry. roleName is informational for token consumers; authorization reads
// the live user row, not the claim.
func (m *TokenMinter) Mint(userID, roleName string, sess *Session) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	claims := TokenClaims{
		TenantID:      sess.TenantID,
		SessionID:     sess.ID,
		RoleName:      roleName,
		SecurityStamp: sess.SecurityStamp,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", time.Time{}, apperr.Wrap(err, apperr.CodeInternal, "failed to sign access token")
	}
	return signed, expiresAt, nil
}

// Parse validates the signature and lifetime of an access token and returns
// its claims.
func (m *TokenMinter) Parse(raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return m.signingKey, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(err, apperr.CodeSessionExpired, "access token has expired")
		}
		return nil, apperr.Wrap(err, apperr.CodeTokenInvalid, "invalid access token")
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return nil, apperr.New(apperr.CodeTokenInvalid, "access token missing session binding")
	}
	return claims, nil
}
