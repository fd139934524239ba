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
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/gatehouse-io/gatehouse/internal/audit"
)

// MFAEnrollment is handed back from InitiateMFA so the client can render a
// QR code. The secret is not yet active; EnableMFA with a valid code
// completes enrollment.
type MFAEnrollment struct {
	Secret     string
	OTPAuthURL string
}

// InitiateMFA generates a TOTP secret for the user and stores it pending.
// MFA stays disabled until EnableMFA confirms the user can produce codes.
func (s *Service) InitiateMFA(ctx context.Context, userID, issuer string) (*MFAEnrollment, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	user.MFASecret = key.Secret()
	user.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to store totp secret: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMFAChallenge,
		TenantID: user.TenantID,
		ActorID:  userID,
		Resource: userID,
		Metadata: map[string]any{audit.AttrReason: "enrollment_initiated"},
	})

	return &MFAEnrollment{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// EnableMFA completes enrollment by checking a live code against the pending
// secret, then rotates the security stamp so pre-enrollment sessions die.
func (s *Service) EnableMFA(ctx context.Context, userID, code string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	if user.MFASecret == "" {
		return ErrMFANotEnabled
	}

	if !totp.Validate(code, user.MFASecret) {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeMFAFailed,
			TenantID: user.TenantID,
			ActorID:  userID,
			Resource: userID,
			Metadata: map[string]any{audit.AttrReason: "enrollment_code_invalid"},
		})
		return ErrInvalidCredentials
	}

	user.MFAEnabled = true
	if err := s.rotateStamp(ctx, user); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMFAEnabled,
		TenantID: user.TenantID,
		ActorID:  userID,
		Resource: userID,
	})

	return nil
}

// DisableMFA turns MFA off after a current code confirms possession of the
// authenticator. The stamp rotation invalidates existing sessions.
func (s *Service) DisableMFA(ctx context.Context, userID, code string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	if !totp.Validate(code, user.MFASecret) {
		return ErrInvalidCredentials
	}

	user.MFAEnabled = false
	user.MFASecret = ""
	if err := s.rotateStamp(ctx, user); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMFADisabled,
		TenantID: user.TenantID,
		ActorID:  userID,
		Resource: userID,
	})

	return nil
}

// VerifyMFACode checks a TOTP code for a user with MFA enabled.
func (s *Service) VerifyMFACode(ctx context.Context, userID, code string) (bool, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return false, ErrUserNotFound
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		return false, ErrMFANotEnabled
	}
	return totp.Validate(code, user.MFASecret), nil
}
