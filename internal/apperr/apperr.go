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

// Package apperr carries machine-readable error codes across service
// boundaries. Handlers map codes to HTTP statuses and user-safe messages;
// the code itself is what goes to logs and telemetry.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class. Codes are stable API; messages are not.
type Code string

const (
	CodeTenantNotFound        Code = "TENANT_NOT_FOUND"
	CodeProviderNotConfigured Code = "PROVIDER_NOT_CONFIGURED"
	CodeProviderInactive      Code = "PROVIDER_INACTIVE"
	CodeInvalidProviderConfig Code = "INVALID_PROVIDER_CONFIG"
	CodeInvalidCredentials    Code = "INVALID_CREDENTIALS"
	CodeMFARequired           Code = "MFA_REQUIRED"
	CodeMFAInvalidCode        Code = "MFA_INVALID_CODE"
	CodeTokenExpired          Code = "TOKEN_EXPIRED"
	CodeTokenIssuerMismatch   Code = "TOKEN_ISSUER_MISMATCH"
	CodeTokenAudienceMismatch Code = "TOKEN_AUDIENCE_MISMATCH"
	CodeTokenInvalid          Code = "TOKEN_INVALID"
	CodeJWKSFetchFailed       Code = "JWKS_FETCH_FAILED"
	CodeJWKSFetchTimeout      Code = "JWKS_FETCH_TIMEOUT"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeSessionExpired        Code = "SESSION_EXPIRED"
	CodeSessionRevoked        Code = "SESSION_REVOKED"
	CodeAccountLocked         Code = "ACCOUNT_LOCKED"
	CodeUserNotFound          Code = "USER_NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInternal              Code = "INTERNAL"
)

// Error is a code-carrying error. Message is operator-facing; it must never
// be echoed verbatim to end users on authentication paths.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by code, so callers can test against
// sentinel errors built with New.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and an operator-facing message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, or CodeInternal if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether the failure is transient from the caller's
// point of view. Cryptographic and claim mismatches are never retryable.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeJWKSFetchTimeout, CodeJWKSFetchFailed:
		return true
	default:
		return false
	}
}
