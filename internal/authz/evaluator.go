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

package authz

import "strings"

// Subject is the authenticated principal a permission check runs against:
// the role name plus the permission snapshot taken at session issuance.
type Subject struct {
	UserID      string
	TenantID    string
	RoleName    string
	Permissions []string
}

// Evaluate reports whether the subject holds the required permission.
//
// super_admin bypasses evaluation unconditionally. Everything else is an
// exact match against the subject's snapshot; a malformed requirement (empty,
// or not "resource:action") denies. Evaluation is fail-closed throughout:
// when in doubt, the answer is no.
func Evaluate(subject Subject, required string) bool {
	if subject.RoleName == RoleSuperAdmin {
		return true
	}

	resource, action, ok := splitPermission(required)
	if !ok || resource == "" || action == "" {
		return false
	}

	for _, p := range subject.Permissions {
		if p == PermWildcard || p == required {
			return true
		}
	}
	return false
}

// EvaluateAny reports whether the subject holds at least one of the required
// permissions. An empty requirement list denies.
func EvaluateAny(subject Subject, required ...string) bool {
	for _, r := range required {
		if Evaluate(subject, r) {
			return true
		}
	}
	return false
}

// EvaluateAll reports whether the subject holds every required permission.
// An empty requirement list denies.
func EvaluateAll(subject Subject, required ...string) bool {
	if len(required) == 0 {
		return false
	}
	for _, r := range required {
		if !Evaluate(subject, r) {
			return false
		}
	}
	return true
}

// splitPermission parses "resource:action". Extra colons belong to the
// action so permission names like "reports:export:csv" remain expressible.
func splitPermission(s string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(s, ":")
	return resource, action, ok
}
