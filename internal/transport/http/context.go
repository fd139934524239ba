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

package http

import (
	"context"

	"github.com/gatehouse-io/gatehouse/internal/session"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// WithAuthContext attaches the validated authentication context.
func WithAuthContext(ctx context.Context, ac *session.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuthContext retrieves the authenticated context, or nil when the
// request never passed AuthMiddleware.
func GetAuthContext(ctx context.Context) *session.AuthContext {
	if ac, ok := ctx.Value(authContextKey).(*session.AuthContext); ok {
		return ac
	}
	return nil
}
