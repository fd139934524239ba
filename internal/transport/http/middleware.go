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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/observability/logger"
)

// Tenant context is derived exclusively from the validated session. Headers
// and query parameters never carry tenant identity: a client that could name
// its own tenant could read another tenant's data.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware validates the bearer token and attaches the authenticated
// context. Validation re-reads the session row and the user, so revocation
// and security-stamp rotation take effect here, not at token expiry.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken := bearerToken(r)
		if rawToken == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		ac, err := h.issuer.Validate(r.Context(), rawToken)
		if err != nil {
			code := apperr.CodeOf(err)
			slog.InfoContext(r.Context(), "token rejected",
				logger.ErrorCode(string(code)),
				logger.RequestID(middleware.GetReqID(r.Context())),
			)
			respondErrorCode(w, http.StatusUnauthorized, code, "invalid or expired session")
			return
		}

		// Tenant spoofing guard: authenticated requests carry tenant
		// identity in the session only.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(r.Context(), "tenant header on authenticated request",
				logger.UserID(ac.User.ID),
				logger.SessionID(ac.Session.ID),
			)
			respondError(w, http.StatusBadRequest, "X-Tenant-ID header is not allowed on authenticated requests")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// RequirePermission gates a route on one permission. Evaluation is
// fail-closed: no auth context, no permission snapshot, or a malformed
// permission string all deny.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac := GetAuthContext(r.Context())
			if ac == nil {
				respondError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if !authz.Evaluate(ac.Subject(), permission) {
				slog.InfoContext(r.Context(), "permission denied",
					logger.UserID(ac.User.ID),
					logger.TenantID(ac.User.TenantID),
					logger.Permission(permission),
				)
				respondErrorCode(w, http.StatusForbidden, apperr.CodePermissionDenied, "permission denied")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
