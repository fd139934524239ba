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
	"log/slog"
	"os"

	"github.com/gatehouse-io/gatehouse/internal/audit"
	"github.com/gatehouse-io/gatehouse/internal/authz"
)

const (
	EnvBootstrapAdminEmail    = "GH_BOOTSTRAP_ADMIN_EMAIL"
	EnvBootstrapAdminTenantID = "GH_BOOTSTRAP_ADMIN_TENANT_ID"
)

// BootstrapService promotes the first super admin. Without it a fresh
// deployment has no user able to reach the admin surface.
type BootstrapService struct {
	identityService *Service
	roleRepo        authz.RoleRepository
	auditLogger     audit.Logger
}

// NewBootstrapService creates a new bootstrap service
func NewBootstrapService(
	identityService *Service,
	roleRepo authz.RoleRepository,
	auditLogger audit.Logger,
) *BootstrapService {
	return &BootstrapService{
		identityService: identityService,
		roleRepo:        roleRepo,
		auditLogger:     auditLogger,
	}
}

// Bootstrap assigns super_admin to the user named by environment variables,
// once. It is a no-op when the variables are unset or a super admin already
// exists, so it is safe to run on every startup.
func (s *BootstrapService) Bootstrap(ctx context.Context) error {
	email := os.Getenv(EnvBootstrapAdminEmail)
	tenantID := os.Getenv(EnvBootstrapAdminTenantID)

	if email == "" {
		return nil
	}

	role, err := s.roleRepo.GetByName(ctx, tenantID, authz.RoleSuperAdmin)
	if err != nil {
		return fmt.Errorf("failed to resolve super_admin role: %w", err)
	}

	assigned, err := s.roleRepo.CountAssignedUsers(ctx, role.ID)
	if err != nil {
		return fmt.Errorf("failed to check for existing super admin: %w", err)
	}
	if assigned > 0 {
		return nil
	}

	user, err := s.identityService.GetByEmail(ctx, tenantID, email)
	if err != nil {
		return fmt.Errorf("bootstrap user not found (tenant: %s, email: %s): %w", tenantID, email, err)
	}

	if _, err := s.identityService.AssignRole(ctx, user.ID, role.ID); err != nil {
		return fmt.Errorf("failed to grant super_admin during bootstrap: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeUserProvisioned,
		TenantID: tenantID,
		ActorID:  user.ID,
		Resource: user.ID,
		Metadata: map[string]any{audit.AttrReason: "super_admin_bootstrap"},
	})

	slog.InfoContext(ctx, "bootstrapped initial super admin",
		slog.String("tenant_id", tenantID),
		slog.String("user_id", user.ID),
	)
	return nil
}
