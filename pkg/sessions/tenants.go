package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/tether/pkg/types"
)

// CreateTenant registers a tenant, assigning an id when none is given
func (s *Service) CreateTenant(ctx context.Context, tenant *types.Tenant) error {
	if strings.TrimSpace(tenant.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrInvalidArgument)
	}
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = s.clock.Now()
	}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	s.logger.Info().Str("tenant_id", tenant.ID).Msg("Tenant created")
	return nil
}

// GetTenant returns a tenant
func (s *Service) GetTenant(ctx context.Context, id string) (*types.Tenant, error) {
	return s.store.GetTenant(ctx, id)
}

// AddProfile adds a profile to a tenant. With admin set the profile becomes
// the tenant's designated alert recipient.
func (s *Service) AddProfile(ctx context.Context, tenantID string, profile *types.Profile, admin bool) error {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load tenant: %w", err)
	}

	profile.TenantID = tenantID
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	if profile.Role == "" {
		profile.Role = types.ProfileRoleMember
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = s.clock.Now()
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	if admin {
		tenant.AdminProfileID = profile.ID
		if err := s.store.UpdateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("failed to update tenant: %w", err)
		}
	}
	return nil
}

// Audit returns the notifications sent to a tenant, oldest first
func (s *Service) Audit(ctx context.Context, tenantID string) ([]*types.AuditEntry, error) {
	if _, err := s.store.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, tenantID)
}
