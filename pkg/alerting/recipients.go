package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cuemby/tether/pkg/storage"
	"github.com/cuemby/tether/pkg/types"
)

// ErrNoRecipient is returned when no address can be found for a tenant
var ErrNoRecipient = errors.New("no alert recipient")

// RecipientSource tells which rule of the chain produced a recipient
type RecipientSource string

const (
	SourceAdminProfile  RecipientSource = "admin_profile"
	SourceTenantContact RecipientSource = "tenant_contact"
	SourceAdminRole     RecipientSource = "administrative_profile"
	SourceFallback      RecipientSource = "fallback"
)

// Recipient is the address an alert for one tenant goes to
type Recipient struct {
	Address string
	Source  RecipientSource
}

// Directory is the part of the store the resolver reads
type Directory interface {
	GetTenant(ctx context.Context, id string) (*types.Tenant, error)
	GetProfile(ctx context.Context, id string) (*types.Profile, error)
	ListProfiles(ctx context.Context, tenantID string) ([]*types.Profile, error)
}

// RecipientResolver picks one recipient per tenant: the designated admin
// profile, then the tenant contact email, then any owner or admin profile,
// then the operator fallback.
type RecipientResolver struct {
	directory Directory
	fallback  string
}

// NewRecipientResolver creates a resolver. fallback may be empty.
func NewRecipientResolver(directory Directory, fallback string) *RecipientResolver {
	return &RecipientResolver{directory: directory, fallback: strings.TrimSpace(fallback)}
}

// Resolve returns the recipient for tenantID or ErrNoRecipient
func (r *RecipientResolver) Resolve(ctx context.Context, tenantID string) (Recipient, error) {
	tenant, err := r.directory.GetTenant(ctx, tenantID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return r.orFallback(tenantID)
	case err != nil:
		return Recipient{}, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	if tenant.AdminProfileID != "" {
		profile, err := r.directory.GetProfile(ctx, tenant.AdminProfileID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Recipient{}, fmt.Errorf("failed to load admin profile: %w", err)
		}
		if err == nil && profile.TenantID == tenantID && validAddress(profile.Email) {
			return Recipient{Address: profile.Email, Source: SourceAdminProfile}, nil
		}
	}

	if validAddress(tenant.ContactEmail) {
		return Recipient{Address: tenant.ContactEmail, Source: SourceTenantContact}, nil
	}

	profiles, err := r.directory.ListProfiles(ctx, tenantID)
	if err != nil {
		return Recipient{}, fmt.Errorf("failed to list profiles: %w", err)
	}
	for _, p := range profiles {
		if p.Role.Administrative() && validAddress(p.Email) {
			return Recipient{Address: p.Email, Source: SourceAdminRole}, nil
		}
	}

	return r.orFallback(tenantID)
}

func (r *RecipientResolver) orFallback(tenantID string) (Recipient, error) {
	if r.fallback != "" {
		return Recipient{Address: r.fallback, Source: SourceFallback}, nil
	}
	return Recipient{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNoRecipient)
}

func validAddress(s string) bool {
	s = strings.TrimSpace(s)
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1
}
