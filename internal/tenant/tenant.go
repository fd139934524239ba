package tenant

import (
	"context"
	"time"
)

// AuthStrategy selects how a tenant's users authenticate. A tenant picks
// exactly one; hybrid permits password login and external providers
// simultaneously.
type AuthStrategy string

const (
	StrategyTraditional AuthStrategy = "traditional"
	StrategyAzureAD     AuthStrategy = "azure_ad"
	StrategyOkta        AuthStrategy = "okta"
	StrategyAuth0       AuthStrategy = "auth0"
	StrategyAWSCognito  AuthStrategy = "aws_cognito"
	StrategyHybrid      AuthStrategy = "hybrid"
)

// Valid reports whether s is a known strategy.
func (s AuthStrategy) Valid() bool {
	switch s {
	case StrategyTraditional, StrategyAzureAD, StrategyOkta, StrategyAuth0, StrategyAWSCognito, StrategyHybrid:
		return true
	}
	return false
}

// External reports whether the strategy names a single external provider.
func (s AuthStrategy) External() bool {
	switch s {
	case StrategyAzureAD, StrategyOkta, StrategyAuth0, StrategyAWSCognito:
		return true
	}
	return false
}

// AllowsPassword reports whether local email+password login is permitted.
func (s AuthStrategy) AllowsPassword() bool {
	return s == StrategyTraditional || s == StrategyHybrid
}

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Tenant represents an isolated customer account. EmailDomain is the
// corporate domain used to discover the tenant from a login identifier.
type Tenant struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	EmailDomain   string       `json:"email_domain"`
	AuthStrategy  AuthStrategy `json:"auth_strategy"`
	AutoProvision bool         `json:"auto_provision"`
	Status        string       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Active reports whether logins are currently permitted for the tenant.
// Deactivation freezes logins but preserves all tenant data.
func (t *Tenant) Active() bool {
	return t.Status == StatusActive
}

// Repository defines the interface for tenant storage
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByEmailDomain(ctx context.Context, domain string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}
