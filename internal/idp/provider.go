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

package idp

import (
	"context"
	"strings"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/apperr"
)

// ProviderType is the closed set of supported external identity providers.
type ProviderType string

const (
	TypeAzureAD    ProviderType = "azure_ad"
	TypeOkta       ProviderType = "okta"
	TypeAuth0      ProviderType = "auth0"
	TypeAWSCognito ProviderType = "aws_cognito"
)

// KnownTypes lists every supported provider type.
var KnownTypes = []ProviderType{TypeAzureAD, TypeOkta, TypeAuth0, TypeAWSCognito}

// Valid reports whether t is a supported provider type.
func (t ProviderType) Valid() bool {
	switch t {
	case TypeAzureAD, TypeOkta, TypeAuth0, TypeAWSCognito:
		return true
	}
	return false
}

// Config is the per-type provider configuration. One struct per variant so
// mandatory-field validation is enforced by exhaustive matching, not by
// poking at a string map at login time.
type Config interface {
	Type() ProviderType

	// Validate checks mandatory fields. A failure means the config must not
	// be persisted.
	Validate() error

	// JWKSURI returns the key set endpoint used to verify ID tokens.
	JWKSURI() string

	// Issuer returns the expected iss claim, with any provider-specific
	// template substitution already applied.
	Issuer() string

	// Audience returns the expected aud claim.
	Audience() string

	// Fields returns the flat key-value form used for persistence and the
	// admin API.
	Fields() map[string]string
}

// AzureADConfig configures a Microsoft Entra ID (Azure AD) tenant.
// IssuerTemplate may contain the literal `{tenantId}` placeholder, which is
// substituted with DirectoryTenantID.
type AzureADConfig struct {
	DirectoryTenantID string
	ClientID          string
	IssuerTemplate    string
	JWKSEndpoint      string
	ExpectedAudience  string
}

func (c AzureADConfig) Type() ProviderType { return TypeAzureAD }

func (c AzureADConfig) Validate() error {
	return requireFields(TypeAzureAD, map[string]string{
		"tenantId": c.DirectoryTenantID,
		"clientId": c.ClientID,
		"issuer":   c.IssuerTemplate,
		"jwksUri":  c.JWKSEndpoint,
		"audience": c.ExpectedAudience,
	})
}

func (c AzureADConfig) JWKSURI() string { return c.JWKSEndpoint }

func (c AzureADConfig) Issuer() string {
	return strings.ReplaceAll(c.IssuerTemplate, "{tenantId}", c.DirectoryTenantID)
}

func (c AzureADConfig) Audience() string { return c.ExpectedAudience }

func (c AzureADConfig) Fields() map[string]string {
	return map[string]string{
		"tenantId": c.DirectoryTenantID,
		"clientId": c.ClientID,
		"issuer":   c.IssuerTemplate,
		"jwksUri":  c.JWKSEndpoint,
		"audience": c.ExpectedAudience,
	}
}

// OktaConfig configures an Okta org.
type OktaConfig struct {
	Domain           string
	ClientID         string
	IssuerURL        string
	JWKSEndpoint     string
	ExpectedAudience string
}

func (c OktaConfig) Type() ProviderType { return TypeOkta }

func (c OktaConfig) Validate() error {
	return requireFields(TypeOkta, map[string]string{
		"domain":   c.Domain,
		"clientId": c.ClientID,
		"issuer":   c.IssuerURL,
		"jwksUri":  c.JWKSEndpoint,
		"audience": c.ExpectedAudience,
	})
}

func (c OktaConfig) JWKSURI() string  { return c.JWKSEndpoint }
func (c OktaConfig) Issuer() string   { return c.IssuerURL }
func (c OktaConfig) Audience() string { return c.ExpectedAudience }

func (c OktaConfig) Fields() map[string]string {
	return map[string]string{
		"domain":   c.Domain,
		"clientId": c.ClientID,
		"issuer":   c.IssuerURL,
		"jwksUri":  c.JWKSEndpoint,
		"audience": c.ExpectedAudience,
	}
}

// Auth0Config configures an Auth0 tenant.
type Auth0Config struct {
	Domain           string
	ClientID         string
	IssuerURL        string
	JWKSEndpoint     string
	ExpectedAudience string
}

func (c Auth0Config) Type() ProviderType { return TypeAuth0 }

func (c Auth0Config) Validate() error {
	return requireFields(TypeAuth0, map[string]string{
		"domain":   c.Domain,
		"clientId": c.ClientID,
		"issuer":   c.IssuerURL,
		"jwksUri":  c.JWKSEndpoint,
		"audience": c.ExpectedAudience,
	})
}

func (c Auth0Config) JWKSURI() string  { return c.JWKSEndpoint }
func (c Auth0Config) Issuer() string   { return c.IssuerURL }
func (c Auth0Config) Audience() string { return c.ExpectedAudience }

func (c Auth0Config) Fields() map[string]string {
	return map[string]string{
		"domain":   c.Domain,
		"clientId": c.ClientID,
		"issuer":   c.IssuerURL,
		"jwksUri":  c.JWKSEndpoint,
		"audience": c.ExpectedAudience,
	}
}

// CognitoConfig configures an AWS Cognito user pool.
type CognitoConfig struct {
	Region           string
	UserPoolID       string
	ClientID         string
	IssuerURL        string
	JWKSEndpoint     string
	ExpectedAudience string
}

func (c CognitoConfig) Type() ProviderType { return TypeAWSCognito }

func (c CognitoConfig) Validate() error {
	return requireFields(TypeAWSCognito, map[string]string{
		"region":     c.Region,
		"userPoolId": c.UserPoolID,
		"clientId":   c.ClientID,
		"issuer":     c.IssuerURL,
		"jwksUri":    c.JWKSEndpoint,
		"audience":   c.ExpectedAudience,
	})
}

func (c CognitoConfig) JWKSURI() string  { return c.JWKSEndpoint }
func (c CognitoConfig) Issuer() string   { return c.IssuerURL }
func (c CognitoConfig) Audience() string { return c.ExpectedAudience }

func (c CognitoConfig) Fields() map[string]string {
	return map[string]string{
		"region":     c.Region,
		"userPoolId": c.UserPoolID,
		"clientId":   c.ClientID,
		"issuer":     c.IssuerURL,
		"jwksUri":    c.JWKSEndpoint,
		"audience":   c.ExpectedAudience,
	}
}

// ParseConfig builds the typed config for a provider type from its flat
// key-value form. Unknown types and missing mandatory fields fail with
// INVALID_PROVIDER_CONFIG.
func ParseConfig(pt ProviderType, fields map[string]string) (Config, error) {
	var cfg Config
	switch pt {
	case TypeAzureAD:
		cfg = AzureADConfig{
			DirectoryTenantID: fields["tenantId"],
			ClientID:          fields["clientId"],
			IssuerTemplate:    fields["issuer"],
			JWKSEndpoint:      fields["jwksUri"],
			ExpectedAudience:  fields["audience"],
		}
	case TypeOkta:
		cfg = OktaConfig{
			Domain:           fields["domain"],
			ClientID:         fields["clientId"],
			IssuerURL:        fields["issuer"],
			JWKSEndpoint:     fields["jwksUri"],
			ExpectedAudience: fields["audience"],
		}
	case TypeAuth0:
		cfg = Auth0Config{
			Domain:           fields["domain"],
			ClientID:         fields["clientId"],
			IssuerURL:        fields["issuer"],
			JWKSEndpoint:     fields["jwksUri"],
			ExpectedAudience: fields["audience"],
		}
	case TypeAWSCognito:
		cfg = CognitoConfig{
			Region:           fields["region"],
			UserPoolID:       fields["userPoolId"],
			ClientID:         fields["clientId"],
			IssuerURL:        fields["issuer"],
			JWKSEndpoint:     fields["jwksUri"],
			ExpectedAudience: fields["audience"],
		}
	default:
		return nil, apperr.Newf(apperr.CodeInvalidProviderConfig, "unknown provider type %q", pt)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireFields(pt ProviderType, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.CodeInvalidProviderConfig, "%s config missing mandatory fields: %s", pt, strings.Join(missing, ", "))
	}
	return nil
}

// Provider represents a tenant-scoped external identity provider
// configuration. Inactive providers never participate in login.
type Provider struct {
	ID        string
	TenantID  string
	Type      ProviderType
	Config    Config
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository defines the interface for provider persistence
type Repository interface {
	Create(ctx context.Context, provider *Provider) error
	GetByID(ctx context.Context, id string) (*Provider, error)
	GetByTenantAndType(ctx context.Context, tenantID string, pt ProviderType) (*Provider, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Provider, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*Provider, error)
	Update(ctx context.Context, provider *Provider) error
	Delete(ctx context.Context, id string) error
}
