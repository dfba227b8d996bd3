// Package auth integrates external identity providers and gates requests on a valid session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrGrantExchange indicates the provider refused or failed to exchange an authorization grant.
	ErrGrantExchange = errors.New("auth: grant exchange failed")
	// ErrUnknownProvider is returned when a provider name is not registered.
	ErrUnknownProvider = errors.New("auth: unknown provider")

	errEmptyProviderName = errors.New("auth: provider name required")
)

// Assertion is the identity a provider vouches for after a successful grant exchange.
type Assertion struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	GivenName   string
	FamilyName  string
	AvatarURL   string
}

// ProviderID returns the stable external identifier, namespaced by provider.
func (a Assertion) ProviderID() string {
	provider := strings.TrimSpace(a.Provider)
	subject := strings.TrimSpace(a.Subject)
	if provider == "" || subject == "" {
		return ""
	}
	return provider + ":" + subject
}

// Provider exchanges an OAuth authorization grant for an identity assertion.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	ExchangeGrant(ctx context.Context, code string) (Assertion, error)
}

// ProviderRegistry looks providers up by their route name.
type ProviderRegistry struct {
	providers map[string]Provider
}

// NewProviderRegistry indexes the supplied providers by name.
func NewProviderRegistry(providers ...Provider) (*ProviderRegistry, error) {
	indexed := make(map[string]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(provider.Name()))
		if name == "" {
			return nil, errEmptyProviderName
		}
		if _, exists := indexed[name]; exists {
			return nil, fmt.Errorf("auth: provider %q registered twice", name)
		}
		indexed[name] = provider
	}
	return &ProviderRegistry{providers: indexed}, nil
}

// Lookup returns the provider registered under name.
func (r *ProviderRegistry) Lookup(name string) (Provider, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return provider, nil
}

// Names lists the registered provider names in sorted order.
func (r *ProviderRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
