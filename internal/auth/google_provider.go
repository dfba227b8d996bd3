package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	// ProviderGoogle is the route name of the Google provider.
	ProviderGoogle = "google"

	defaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

var (
	errMissingClientID    = errors.New("client id required")
	errMissingRedirectURL = errors.New("redirect url required")
	errMissingIDToken     = errors.New("token response carried no id_token")
)

// IDTokenVerifier validates a raw OpenID Connect ID token.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (GoogleClaims, error)
}

// GoogleProviderConfig configures the Google authorization-code flow.
type GoogleProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides Google's OAuth endpoints; zero value uses the public ones.
	Endpoint   oauth2.Endpoint
	JWKSURL    string
	Verifier   IDTokenVerifier
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GoogleProvider exchanges Google authorization codes for verified identity assertions.
type GoogleProvider struct {
	oauth      *oauth2.Config
	verifier   IDTokenVerifier
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGoogleProvider validates configuration and constructs the provider.
func NewGoogleProvider(cfg GoogleProviderConfig) (*GoogleProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: google: %v", ErrInvalidProviderConfig, errMissingClientID)
	}
	redirectURL := strings.TrimSpace(cfg.RedirectURL)
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: google: %v", ErrInvalidProviderConfig, errMissingRedirectURL)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	verifier := cfg.Verifier
	if verifier == nil {
		jwksURL := strings.TrimSpace(cfg.JWKSURL)
		if jwksURL == "" {
			jwksURL = defaultGoogleJWKSURL
		}
		googleVerifier, err := NewGoogleVerifier(GoogleVerifierConfig{
			Audience:   clientID,
			JWKSURL:    jwksURL,
			HTTPClient: cfg.HTTPClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		verifier = googleVerifier
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		verifier:   verifier,
		httpClient: cfg.HTTPClient,
		logger:     logger,
	}, nil
}

// Name implements Provider.
func (p *GoogleProvider) Name() string {
	return ProviderGoogle
}

// AuthCodeURL returns the consent screen URL carrying the signed state.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// ExchangeGrant redeems the authorization code and verifies the returned ID token.
func (p *GoogleProvider) ExchangeGrant(ctx context.Context, code string) (Assertion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Assertion{}, fmt.Errorf("%w: google: empty code", ErrGrantExchange)
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: google: %v", ErrGrantExchange, err)
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		return Assertion{}, fmt.Errorf("%w: google: %v", ErrGrantExchange, errMissingIDToken)
	}

	claims, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		p.logger.Warn("google id token rejected", zap.Error(err))
		return Assertion{}, fmt.Errorf("%w: google: %v", ErrGrantExchange, err)
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = strings.TrimSpace(claims.GivenName + " " + claims.FamilyName)
	}
	return Assertion{
		Provider:    ProviderGoogle,
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: displayName,
		GivenName:   claims.GivenName,
		FamilyName:  claims.FamilyName,
		AvatarURL:   claims.Picture,
	}, nil
}

var _ Provider = (*GoogleProvider)(nil)
