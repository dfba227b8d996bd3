package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ProviderGitHub is the route name of the GitHub provider.
const ProviderGitHub = "github"

const defaultGitHubAPIURL = "https://api.github.com"

// GitHubProviderConfig configures the GitHub authorization-code flow.
type GitHubProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint and APIBaseURL override the public GitHub hosts.
	Endpoint   oauth2.Endpoint
	APIBaseURL string
	HTTPClient *http.Client
}

// GitHubProvider exchanges GitHub authorization codes and reads the profile from the REST API.
type GitHubProvider struct {
	oauth      *oauth2.Config
	apiBaseURL string
	httpClient *http.Client
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider validates configuration and constructs the provider.
func NewGitHubProvider(cfg GitHubProviderConfig) (*GitHubProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: github: %v", ErrInvalidProviderConfig, errMissingClientID)
	}
	redirectURL := strings.TrimSpace(cfg.RedirectURL)
	if redirectURL == "" {
		return nil, fmt.Errorf("%w: github: %v", ErrInvalidProviderConfig, errMissingRedirectURL)
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = endpoints.GitHub
	}
	apiBaseURL := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultGitHubAPIURL
	}
	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		apiBaseURL: apiBaseURL,
		httpClient: cfg.HTTPClient,
	}, nil
}

// Name implements Provider.
func (p *GitHubProvider) Name() string {
	return ProviderGitHub
}

// AuthCodeURL returns the authorization URL carrying the signed state.
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeGrant redeems the authorization code and loads the user's profile.
func (p *GitHubProvider) ExchangeGrant(ctx context.Context, code string) (Assertion, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Assertion{}, fmt.Errorf("%w: github: empty code", ErrGrantExchange)
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: github: %v", ErrGrantExchange, err)
	}
	client := p.oauth.Client(ctx, token)

	var user githubUser
	if err := p.getJSON(ctx, client, "/user", &user); err != nil {
		return Assertion{}, fmt.Errorf("%w: github: %v", ErrGrantExchange, err)
	}
	if user.ID == 0 {
		return Assertion{}, fmt.Errorf("%w: github: profile missing id", ErrGrantExchange)
	}

	email := strings.TrimSpace(user.Email)
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return Assertion{}, fmt.Errorf("%w: github: %v", ErrGrantExchange, err)
		}
		email = primaryEmail(emails)
	}

	displayName := strings.TrimSpace(user.Name)
	if displayName == "" {
		displayName = strings.TrimSpace(user.Login)
	}
	return Assertion{
		Provider:    ProviderGitHub,
		Subject:     strconv.FormatInt(user.ID, 10),
		Email:       email,
		DisplayName: displayName,
		AvatarURL:   strings.TrimSpace(user.AvatarURL),
	}, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, target any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/vnd.github+json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, response.StatusCode)
	}
	return json.NewDecoder(response.Body).Decode(target)
}

func primaryEmail(emails []githubEmail) string {
	for _, candidate := range emails {
		if candidate.Primary && candidate.Verified {
			return strings.TrimSpace(candidate.Email)
		}
	}
	for _, candidate := range emails {
		if candidate.Verified {
			return strings.TrimSpace(candidate.Email)
		}
	}
	return ""
}

var _ Provider = (*GitHubProvider)(nil)
