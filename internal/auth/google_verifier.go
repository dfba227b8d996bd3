package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultKeySetTTL        = time.Hour
	defaultKeyRefreshWindow = 30 * time.Second
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var (
	// ErrInvalidProviderConfig reports a provider or verifier constructed with incomplete settings.
	ErrInvalidProviderConfig = errors.New("auth: invalid provider config")
	// ErrInvalidIDToken wraps every reason an ID token is refused.
	ErrInvalidIDToken = errors.New("auth: invalid id token")

	errEmptyIDToken     = errors.New("id token is empty")
	errMissingKeyID     = errors.New("id token header carries no kid")
	errUnknownKeyID     = errors.New("no published key matches kid")
	errIssuerNotAllowed = errors.New("issuer not allowed")
	errMissingSubject   = errors.New("subject claim missing")
	errMissingAudience  = errors.New("audience configuration required")
	errMissingJWKSURL   = errors.New("jwks url configuration required")
	errNoUsableKeys     = errors.New("jwks document carried no usable rsa keys")
)

// GoogleVerifierConfig configures a GoogleVerifier. Audience is the OAuth client id.
type GoogleVerifierConfig struct {
	Audience   string
	JWKSURL    string
	HTTPClient *http.Client
	// KeySetTTL bounds how long fetched keys are trusted before a refetch.
	KeySetTTL time.Duration
	Logger    *zap.Logger
	Clock     func() time.Time
}

// GoogleClaims is the verified profile carried by a Google ID token.
type GoogleClaims struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}

type googleTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// GoogleVerifier checks RS256 ID tokens against Google's published key set.
type GoogleVerifier struct {
	parser  *jwt.Parser
	keys    *keySet
	issuers map[string]struct{}
}

// NewGoogleVerifier builds a verifier bound to one OAuth client id.
func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingAudience)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProviderConfig, errMissingJWKSURL)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.KeySetTTL
	if ttl <= 0 {
		ttl = defaultKeySetTTL
	}

	issuers := make(map[string]struct{}, len(googleIssuers))
	for _, issuer := range googleIssuers {
		issuers[issuer] = struct{}{}
	}

	return &GoogleVerifier{
		parser: jwt.NewParser(
			jwt.WithAudience(audience),
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithTimeFunc(clock),
		),
		keys: &keySet{
			url:           jwksURL,
			client:        httpClient,
			ttl:           ttl,
			refreshWindow: defaultKeyRefreshWindow,
			clock:         clock,
			logger:        logger,
		},
		issuers: issuers,
	}, nil
}

// Verify returns the profile of a valid token or an error wrapping ErrInvalidIDToken.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleClaims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errEmptyIDToken)
	}

	claims := &googleTokenClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		keyID, _ := token.Header["kid"].(string)
		if keyID == "" {
			return nil, errMissingKeyID
		}
		return v.keys.key(ctx, keyID)
	})
	if err != nil {
		return GoogleClaims{}, fmt.Errorf("%w: %w", ErrInvalidIDToken, err)
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return GoogleClaims{}, fmt.Errorf("%w: %v %q", ErrInvalidIDToken, errIssuerNotAllowed, claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return GoogleClaims{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errMissingSubject)
	}

	return GoogleClaims{
		Subject:       claims.Subject,
		Email:         strings.TrimSpace(claims.Email),
		EmailVerified: claims.EmailVerified,
		Name:          strings.TrimSpace(claims.Name),
		GivenName:     strings.TrimSpace(claims.GivenName),
		FamilyName:    strings.TrimSpace(claims.FamilyName),
		Picture:       strings.TrimSpace(claims.Picture),
	}, nil
}

// keySet caches a JWKS document. An unknown kid forces a refetch at most once per refreshWindow.
type keySet struct {
	url           string
	client        *http.Client
	ttl           time.Duration
	refreshWindow time.Duration
	clock         func() time.Time
	logger        *zap.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (s *keySet) key(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	fresh := s.keys != nil && now.Sub(s.fetchedAt) < s.ttl
	if fresh {
		if key, ok := s.keys[keyID]; ok {
			return key, nil
		}
		if now.Sub(s.fetchedAt) < s.refreshWindow {
			return nil, errUnknownKeyID
		}
	}

	keys, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.keys = keys
	s.fetchedAt = now

	key, ok := keys[keyID]
	if !ok {
		return nil, errUnknownKeyID
	}
	return key, nil
}

func (s *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: status %d", response.StatusCode)
	}

	var document struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, webKey := range document.Keys {
		if webKey.KeyType != "RSA" || (webKey.Use != "" && webKey.Use != "sig") || webKey.KeyID == "" {
			continue
		}
		publicKey, err := webKey.rsaPublicKey()
		if err != nil {
			s.logger.Warn("jwks key skipped", zap.String("kid", webKey.KeyID), zap.Error(err))
			continue
		}
		keys[webKey.KeyID] = publicKey
	}
	if len(keys) == 0 {
		return nil, errNoUsableKeys
	}
	return keys, nil
}

type jsonWebKey struct {
	KeyType  string `json:"kty"`
	KeyID    string `json:"kid"`
	Use      string `json:"use"`
	Modulus  string `json:"n"`
	Exponent string `json:"e"`
}

func (k jsonWebKey) rsaPublicKey() (*rsa.PublicKey, error) {
	modulus, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil || len(modulus) == 0 {
		return nil, fmt.Errorf("modulus: %v", err)
	}
	exponent, err := base64.RawURLEncoding.DecodeString(k.Exponent)
	if err != nil || len(exponent) == 0 {
		return nil, fmt.Errorf("exponent: %v", err)
	}
	e := new(big.Int).SetBytes(exponent)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, errors.New("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(modulus), E: int(e.Int64())}, nil
}
