package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

type fakeGoogle struct {
	server     *httptest.Server
	privateKey *rsa.PrivateKey
	idClaims   jwt.MapClaims
	omitID     bool
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	fake := &fakeGoogle{privateKey: privateKey}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "valid-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		response := map[string]any{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if !fake.omitID {
			token := jwt.NewWithClaims(jwt.SigningMethodRS256, fake.idClaims)
			token.Header["kid"] = "test-key"
			signed, err := token.SignedString(fake.privateKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			response["id_token"] = signed
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})
	mux.HandleFunc("/certs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []any{map[string]string{
				"kty": "RSA",
				"alg": "RS256",
				"kid": "test-key",
				"use": "sig",
				"n":   encodeBigInt(privateKey.PublicKey.N),
				"e":   encodeBigInt(privateKey.PublicKey.E),
			}},
		})
	})
	fake.server = httptest.NewServer(mux)
	t.Cleanup(fake.server.Close)

	now := time.Now().UTC()
	fake.idClaims = jwt.MapClaims{
		"aud":         "google-client",
		"iss":         "https://accounts.google.com",
		"sub":         "google-sub-1",
		"email":       "grace@example.com",
		"given_name":  "Grace",
		"family_name": "Hopper",
		"picture":     "https://example.com/grace.png",
		"exp":         now.Add(5 * time.Minute).Unix(),
		"iat":         now.Unix(),
	}
	return fake
}

func (f *fakeGoogle) provider(t *testing.T) *GoogleProvider {
	t.Helper()
	provider, err := NewGoogleProvider(GoogleProviderConfig{
		ClientID:     "google-client",
		ClientSecret: "google-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.server.URL + "/auth",
			TokenURL:  f.server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		JWKSURL:    f.server.URL + "/certs",
		HTTPClient: f.server.Client(),
	})
	if err != nil {
		t.Fatalf("failed to construct provider: %v", err)
	}
	return provider
}

func TestGoogleProviderExchangeGrantBuildsAssertion(t *testing.T) {
	fake := newFakeGoogle(t)
	provider := fake.provider(t)

	assertion, err := provider.ExchangeGrant(context.Background(), "valid-code")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if assertion.Provider != ProviderGoogle || assertion.Subject != "google-sub-1" {
		t.Fatalf("unexpected provider identity %#v", assertion)
	}
	if assertion.ProviderID() != "google:google-sub-1" {
		t.Fatalf("unexpected provider id %q", assertion.ProviderID())
	}
	if assertion.Email != "grace@example.com" {
		t.Fatalf("unexpected email %q", assertion.Email)
	}
	if assertion.DisplayName != "Grace Hopper" {
		t.Fatalf("expected display name from given and family names, got %q", assertion.DisplayName)
	}
	if assertion.AvatarURL != "https://example.com/grace.png" {
		t.Fatalf("unexpected avatar %q", assertion.AvatarURL)
	}
}

func TestGoogleProviderExchangeGrantRejectsBadCode(t *testing.T) {
	fake := newFakeGoogle(t)
	provider := fake.provider(t)

	_, err := provider.ExchangeGrant(context.Background(), "denied-code")
	if !errors.Is(err, ErrGrantExchange) {
		t.Fatalf("expected grant exchange error, got %v", err)
	}
}

func TestGoogleProviderExchangeGrantRequiresIDToken(t *testing.T) {
	fake := newFakeGoogle(t)
	fake.omitID = true
	provider := fake.provider(t)

	_, err := provider.ExchangeGrant(context.Background(), "valid-code")
	if !errors.Is(err, ErrGrantExchange) || !strings.Contains(err.Error(), errMissingIDToken.Error()) {
		t.Fatalf("expected missing id token error, got %v", err)
	}
}

func TestGoogleProviderExchangeGrantRejectsForeignAudience(t *testing.T) {
	fake := newFakeGoogle(t)
	fake.idClaims["aud"] = "someone-else"
	provider := fake.provider(t)

	if _, err := provider.ExchangeGrant(context.Background(), "valid-code"); !errors.Is(err, ErrGrantExchange) {
		t.Fatalf("expected audience mismatch to fail the exchange, got %v", err)
	}
}

func TestGoogleProviderAuthCodeURLCarriesState(t *testing.T) {
	fake := newFakeGoogle(t)
	provider := fake.provider(t)

	parsed, err := url.Parse(provider.AuthCodeURL("signed-state"))
	if err != nil {
		t.Fatalf("invalid auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("state") != "signed-state" {
		t.Fatalf("expected state parameter, got %q", query.Get("state"))
	}
	if query.Get("client_id") != "google-client" {
		t.Fatalf("unexpected client id %q", query.Get("client_id"))
	}
	if !strings.Contains(query.Get("scope"), "email") {
		t.Fatalf("expected email scope, got %q", query.Get("scope"))
	}
}

func TestNewGoogleProviderValidatesConfig(t *testing.T) {
	_, err := NewGoogleProvider(GoogleProviderConfig{RedirectURL: "http://localhost/callback"})
	if !errors.Is(err, ErrInvalidProviderConfig) {
		t.Fatalf("expected invalid config for missing client id, got %v", err)
	}
	_, err = NewGoogleProvider(GoogleProviderConfig{ClientID: "client"})
	if !errors.Is(err, ErrInvalidProviderConfig) {
		t.Fatalf("expected invalid config for missing redirect url, got %v", err)
	}
}
