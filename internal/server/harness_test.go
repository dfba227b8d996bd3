package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/internal/database"
	"github.com/MarcoPoloResearchLab/jotter/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/internal/sessions"
	"github.com/MarcoPoloResearchLab/jotter/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testClientURL      = "http://localhost:5173"
	testLoginURL       = "http://localhost:5173/login"
	testCookieName     = "jotter_session"
	testStateSecret    = "state-secret"
	testGrantCode      = "good-code"
	testProviderGoogle = "google"
	testProviderGitHub = "github"
)

type fakeProvider struct {
	name       string
	assertions map[string]auth.Assertion
}

func (p *fakeProvider) Name() string {
	return p.name
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example/" + p.name + "/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) ExchangeGrant(_ context.Context, code string) (auth.Assertion, error) {
	assertion, ok := p.assertions[code]
	if !ok {
		return auth.Assertion{}, fmt.Errorf("%w: unknown code", auth.ErrGrantExchange)
	}
	return assertion, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testHarness struct {
	handler    http.Handler
	db         *gorm.DB
	clock      *testClock
	sessions   *sessions.DatabaseStore
	identities *users.Service
	google     *fakeProvider
	github     *fakeProvider
	metrics    *Metrics
}

type harnessOptions struct {
	rateLimiter *RateLimiter
	healthCheck func(ctx context.Context) error
	logger      *zap.Logger
}

func newTestHarness(t *testing.T, options harnessOptions) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })

	clock := &testClock{now: time.Now().UTC()}
	sessionStore, err := sessions.NewDatabaseStore(sessions.DatabaseStoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	identities, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create identity service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db, IDProvider: notes.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to create notes service: %v", err)
	}
	guard, err := auth.NewGuard(auth.GuardConfig{Sessions: sessionStore, CookieName: testCookieName})
	if err != nil {
		t.Fatalf("failed to create guard: %v", err)
	}
	signer, err := auth.NewStateSigner(auth.StateSignerConfig{SigningSecret: []byte(testStateSecret)})
	if err != nil {
		t.Fatalf("failed to create state signer: %v", err)
	}

	google := &fakeProvider{name: testProviderGoogle, assertions: map[string]auth.Assertion{
		testGrantCode: {Provider: testProviderGoogle, Subject: "g-1", Email: "ada@example.com", DisplayName: "Ada Lovelace", GivenName: "Ada", FamilyName: "Lovelace"},
	}}
	github := &fakeProvider{name: testProviderGitHub, assertions: map[string]auth.Assertion{
		testGrantCode: {Provider: testProviderGitHub, Subject: "7", Email: "ada@example.com", DisplayName: "ada"},
	}}
	registry, err := auth.NewProviderRegistry(google, github)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	metrics := NewMetrics()
	handler, err := NewHTTPHandler(Dependencies{
		Providers:    registry,
		StateSigner:  signer,
		Guard:        guard,
		Sessions:     sessionStore,
		Identities:   identities,
		NotesService: notesService,
		Metrics:      metrics,
		RateLimiter:  options.rateLimiter,
		HealthCheck:  options.healthCheck,
		ClientURL:    testClientURL,
		LoginURL:     testLoginURL,
		Cookie:       CookieSettings{TTL: sessions.DefaultTTL},
		Logger:       options.logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testHarness{
		handler:    handler,
		db:         db,
		clock:      clock,
		sessions:   sessionStore,
		identities: identities,
		google:     google,
		github:     github,
		metrics:    metrics,
	}
}

// signIn creates an identity and a session directly and returns the session cookie.
func (h *testHarness) signIn(t *testing.T, subject string) (*http.Cookie, users.Identity) {
	t.Helper()
	identity, err := h.identities.Resolve(context.Background(), auth.Assertion{
		Provider: testProviderGoogle,
		Subject:  subject,
		Email:    subject + "@example.com",
	})
	if err != nil {
		t.Fatalf("failed to resolve identity: %v", err)
	}
	session, err := h.sessions.Create(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: session.Token}, identity
}

func (h *testHarness) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Accept", "application/json")
	for _, cookie := range cookies {
		if cookie != nil {
			request.AddCookie(cookie)
		}
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func findCookie(recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func redirectError(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", recorder.Code, recorder.Body.String())
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	if !strings.HasPrefix(location.String(), testLoginURL) {
		t.Fatalf("expected redirect to login, got %s", location)
	}
	return location.Query().Get("error")
}

var errHealthProbe = errors.New("database unreachable")
