package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/internal/notes"
	"github.com/MarcoPoloResearchLab/jotter/internal/sessions"
	"github.com/MarcoPoloResearchLab/jotter/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingProviders    = errors.New("provider registry dependency required")
	errMissingStateSigner  = errors.New("state signer dependency required")
	errMissingGuard        = errors.New("authentication guard dependency required")
	errMissingSessions     = errors.New("session store dependency required")
	errMissingIdentities   = errors.New("identity resolver dependency required")
	errMissingNotesService = errors.New("notes service dependency required")
	errMissingClientURL    = errors.New("client url required")
	errMissingLoginURL     = errors.New("login url required")
)

// Authenticator resolves the session carried by a request.
type Authenticator interface {
	Authenticate(r *http.Request) (sessions.Session, error)
	CookieName() string
}

// SessionManager issues and destroys sessions.
type SessionManager interface {
	Create(ctx context.Context, identityID string) (sessions.Session, error)
	Destroy(ctx context.Context, token string) error
}

// IdentityResolver maps provider assertions to local identities.
type IdentityResolver interface {
	Resolve(ctx context.Context, assertion auth.Assertion) (users.Identity, error)
	Get(ctx context.Context, identityID string) (users.Identity, error)
}

// StateSigner issues and checks the OAuth state parameter.
type StateSigner interface {
	Issue(provider string) (string, error)
	Validate(state, provider string) error
	TTL() time.Duration
}

// CookieSettings controls the session cookie attributes.
type CookieSettings struct {
	Secure bool
	TTL    time.Duration
}

type Dependencies struct {
	Providers    *auth.ProviderRegistry
	StateSigner  StateSigner
	Guard        Authenticator
	Sessions     SessionManager
	Identities   IdentityResolver
	NotesService *notes.Service
	Metrics      *Metrics
	RateLimiter  *RateLimiter
	HealthCheck  func(ctx context.Context) error
	ClientURL    string
	LoginURL     string
	Cookie       CookieSettings
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Providers == nil:
		return nil, errMissingProviders
	case deps.StateSigner == nil:
		return nil, errMissingStateSigner
	case deps.Guard == nil:
		return nil, errMissingGuard
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Identities == nil:
		return nil, errMissingIdentities
	case deps.NotesService == nil:
		return nil, errMissingNotesService
	}
	clientURL := strings.TrimRight(strings.TrimSpace(deps.ClientURL), "/")
	if clientURL == "" {
		return nil, errMissingClientURL
	}
	loginURL := strings.TrimSpace(deps.LoginURL)
	if loginURL == "" {
		return nil, errMissingLoginURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookie := deps.Cookie
	if cookie.TTL <= 0 {
		cookie.TTL = sessions.DefaultTTL
	}

	handler := &httpHandler{
		providers:    deps.Providers,
		states:       deps.StateSigner,
		guard:        deps.Guard,
		sessions:     deps.Sessions,
		identities:   deps.Identities,
		notesService: deps.NotesService,
		metrics:      deps.Metrics,
		limiter:      deps.RateLimiter,
		healthCheck:  deps.HealthCheck,
		clientURL:    clientURL,
		loginURL:     loginURL,
		cookie:       cookie,
		logger:       logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(clientURL))
	router.Use(handler.logRequest)

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET("/auth/logout", handler.handleLogout)
	router.GET("/auth/current-user", handler.requireSession, handler.rateLimit, handler.handleCurrentUser)
	router.GET("/auth/:provider", handler.handleLogin)
	router.GET("/auth/:provider/callback", handler.handleCallback)

	protected := router.Group("/notes")
	protected.Use(handler.requireSession, handler.rateLimit)
	protected.GET("/", handler.handleListNotes)
	protected.GET("/get/:id", handler.handleGetNote)
	protected.POST("/new", handler.handleCreateNote)
	protected.PUT("/:id", handler.handleUpdateNote)
	protected.DELETE("/:id", handler.handleDeleteNote)

	return router, nil
}

type httpHandler struct {
	providers    *auth.ProviderRegistry
	states       StateSigner
	guard        Authenticator
	sessions     SessionManager
	identities   IdentityResolver
	notesService *notes.Service
	metrics      *Metrics
	limiter      *RateLimiter
	healthCheck  func(ctx context.Context) error
	clientURL    string
	loginURL     string
	cookie       CookieSettings
	logger       *zap.Logger
}

func corsMiddleware(clientURL string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{clientURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// logRequest records one entry and one metric sample per request.
func (h *httpHandler) logRequest(c *gin.Context) {
	started := time.Now()
	c.Next()

	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	latency := time.Since(started)
	status := c.Writer.Status()
	h.metrics.ObserveRequest(c.Request.Method, route, status, latency)
	h.logger.Info("http request",
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.String("identity_id", requestIdentity(c)))
}

// requireSession admits requests with a live session and records the identity on the request.
func (h *httpHandler) requireSession(c *gin.Context) {
	session, err := h.guard.Authenticate(c.Request)
	if err != nil {
		h.rejectUnauthenticated(c)
		return
	}
	c.Request = c.Request.WithContext(auth.ContextWithIdentity(c.Request.Context(), session.IdentityID))
	c.Next()
}

// rejectUnauthenticated sends browsers to the login page and API clients a 401.
func (h *httpHandler) rejectUnauthenticated(c *gin.Context) {
	if acceptsHTML(c.Request) {
		c.Redirect(http.StatusFound, h.loginURL)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
}

func (h *httpHandler) rateLimit(c *gin.Context) {
	if h.limiter == nil {
		c.Next()
		return
	}
	identityID := requestIdentity(c)
	if h.limiter.Allow(identityID) {
		c.Next()
		return
	}
	h.logger.Warn("rate limit exceeded", zap.String("identity_id", identityID))
	c.Header("Retry-After", h.limiter.RetryAfter())
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
}

// requestIdentity returns the identity attached by requireSession, or "".
func requestIdentity(c *gin.Context) string {
	identityID, _ := auth.IdentityFromContext(c.Request.Context())
	return identityID
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}
