package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/jotter/internal/sessions"
	"go.uber.org/zap"
)

var (
	// ErrAuthenticationRequired is returned when a request carries no live session.
	ErrAuthenticationRequired = errors.New("auth: authentication required")

	errMissingSessionResolver = errors.New("auth: session resolver required")
	errMissingCookieName      = errors.New("auth: session cookie name required")
)

// SessionResolver resolves a client-held token to its session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (sessions.Session, error)
}

// GuardConfig describes the collaborators of a Guard.
type GuardConfig struct {
	Sessions   SessionResolver
	CookieName string
	Logger     *zap.Logger
}

// Guard resolves the session cookie of every request; it keeps no state between requests.
type Guard struct {
	sessions   SessionResolver
	cookieName string
	logger     *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Sessions == nil {
		return nil, errMissingSessionResolver
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, errMissingCookieName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{sessions: cfg.Sessions, cookieName: cookieName, logger: logger}, nil
}

// CookieName returns the cookie carrying the session token.
func (g *Guard) CookieName() string {
	return g.cookieName
}

// Authenticate returns the live session of the request or ErrAuthenticationRequired.
func (g *Guard) Authenticate(r *http.Request) (sessions.Session, error) {
	if r == nil {
		return sessions.Session{}, ErrAuthenticationRequired
	}
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie == nil || strings.TrimSpace(cookie.Value) == "" {
		return sessions.Session{}, ErrAuthenticationRequired
	}

	session, err := g.sessions.Resolve(context.WithoutCancel(r.Context()), cookie.Value)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			g.logger.Debug("session not resolved", zap.Error(err))
		} else {
			g.logger.Error("session lookup failed", zap.Error(err))
		}
		return sessions.Session{}, fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
	}
	return session, nil
}
