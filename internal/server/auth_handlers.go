package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/jotter/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	stateCookieName = "jotter_oauth_state"
	stateCookiePath = "/auth"
	notesPath       = "/notes/"

	reasonAuthorizationDenied = "authorization_denied"
	reasonInvalidState        = "invalid_state"
	reasonMissingCode         = "missing_code"
	reasonGrantExchange       = "grant_exchange_failed"
	reasonIdentityCreation    = "identity_creation_failed"
	reasonSessionCreation     = "session_creation_failed"
	reasonUnknownProvider     = "unknown_provider"
)

func (h *httpHandler) handleLogin(c *gin.Context) {
	provider, err := h.providers.Lookup(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": reasonUnknownProvider})
		return
	}

	state, err := h.states.Issue(provider.Name())
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   int(h.states.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

func (h *httpHandler) handleCallback(c *gin.Context) {
	provider, err := h.providers.Lookup(c.Param("provider"))
	if err != nil {
		h.redirectLoginFailure(c, "", reasonUnknownProvider)
		return
	}
	providerName := provider.Name()

	stateCookie, _ := c.Cookie(stateCookieName)
	h.clearCookie(c, stateCookieName, stateCookiePath)

	if denial := strings.TrimSpace(c.Query("error")); denial != "" {
		h.logger.Warn("authorization denied by provider",
			zap.String("provider", providerName),
			zap.String("provider_error", denial))
		h.redirectLoginFailure(c, providerName, reasonAuthorizationDenied)
		return
	}

	state := c.Query("state")
	if stateCookie == "" || state != stateCookie {
		h.logger.Warn("oauth state mismatch", zap.String("provider", providerName))
		h.redirectLoginFailure(c, providerName, reasonInvalidState)
		return
	}
	if err := h.states.Validate(state, providerName); err != nil {
		h.logger.Warn("oauth state rejected", zap.String("provider", providerName), zap.Error(err))
		h.redirectLoginFailure(c, providerName, reasonInvalidState)
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		h.redirectLoginFailure(c, providerName, reasonMissingCode)
		return
	}

	assertion, err := provider.ExchangeGrant(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("grant exchange failed", zap.String("provider", providerName), zap.Error(err))
		h.redirectLoginFailure(c, providerName, reasonGrantExchange)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	identity, err := h.identities.Resolve(ctx, assertion)
	if err != nil {
		if errors.Is(err, users.ErrInvalidAssertion) {
			h.logger.Warn("provider assertion rejected", zap.String("provider", providerName), zap.Error(err))
		} else {
			h.logger.Error("identity resolution failed", zap.String("provider", providerName), zap.Error(err))
		}
		h.redirectLoginFailure(c, providerName, reasonIdentityCreation)
		return
	}

	session, err := h.sessions.Create(ctx, identity.ID)
	if err != nil {
		h.logger.Error("session creation failed",
			zap.String("provider", providerName),
			zap.String("identity_id", identity.ID),
			zap.Error(err))
		h.redirectLoginFailure(c, providerName, reasonSessionCreation)
		return
	}
	h.destroyPreviousSession(ctx, c, identity.ID)

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.guard.CookieName(),
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(h.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.metrics.ObserveLogin(providerName, "success")
	h.logger.Info("login succeeded", zap.String("provider", providerName), zap.String("identity_id", identity.ID))
	c.Redirect(http.StatusFound, h.clientURL+notesPath)
}

// destroyPreviousSession drops the session the browser held before this login.
func (h *httpHandler) destroyPreviousSession(ctx context.Context, c *gin.Context, identityID string) {
	previous, err := c.Cookie(h.guard.CookieName())
	if err != nil || strings.TrimSpace(previous) == "" {
		return
	}
	if err := h.sessions.Destroy(ctx, previous); err != nil {
		h.logger.Warn("previous session cleanup failed", zap.String("identity_id", identityID), zap.Error(err))
	}
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	identityID, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		h.rejectUnauthenticated(c)
		return
	}
	identity, err := h.identities.Get(context.WithoutCancel(c.Request.Context()), identityID)
	if errors.Is(err, users.ErrIdentityNotFound) {
		h.logger.Warn("session references missing identity", zap.String("identity_id", identityID))
		h.rejectUnauthenticated(c)
		return
	}
	if err != nil {
		h.logger.Error("identity lookup failed", zap.String("identity_id", identityID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": identity})
}

// handleLogout destroys the session when one is presented and always clears the cookie.
func (h *httpHandler) handleLogout(c *gin.Context) {
	cookieName := h.guard.CookieName()
	if token, err := c.Cookie(cookieName); err == nil && strings.TrimSpace(token) != "" {
		if err := h.sessions.Destroy(context.WithoutCancel(c.Request.Context()), token); err != nil {
			h.logger.Error("session destroy failed", zap.Error(err))
		}
	}
	h.clearCookie(c, cookieName, "/")
	c.Redirect(http.StatusFound, h.loginURL)
}

func (h *httpHandler) redirectLoginFailure(c *gin.Context, provider, reason string) {
	if provider != "" {
		h.metrics.ObserveLogin(provider, reason)
	}
	target, err := url.Parse(h.loginURL)
	if err != nil {
		c.Redirect(http.StatusFound, h.loginURL)
		return
	}
	query := target.Query()
	query.Set("error", reason)
	target.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, target.String())
}

func (h *httpHandler) clearCookie(c *gin.Context, name, path string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
