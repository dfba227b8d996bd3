// Package sessions persists opaque session tokens and resolves them back to identities.
package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is the lifetime of a session measured from its creation.
const DefaultTTL = 24 * time.Hour

const tokenByteLength = 32

var (
	// ErrSessionNotFound is returned for unknown, empty and expired tokens alike.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrMissingIdentity indicates a session was requested without an identity id.
	ErrMissingIdentity = errors.New("sessions: identity id required")
	// ErrStoreUnavailable wraps failures of the backing store.
	ErrStoreUnavailable = errors.New("sessions: store unavailable")
)

// Session binds a client-held token to an identity until ExpiresAt.
// Token is only populated on the value returned by Create.
type Session struct {
	Token      string
	IdentityID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session is no longer valid at the given instant.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store creates, resolves and destroys sessions.
type Store interface {
	Create(ctx context.Context, identityID string) (Session, error)
	Resolve(ctx context.Context, token string) (Session, error)
	Destroy(ctx context.Context, token string) error
}

func newToken() (string, error) {
	buffer := make([]byte, tokenByteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// hashToken derives the storage key so persisted records never carry live credentials.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeToken(token string) string {
	return strings.TrimSpace(token)
}
