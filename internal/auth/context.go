package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity returns a context carrying the authenticated identity id.
func ContextWithIdentity(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identityID)
}

// IdentityFromContext extracts the identity id placed by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) (string, bool) {
	identityID, ok := ctx.Value(identityContextKey{}).(string)
	if !ok || identityID == "" {
		return "", false
	}
	return identityID, true
}
