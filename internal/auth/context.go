package auth

import "context"

type contextKey string

const identityContextKey contextKey = "scout_identity"

// Identity is who a request is attributed to for rate limiting and
// persistence. ClientKey is always set; UserID only when the upstream auth
// proxy supplied one.
type Identity struct {
	ClientKey string
	UserID    string
	// FromHeader is true when ClientKey came from X-Client-ID or X-User-ID
	// rather than the remote address.
	FromHeader bool
}

func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok
}
