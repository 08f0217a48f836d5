package auth

import (
	"net"
	"net/http"
	"strings"
)

const (
	HeaderClientID = "X-Client-ID"
	HeaderUserID   = "X-User-ID"

	maxIdentifierLen = 128
)

// Middleware attributes each request to a client. Authentication itself
// happens upstream; this trusts X-User-ID and X-Client-ID set by the proxy
// and otherwise falls back to the remote address (rewritten by chi RealIP).
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), Resolve(r))))
	})
}

// Resolve derives the identity of r.
func Resolve(r *http.Request) *Identity {
	userID := clean(r.Header.Get(HeaderUserID))
	clientID := clean(r.Header.Get(HeaderClientID))

	switch {
	case userID != "":
		return &Identity{ClientKey: "user:" + userID, UserID: userID, FromHeader: true}
	case clientID != "":
		return &Identity{ClientKey: "client:" + clientID, FromHeader: true}
	default:
		return &Identity{ClientKey: "ip:" + remoteHost(r.RemoteAddr)}
	}
}

func clean(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxIdentifierLen {
		v = v[:maxIdentifierLen]
	}
	return v
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
