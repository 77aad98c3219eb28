package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/wisbric/gatewayd/internal/identity"
)

type contextKey string

const (
	identityKey   contextKey = "auth_identity"
	credentialKey contextKey = "auth_credential"
	bootstrapKey  contextKey = "auth_is_bootstrap"
)

// FromContext returns the authenticated identity, or nil if the request was
// authenticated via the bootstrap key (which has no identity of its own).
func FromContext(ctx context.Context) *identity.Identity {
	if v, ok := ctx.Value(identityKey).(identity.Identity); ok {
		return &v
	}
	return nil
}

// CredentialFromContext returns the authenticated credential, if any.
func CredentialFromContext(ctx context.Context) *identity.Credential {
	if v, ok := ctx.Value(credentialKey).(identity.Credential); ok {
		return &v
	}
	return nil
}

// IsBootstrap reports whether the request authenticated via the one-shot
// bootstrap key rather than a hashed credential.
func IsBootstrap(ctx context.Context) bool {
	v, _ := ctx.Value(bootstrapKey).(bool)
	return v
}

// clientIP extracts the client IP from the request, handling X-Forwarded-For.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
