// Package auth implements the gateway's authentication pipeline: bearer
// ApiKey parsing, the bootstrap-key escape hatch, and hashed-credential
// resolution to an active identity.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/telemetry"
)

var apiKeyHeaderPattern = regexp.MustCompile(`^ApiKey ([A-Za-z0-9_-]+)$`)

// Middleware authenticates every request it wraps. The bootstrap path is
// checked before the hashed-credential path; bootstrap key reuse after the
// first identity exists is always rejected. Handlers that must additionally
// gate on IsBootstrap (identity/create, admin checks) do so themselves.
// rateLimiter, if non-nil, is consulted only when the presented secret
// equals the bootstrap key: it counts bootstrap-key presentations rejected
// because an identity already exists, per client IP. A secret that does not
// match the bootstrap key goes to the hashed-credential path and is never
// counted.
func Middleware(identities *identity.Service, bootstrapSecret string, logger *slog.Logger, rateLimiter ...*RateLimiter) func(http.Handler) http.Handler {
	var limiter *RateLimiter
	if len(rateLimiter) > 0 {
		limiter = rateLimiter[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			match := apiKeyHeaderPattern.FindStringSubmatch(r.Header.Get("Authorization"))
			if match == nil {
				fail(w, logger, "malformed_auth_header")
				return
			}
			authenticate(w, r, next, identities, bootstrapSecret, logger, limiter, match[1])
		})
	}
}

// OptionalMiddleware runs the same bootstrap/hashed-credential resolution as
// Middleware, but only when an Authorization header is present at all: a
// request with none is passed through unauthenticated rather than rejected.
// A present-but-invalid header still fails the request. Routes that mix
// public and identity-bound callers (channel append/read/delete-event,
// token revoke/list) wrap with this and check auth.FromContext themselves.
func OptionalMiddleware(identities *identity.Service, bootstrapSecret string, logger *slog.Logger, rateLimiter ...*RateLimiter) func(http.Handler) http.Handler {
	var limiter *RateLimiter
	if len(rateLimiter) > 0 {
		limiter = rateLimiter[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				next.ServeHTTP(w, r)
				return
			}
			match := apiKeyHeaderPattern.FindStringSubmatch(r.Header.Get("Authorization"))
			if match == nil {
				fail(w, logger, "malformed_auth_header")
				return
			}
			authenticate(w, r, next, identities, bootstrapSecret, logger, limiter, match[1])
		})
	}
}

func authenticate(w http.ResponseWriter, r *http.Request, next http.Handler, identities *identity.Service, bootstrapSecret string, logger *slog.Logger, limiter *RateLimiter, secret string) {
	ctx := r.Context()

	if bootstrapSecret != "" && secret == bootstrapSecret {
		ip := clientIP(r)
		if limiter != nil {
			res, err := limiter.Check(ctx, ip)
			if err != nil {
				apierr.RespondError(w, logger, apierr.Upstream("checking rate limit"))
				return
			}
			if !res.Allowed {
				fail(w, logger, "bootstrap_rate_limited")
				return
			}
		}

		exists, err := identities.HasAnyIdentity(ctx)
		if err != nil {
			apierr.RespondError(w, logger, apierr.Upstream("checking bootstrap eligibility"))
			return
		}
		if exists {
			if limiter != nil {
				_ = limiter.Record(ctx, ip)
			}
			fail(w, logger, "bootstrap_key_locked_out")
			return
		}
		if limiter != nil {
			_ = limiter.Reset(ctx, ip)
		}
		ctx = context.WithValue(ctx, bootstrapKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	hash := identity.HashSecret(secret)
	cred, err := identities.GetCredentialByHash(ctx, hash)
	if err != nil {
		fail(w, logger, "unknown_credential")
		return
	}
	if cred.Status != identity.CredentialActive {
		fail(w, logger, "revoked_credential")
		return
	}
	if cred.ExpiresAt != nil && cred.ExpiresAt.Before(time.Now()) {
		fail(w, logger, "expired_credential")
		return
	}

	ident, err := identities.GetIdentity(ctx, cred.IdentityID)
	if err != nil {
		fail(w, logger, "identity_not_found")
		return
	}
	if ident.Status != identity.StatusActive {
		fail(w, logger, "inactive_identity")
		return
	}

	ctx = context.WithValue(ctx, identityKey, ident)
	ctx = context.WithValue(ctx, credentialKey, cred)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func fail(w http.ResponseWriter, logger *slog.Logger, reason string) {
	telemetry.AuthFailuresTotal.WithLabelValues(reason).Inc()
	apierr.RespondError(w, logger, apierr.Unauthorized("missing or invalid credentials"))
}
