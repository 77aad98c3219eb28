package auth

import (
	"net/http"

	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
)

// RequireIdentity rejects requests authenticated only via the bootstrap key;
// it gates every route except identity/create and the admin-check routes,
// which inspect IsBootstrap themselves.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			apierr.RespondError(w, nil, apierr.Unauthorized("this endpoint requires an identity-bound credential"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
