// Package channeltoken provides the HTTP surface for stateful tokens: the
// opaque, KV-backed tokens behind identity-claim invites and gateway-
// terminated presigned blob access. Despite the package name, it is not
// limited to channel capability tokens — those are minted and verified
// inline by the channel package; this package fronts the shared stateful
// token lifecycle (lookup, claim, revoke, list).
package channeltoken

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/httpserver"
	"github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/telemetry"
	"github.com/wisbric/gatewayd/internal/token/stateful"
	"github.com/wisbric/gatewayd/internal/storage"
)

// Handler serves /token/{lookup,claim,revoke,list}.
type Handler struct {
	logger     *slog.Logger
	tokens     *stateful.Service
	identities *identity.Service
}

// NewHandler creates a stateful-token Handler. identities may be nil in
// tests that only exercise blob_access tokens; claiming an identity_claim
// token against a nil identities marks the token used without activating
// the identity.
func NewHandler(logger *slog.Logger, tokens *stateful.Service, identities *identity.Service) *Handler {
	return &Handler{logger: logger, tokens: tokens, identities: identities}
}

// Routes mounts the token routes. Claim is reachable without an identity
// credential — that is the point of a claimable invite or a presigned
// access token handed to a third party. Used directly by tests; production
// wiring goes through Mount instead.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/lookup", h.handleLookup)
	r.Post("/claim", h.handleClaim)
	r.Post("/revoke", h.handleRevoke)
	r.Post("/list", h.handleList)
	return r
}

// Mount wires all /token routes onto parent: lookup and claim run ahead of
// authMW since neither requires or inspects an identity credential. Revoke
// and list run behind authMW, which must be an optional middleware
// (auth.OptionalMiddleware) — both handlers gate on auth.FromContext
// themselves rather than relying on the middleware to reject.
func (h *Handler) Mount(parent chi.Router, authMW func(http.Handler) http.Handler) {
	parent.Route("/token", func(r chi.Router) {
		r.Post("/lookup", h.handleLookup)
		r.Post("/claim", h.handleClaim)
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Post("/revoke", h.handleRevoke)
			r.Post("/list", h.handleList)
		})
	})
}

type tokenIDRequest struct {
	TokenID string `json:"tokenId" validate:"required"`
}

func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req tokenIDRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	tok, err := h.tokens.Lookup(r.Context(), req.TokenID)
	if err != nil {
		respondTokenError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, tokenResponse(tok))
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req tokenIDRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	tok, err := h.tokens.Claim(r.Context(), req.TokenID)
	if err != nil {
		outcome := "lost"
		if errors.Is(err, stateful.ErrExpiredOrUsed) {
			outcome = "invalid"
		}
		telemetry.StatefulTokenClaimsTotal.WithLabelValues(string(tok.Action), outcome).Inc()
		respondTokenError(w, h.logger, err)
		return
	}
	telemetry.StatefulTokenClaimsTotal.WithLabelValues(string(tok.Action), "won").Inc()

	resp := tokenResponse(tok)
	if tok.Action == stateful.ActionIdentityClaim && h.identities != nil {
		claimed, err := h.identities.ActivateClaimed(r.Context(), tok.IdentityID)
		if err != nil {
			if h.logger != nil {
				h.logger.Error("activating claimed identity", "identityId", tok.IdentityID, "error", err)
			}
		} else {
			resp.Identity = &claimedIdentityResp{
				ID:          claimed.Identity.ID,
				DisplayName: claimed.Identity.DisplayName,
				Secret:      claimed.Secret,
			}
		}
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req tokenIDRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	if err := h.tokens.Revoke(r.Context(), req.TokenID); err != nil {
		respondTokenError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())
	if ident == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	toks, err := h.tokens.ListCreatedBy(r.Context(), ident.ID)
	if err != nil {
		respondTokenError(w, h.logger, err)
		return
	}
	resp := make([]tokenResp, 0, len(toks))
	for _, tok := range toks {
		resp = append(resp, tokenResponse(tok))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"tokens": resp})
}

type tokenResp struct {
	ID         string               `json:"id"`
	Action     string               `json:"action"`
	State      string               `json:"state"`
	Label      string               `json:"label,omitempty"`
	IdentityID string               `json:"identityId,omitempty"`
	ExpiresAt  string               `json:"expiresAt"`
	Identity   *claimedIdentityResp `json:"identity,omitempty"`
}

// claimedIdentityResp carries the one-time credential secret minted when a
// claim request activates an identity_claim token's claimable identity.
type claimedIdentityResp struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Secret      string `json:"secret"`
}

func tokenResponse(tok stateful.Token) tokenResp {
	return tokenResp{
		ID:         tok.ID,
		Action:     string(tok.Action),
		State:      string(tok.State),
		Label:      tok.Label,
		IdentityID: tok.IdentityID,
		ExpiresAt:  tok.ExpiresAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
}

func respondTokenError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		apierr.RespondError(w, logger, apierr.NotFound("token not found"))
	case errors.Is(err, stateful.ErrExpiredOrUsed):
		apierr.RespondError(w, logger, apierr.Unauthorized("token expired, used, or revoked"))
	case errors.Is(err, stateful.ErrClaimLost):
		apierr.RespondError(w, logger, apierr.Conflict("token already claimed"))
	default:
		apierr.RespondError(w, logger, apierr.Upstream("token store error"))
	}
}
