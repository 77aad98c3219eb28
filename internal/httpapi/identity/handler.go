// Package identity provides the HTTP surface for identity/credential/grant
// operations: create, list, delete, invite, whoami, and app registration.
package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/httpserver"
	identitysvc "github.com/wisbric/gatewayd/internal/identity"
	"github.com/wisbric/gatewayd/internal/token/stateful"
	"github.com/wisbric/gatewayd/internal/storage"
)

// Handler serves /identity/{create,list,delete,invite,whoami,app/register}.
type Handler struct {
	logger     *slog.Logger
	identities *identitysvc.Service
	tokens     *stateful.Service
}

// NewHandler creates an identity Handler.
func NewHandler(logger *slog.Logger, identities *identitysvc.Service, tokens *stateful.Service) *Handler {
	return &Handler{logger: logger, identities: identities, tokens: tokens}
}

// Routes mounts the identity routes. Create is reachable through the
// bootstrap escape hatch; the middleware itself only lets a bootstrap-
// authenticated request through once, before the first identity exists, so
// no additional gating is required here.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/create", h.handleCreate)
	r.Post("/list", h.handleList)
	r.Post("/delete", h.handleDelete)
	r.Post("/invite", h.handleInvite)
	r.Post("/whoami", h.handleWhoami)
	r.Post("/app/register", h.handleRegisterApp)
	return r
}

type createRequest struct {
	DisplayName string `json:"displayName" validate:"required"`
	Type        string `json:"type"`
	Label       string `json:"label"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var createdBy string
	if ident := auth.FromContext(r.Context()); ident != nil {
		createdBy = ident.ID
	}

	created, err := h.identities.CreateIdentity(r.Context(), identitysvc.CreateIdentityInput{
		DisplayName: req.DisplayName,
		Type:        identitysvc.Type(req.Type),
		CreatedBy:   createdBy,
		Label:       req.Label,
	})
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("creating identity"))
		return
	}
	httpserver.Respond(w, http.StatusOK, createdIdentityResponse(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	idents, err := h.identities.ListIdentities(r.Context())
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("listing identities"))
		return
	}
	resp := make([]identityResp, 0, len(idents))
	for _, i := range idents {
		resp = append(resp, identityResponse(i))
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"identities": resp})
}

type deleteRequest struct {
	IdentityID string `json:"identityId" validate:"required"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	var req deleteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.identities.DeleteIdentity(r.Context(), req.IdentityID); err != nil {
		respondIdentityError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

type inviteRequest struct {
	DisplayName  string              `json:"displayName" validate:"required"`
	Capability   string              `json:"capability" validate:"required"`
	ResourceType string              `json:"resourceType" validate:"required"`
	ResourceID   string              `json:"resourceId" validate:"required"`
	Label        string              `json:"label"`
	TTLSeconds   int64               `json:"ttlSeconds" validate:"required,gt=0"`
}

type inviteResponse struct {
	IdentityID string    `json:"identityId"`
	TokenID    string    `json:"tokenId"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())
	if ident == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	var req inviteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	claimable, err := h.identities.CreateClaimable(r.Context(), identitysvc.CreateClaimableInput{
		DisplayName: req.DisplayName,
		CreatedBy:   ident.ID,
	})
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("creating claimable identity"))
		return
	}

	grant := identitysvc.Grant{
		IdentityID: claimable.ID,
		Capability: req.Capability,
		Source:     "invitation",
		Resources:  []identitysvc.ResourceRef{{Type: req.ResourceType, ID: req.ResourceID}},
		GrantedBy:  ident.ID,
	}
	if err := h.identities.CreateGrant(r.Context(), grant); err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("creating grant"))
		return
	}

	tok, err := h.tokens.CreateIdentityClaim(r.Context(), stateful.CreateIdentityClaimInput{
		IdentityID: claimable.ID,
		CreatedBy:  ident.ID,
		Label:      req.Label,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("issuing claim token"))
		return
	}

	httpserver.Respond(w, http.StatusOK, inviteResponse{
		IdentityID: claimable.ID,
		TokenID:    tok.ID,
		ExpiresAt:  tok.ExpiresAt,
	})
}

func (h *Handler) handleWhoami(w http.ResponseWriter, r *http.Request) {
	ident := auth.FromContext(r.Context())
	if ident == nil {
		httpserver.Respond(w, http.StatusOK, map[string]any{"bootstrap": true})
		return
	}
	httpserver.Respond(w, http.StatusOK, identityResponse(*ident))
}

type registerAppRequest struct {
	Origin       string   `json:"origin" validate:"required"`
	Capabilities []string `json:"capabilities"`
}

func (h *Handler) handleRegisterApp(w http.ResponseWriter, r *http.Request) {
	var req registerAppRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	ident, err := h.identities.RegisterApp(r.Context(), identitysvc.RegisterAppInput{
		Origin:       req.Origin,
		Capabilities: req.Capabilities,
	})
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("registering app"))
		return
	}
	httpserver.Respond(w, http.StatusOK, identityResponse(ident))
}

type identityResp struct {
	ID          string                  `json:"id"`
	Type        string                  `json:"type"`
	DisplayName string                  `json:"displayName"`
	Status      string                  `json:"status"`
	CreatedAt   time.Time               `json:"createdAt"`
	AppConfig   *identitysvc.AppConfig  `json:"appConfig,omitempty"`
}

func identityResponse(i identitysvc.Identity) identityResp {
	return identityResp{
		ID:          i.ID,
		Type:        string(i.Type),
		DisplayName: i.DisplayName,
		Status:      string(i.Status),
		CreatedAt:   i.CreatedAt,
		AppConfig:   i.AppConfig,
	}
}

type createdIdentityResp struct {
	Identity   identityResp `json:"identity"`
	Credential struct {
		Type string `json:"type"`
	} `json:"credential"`
	Secret string `json:"secret"`
}

func createdIdentityResponse(c identitysvc.CreatedIdentity) createdIdentityResp {
	resp := createdIdentityResp{Identity: identityResponse(c.Identity), Secret: c.Secret}
	resp.Credential.Type = string(c.Credential.Type)
	return resp
}

func respondIdentityError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		apierr.RespondError(w, logger, apierr.NotFound("identity not found"))
		return
	}
	apierr.RespondError(w, logger, apierr.Upstream("identity store error"))
}
