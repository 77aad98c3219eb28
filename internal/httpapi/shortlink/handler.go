// Package shortlink provides the HTTP surface for redirect short links:
// POST /short, GET /s/:id, DELETE /short/:id.
package shortlink

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/gatewayd/internal/auth"
	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/httpserver"
	"github.com/wisbric/gatewayd/internal/idgen"
	"github.com/wisbric/gatewayd/internal/storage"
)

// Handler serves the authenticated short-link create/delete routes. The
// public redirect route (GET /s/:id) is mounted separately, before the auth
// middleware, via RedirectRoutes.
type Handler struct {
	logger *slog.Logger
	links  storage.ShortLinkStore
}

// NewHandler creates a shortlink Handler.
func NewHandler(logger *slog.Logger, links storage.ShortLinkStore) *Handler {
	return &Handler{logger: logger, links: links}
}

// Routes mounts the authenticated create/delete routes under /short.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Delete("/{id}", h.handleDelete)
	return r
}

// RedirectRoutes mounts the public GET /s/:id redirect route, intended to be
// registered before the auth middleware.
func (h *Handler) RedirectRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{id}", h.handleRedirect)
	return r
}

type createRequest struct {
	TargetURL string `json:"targetUrl" validate:"required,url"`
}

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := idgen.ShortLinkID()
	link, err := h.links.Create(r.Context(), id, req.TargetURL)
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("creating short link"))
		return
	}
	httpserver.Respond(w, http.StatusOK, createResponse{ID: link.ID, URL: "/s/" + link.ID})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		apierr.RespondError(w, h.logger, apierr.Unauthorized("identity-bound credential required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.links.Delete(r.Context(), id); err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("deleting short link"))
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	link, ok, err := h.links.Resolve(r.Context(), id)
	if err != nil {
		apierr.RespondError(w, h.logger, apierr.Upstream("resolving short link"))
		return
	}
	if !ok {
		apierr.RespondError(w, h.logger, apierr.NotFound("short link not found"))
		return
	}
	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}
